package health

import (
	"fmt"
	"time"
)

// Status grades a sample.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Thresholds are usage percentages at which a resource is graded.
type Thresholds struct {
	DiskWarning    float64
	DiskCritical   float64
	MemoryWarning  float64
	MemoryCritical float64
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DiskWarning:    80.0,
		DiskCritical:   90.0,
		MemoryWarning:  85.0,
		MemoryCritical: 95.0,
	}
}

// Issue is one resource over a threshold.
type Issue struct {
	Component string  `json:"component"`
	Severity  Status  `json:"severity"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Result is a graded sample.
type Result struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Issues    []Issue   `json:"issues,omitempty"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker grades samples.
type Checker struct {
	thresholds Thresholds
}

// NewChecker creates a checker with the given thresholds.
func NewChecker(thresholds Thresholds) *Checker {
	return &Checker{thresholds: thresholds}
}

// Evaluate grades m. A nil sample is unknown.
func (c *Checker) Evaluate(m *Metrics) *Result {
	res := &Result{Status: StatusHealthy, Metrics: m, CheckedAt: time.Now().UTC()}
	if m == nil {
		res.Status = StatusUnknown
		res.Message = "No metrics available"
		return res
	}

	c.grade(res, "disk", m.DiskUsage, c.thresholds.DiskWarning, c.thresholds.DiskCritical)
	c.grade(res, "memory", m.MemoryUsage, c.thresholds.MemoryWarning, c.thresholds.MemoryCritical)

	switch {
	case len(res.Issues) == 0:
		res.Message = "All resources within limits"
	case res.Status == StatusCritical:
		res.Message = fmt.Sprintf("%d critical issue(s)", countSeverity(res.Issues, StatusCritical))
	default:
		res.Message = fmt.Sprintf("%d warning(s)", len(res.Issues))
	}
	return res
}

func (c *Checker) grade(res *Result, component string, value, warning, critical float64) {
	switch {
	case critical > 0 && value >= critical:
		res.Issues = append(res.Issues, Issue{
			Component: component,
			Severity:  StatusCritical,
			Message:   fmt.Sprintf("%s usage critically high", component),
			Value:     value,
			Threshold: critical,
		})
		res.Status = StatusCritical
	case warning > 0 && value >= warning:
		res.Issues = append(res.Issues, Issue{
			Component: component,
			Severity:  StatusWarning,
			Message:   fmt.Sprintf("%s usage high", component),
			Value:     value,
			Threshold: warning,
		})
		if res.Status == StatusHealthy {
			res.Status = StatusWarning
		}
	}
}

func countSeverity(issues []Issue, s Status) int {
	n := 0
	for _, i := range issues {
		if i.Severity == s {
			n++
		}
	}
	return n
}
