package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer

	r := gin.New()
	r.Use(RequestID(), RequestLogger(zerolog.New(&buf)))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/error", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fail"})
	})

	t.Run("successful request", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test?sn=K1S-A100", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		if !strings.Contains(buf.String(), `"level":"info"`) {
			t.Errorf("expected info level, got %s", buf.String())
		}
		if !strings.Contains(buf.String(), "sn=K1S-A100") {
			t.Errorf("expected query in log, got %s", buf.String())
		}
	})

	t.Run("server error request", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/error", nil)
		r.ServeHTTP(w, req)

		if !strings.Contains(buf.String(), `"level":"error"`) {
			t.Errorf("expected error level, got %s", buf.String())
		}
	})

	t.Run("sensitive query redacted", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test?token=abc123", nil)
		r.ServeHTTP(w, req)

		if strings.Contains(buf.String(), "abc123") {
			t.Errorf("expected token to be redacted, got %s", buf.String())
		}
	})
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(string(RequestIDContextKey)))
	})

	t.Run("generated when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		r.ServeHTTP(w, req)

		id := w.Header().Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("expected uuid request id, got %q", id)
		}
		if w.Body.String() != id {
			t.Errorf("expected context id %q, got %q", id, w.Body.String())
		}
	})

	t.Run("inbound id reused", func(t *testing.T) {
		inbound := uuid.NewString()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, inbound)
		r.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); got != inbound {
			t.Errorf("expected %q, got %q", inbound, got)
		}
	})

	t.Run("malformed id replaced", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		r.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); got == "<script>" {
			t.Error("expected malformed id to be replaced")
		}
	})
}
