package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/kaonic/k1serial/internal/client"
	"github.com/spf13/cobra"
)

const defaultActor = "k1serialctl"

func newAdminCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer key registrations and queues",
		Long: `Administer key registrations and the server-side upload queue.
Requires an admin token, set with 'k1serialctl config set admin_token <token>'
or the K1SERIAL_ADMIN_TOKEN environment variable.`,
	}

	cmd.AddCommand(
		newAdminListCmd(opts),
		newAdminSummaryCmd(opts),
		newAdminDecideCmd(opts, "approve", "Approve a pending registration"),
		newAdminDecideCmd(opts, "deny", "Deny a pending registration"),
		newAdminDecideCmd(opts, "revoke", "Revoke an approved registration"),
		newAdminQueueCmd(opts),
		newAdminQueueResetCmd(opts),
		newAdminBatchCmd(opts),
		newAdminWatchCmd(opts),
	)
	return cmd
}

func (o *globalOptions) adminClient() (*client.Client, error) {
	api, cfg, err := o.client()
	if err != nil {
		return nil, err
	}
	if cfg.AdminToken == "" {
		return nil, errors.New("admin token is not configured")
	}
	return api, nil
}

func newAdminListCmd(opts *globalOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registration requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.adminClient()
			if err != nil {
				return err
			}
			regs, err := api.ListRegistrations(cmd.Context(), status)
			if err != nil {
				return err
			}
			if len(regs) == 0 {
				fmt.Println("No registration requests.")
				return nil
			}

			fmt.Printf("%-6s %-28s %-10s %-17s %s\n", "ID", "FACTORY", "STATUS", "CREATED", "DECIDED BY")
			for _, r := range regs {
				by := "-"
				if r.ApprovedBy != nil {
					by = *r.ApprovedBy
				}
				fmt.Printf("%-6d %-28s %-10s %-17s %s\n", r.ID, r.FactoryName, r.Status,
					r.CreatedAt.Local().Format("2006-01-02 15:04"), by)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, approved, denied, revoked)")
	return cmd
}

func newAdminSummaryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count registration requests by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.adminClient()
			if err != nil {
				return err
			}
			regs, err := api.ListRegistrations(cmd.Context(), "")
			if err != nil {
				return err
			}

			counts := make(map[string]int)
			for _, r := range regs {
				counts[r.Status]++
			}
			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)

			fmt.Printf("Total: %d\n", len(regs))
			for _, s := range statuses {
				fmt.Printf("  %-10s %d\n", s, counts[s])
			}
			return nil
		},
	}
}

var decisionPastTense = map[string]string{
	"approve": "approved",
	"deny":    "denied",
	"revoke":  "revoked",
}

func newAdminDecideCmd(opts *globalOptions, action, short string) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   action + " <request-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid request id %q", args[0])
			}
			api, err := opts.adminClient()
			if err != nil {
				return err
			}
			if err := api.Decide(cmd.Context(), action, id, actor); err != nil {
				return err
			}
			fmt.Printf("Request %d %s by %s\n", id, decisionPastTense[action], actor)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", defaultActor, "Name recorded as the deciding administrator")
	return cmd
}

func newAdminQueueCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue <factory>",
		Short: "Show the server-side upload queue of a factory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.adminClient()
			if err != nil {
				return err
			}
			counts, err := api.AdminQueueCounts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Factory: %s\n", counts.FactoryID)
			fmt.Printf("Pending: %d\n", counts.PendingUploads)
			fmt.Printf("Failed:  %d\n", counts.FailedUploads)
			return nil
		},
	}
}

func newAdminQueueResetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue-reset <factory>",
		Short: "Retry the failed server-side uploads of a factory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.adminClient()
			if err != nil {
				return err
			}
			n, err := api.ResetQueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d uploads reset to pending\n", n)
			return nil
		},
	}
}

func newAdminBatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <batch-id>",
		Short: "Show the upload progress of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.adminClient()
			if err != nil {
				return err
			}
			progress, err := api.BatchProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(progress)
		},
	}
}

func newAdminWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		factories []string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live ingestion and registration activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.adminClient()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			err = api.WatchActivity(cmd.Context(), factories, func(ev client.ActivityEvent) error {
				if asJSON {
					return enc.Encode(ev)
				}
				fmt.Printf("%s  %-22s %-20s %s\n", ev.At.Local().Format("15:04:05"), ev.Type, ev.Factory, ev.Message)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&factories, "factory", nil, "Only show events of these factories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")
	return cmd
}
