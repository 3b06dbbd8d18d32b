package main

import (
	"fmt"

	"github.com/kaonic/k1serial/internal/client"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newSpoolCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool",
		Short: "Manage uploads waiting for delivery",
	}
	cmd.AddCommand(
		newSpoolListCmd(opts),
		newSpoolFlushCmd(opts),
		newSpoolResetCmd(opts),
		newSpoolWatchCmd(opts),
	)
	return cmd
}

func newSpoolListCmd(opts *globalOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List spooled uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			spool, err := opts.spool(cfg)
			if err != nil {
				return err
			}
			defer spool.Close()

			entries, err := spool.List(cmd.Context(), client.SpoolStatus(status))
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Spool is empty.")
				return nil
			}

			fmt.Printf("%-8s %-6s %-24s %-24s %-8s %-7s %-17s %s\n",
				"ID", "KIND", "FILE", "BATCH", "STATUS", "RETRIES", "QUEUED", "LAST ERROR")
			for _, e := range entries {
				batch := e.BatchID
				if e.Kind == client.UploadChunk {
					batch = fmt.Sprintf("%s [%d/%d]", e.BatchID, e.ChunkIndex+1, e.TotalChunks)
				}
				fmt.Printf("%-8s %-6s %-24s %-24s %-8s %-7d %-17s %s\n",
					e.ID.String()[:8], e.Kind, e.FileName, batch, e.Status, e.RetryCount,
					e.QueuedAt.Local().Format("2006-01-02 15:04"), e.LastError)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, failed)")
	return cmd
}

func newSpoolFlushCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Deliver pending spooled uploads now",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, s, cfg, err := opts.signer()
			if err != nil {
				return err
			}
			spool, err := opts.spool(cfg)
			if err != nil {
				return err
			}
			defer spool.Close()

			stats, err := spool.Flush(cmd.Context(), api, s)
			fmt.Printf("Delivered %d, retrying %d, failed %d\n", stats.Delivered, stats.Retrying, stats.Failed)
			return err
		},
	}
}

func newSpoolResetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Move failed spooled uploads back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			spool, err := opts.spool(cfg)
			if err != nil {
				return err
			}
			defer spool.Close()

			n, err := spool.Reset(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d uploads reset to pending\n", n)
			return nil
		},
	}
}

func newSpoolWatchCmd(opts *globalOptions) *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Flush the spool on a schedule until interrupted",
		Long: `Flush the spool on a cron schedule until interrupted. The schedule
accepts standard cron expressions and descriptors such as "@every 5m".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, s, cfg, err := opts.signer()
			if err != nil {
				return err
			}
			spool, err := opts.spool(cfg)
			if err != nil {
				return err
			}
			defer spool.Close()

			logger := newLogger()
			ctx := cmd.Context()

			c := cron.New()
			_, err = c.AddFunc(schedule, func() {
				if _, err := spool.Flush(ctx, api, s); err != nil {
					logger.Warn().Err(err).Msg("spool flush incomplete")
				}
			})
			if err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}

			c.Start()
			fmt.Printf("Flushing spool %s. Press Ctrl+C to stop.\n", schedule)
			<-ctx.Done()

			// Wait for a running flush before closing the spool.
			<-c.Stop().Done()
			fmt.Println("\nStopped.")
			return nil
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "@every 1m", "Cron schedule for flushing")
	return cmd
}
