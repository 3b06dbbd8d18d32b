package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaonic/k1serial/internal/client"
	"github.com/kaonic/k1serial/internal/config"
	"github.com/kaonic/k1serial/internal/health"
	"github.com/spf13/cobra"
)

func newRegisterCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Submit the factory public key for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, s, cfg, err := opts.signer()
			if err != nil {
				return err
			}
			pub, err := s.PublicKey()
			if err != nil {
				return err
			}

			res, err := api.Register(cmd.Context(), cfg.FactoryName, pub)
			if err != nil {
				return err
			}
			if res.AlreadyExists {
				fmt.Printf("Key already registered (request %d, status %s)\n", res.RequestID, res.Status)
				return nil
			}
			fmt.Printf("Registration submitted (request %d, status %s)\n", res.RequestID, res.Status)
			fmt.Println("An administrator must approve the request before uploads are accepted.")
			return nil
		},
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server connection and key registration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, s, cfg, err := opts.signer()
			if err != nil {
				return err
			}

			fmt.Printf("Server:  %s\n", cfg.ServerURL)
			fmt.Printf("Factory: %s\n\n", cfg.FactoryName)

			fmt.Print("Checking server connection... ")
			if err := api.CheckHealth(cmd.Context()); err != nil {
				fmt.Println("FAILED")
				return fmt.Errorf("connect to server: %w", err)
			}
			fmt.Println("OK")

			pub, err := s.PublicKey()
			if err != nil {
				return err
			}
			reg, err := api.RegistrationStatus(cmd.Context(), pub)
			if err != nil {
				return err
			}
			fmt.Printf("Registration: %s (request %d)\n", reg.Status, reg.RequestID)
			if reg.ApprovedAt != nil {
				fmt.Printf("Decided at:   %s\n", reg.ApprovedAt.Local().Format("2006-01-02 15:04:05"))
			}

			printSpoolDisk(cmd.Context(), cfg)
			return nil
		},
	}
}

func newSignCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sign <file>",
		Short: "Print the signed upload headers for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, _, err := opts.signer()
			if err != nil {
				return err
			}
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			h, err := s.Sign(payload)
			if err != nil {
				return err
			}
			fmt.Printf("X-Factory-ID: %s\n", h.FactoryID)
			fmt.Printf("X-Timestamp: %s\n", h.Timestamp)
			fmt.Printf("X-Signature: %s\n", h.Signature)
			fmt.Printf("# payload sha256: %s\n", h.PayloadHash)
			return nil
		},
	}
}

func newUploadCmd(opts *globalOptions) *cobra.Command {
	var (
		batchID      string
		testRunCount int
		chunkRows    int
		noSpool      bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Sign and upload a serial number CSV file",
		Long: `Sign and upload a serial number CSV file. The first line of the file
is a header and is never ingested.

With --batch-id the file is recorded as one batch. With --chunk-rows the file
is split into chunks of that many rows, uploaded in order under the batch id.
Uploads the server cannot take right now are kept in the local spool unless
--no-spool is set; deliver them later with 'k1serialctl spool flush'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chunkRows > 0 && batchID == "" {
				return errors.New("--chunk-rows requires --batch-id")
			}
			if testRunCount < 0 {
				return errors.New("--test-run-count must not be negative")
			}

			api, s, cfg, err := opts.signer()
			if err != nil {
				return err
			}
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}

			uploads, err := planUploads(filepath.Base(args[0]), payload, batchID, testRunCount, chunkRows)
			if err != nil {
				return err
			}

			var spool *client.Spool
			if !noSpool {
				if spool, err = opts.spool(cfg); err != nil {
					return err
				}
				defer spool.Close()
			}

			var offline bool
			for _, up := range uploads {
				var cause error
				if !offline {
					if up.Signed, err = s.Sign(up.Payload); err != nil {
						return err
					}
					res, err := api.Upload(cmd.Context(), up)
					if err == nil {
						printUploadResult(up, res)
						continue
					}
					if spool == nil || !client.IsRetryable(err) {
						return err
					}
					var apiErr *client.APIError
					offline = !errors.As(err, &apiErr)
					cause = err
					fmt.Fprintf(os.Stderr, "upload %s failed: %v\n", describeUpload(up), err)
				}

				if _, err := spool.Add(cmd.Context(), up, cause); err != nil {
					return fmt.Errorf("spool upload: %w", err)
				}
				fmt.Printf("%s spooled for later delivery\n", describeUpload(up))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch identifier")
	cmd.Flags().IntVar(&testRunCount, "test-run-count", 0, "Number of test runs recorded for the batch")
	cmd.Flags().IntVar(&chunkRows, "chunk-rows", 0, "Split the file into chunks of this many rows")
	cmd.Flags().BoolVar(&noSpool, "no-spool", false, "Fail instead of spooling undeliverable uploads")

	return cmd
}

// planUploads turns one file into the uploads that deliver it.
func planUploads(name string, payload []byte, batchID string, testRunCount, chunkRows int) ([]*client.Upload, error) {
	switch {
	case chunkRows > 0:
		parts, err := client.SplitRows(payload, chunkRows)
		if err != nil {
			return nil, err
		}
		uploads := make([]*client.Upload, 0, len(parts))
		for i, part := range parts {
			uploads = append(uploads, &client.Upload{
				Kind:        client.UploadChunk,
				FileName:    name,
				Payload:     part,
				BatchID:     batchID,
				ChunkIndex:  i,
				TotalChunks: len(parts),
			})
		}
		return uploads, nil
	case batchID != "":
		return []*client.Upload{{
			Kind:         client.UploadBatch,
			FileName:     name,
			Payload:      payload,
			BatchID:      batchID,
			TestRunCount: testRunCount,
		}}, nil
	default:
		return []*client.Upload{{Kind: client.UploadPlain, FileName: name, Payload: payload}}, nil
	}
}

func describeUpload(up *client.Upload) string {
	switch up.Kind {
	case client.UploadChunk:
		return fmt.Sprintf("chunk %d/%d of batch %s", up.ChunkIndex+1, up.TotalChunks, up.BatchID)
	case client.UploadBatch:
		return fmt.Sprintf("batch %s", up.BatchID)
	default:
		return up.FileName
	}
}

func printUploadResult(up *client.Upload, res *client.UploadResult) {
	fmt.Printf("%s: %s\n", describeUpload(up), res.Message)
	fmt.Printf("  accepted %d, added %d, duplicates %d, skipped %d\n", res.Accepted, res.Added, res.Duplicates, res.Skipped)
	if up.Kind == client.UploadChunk {
		fmt.Printf("  chunks received %d of %d\n", res.ChunksReceived, up.TotalChunks)
	}
}

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <serial>...",
		Short: "Verify serial numbers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := opts.client()
			if err != nil {
				return err
			}
			for _, sn := range args {
				res, err := api.Verify(cmd.Context(), sn)
				if err != nil {
					return err
				}
				if res.SerialNumber == "" {
					fmt.Printf("%s: %s\n", sn, res.Status)
					continue
				}
				fmt.Printf("%s: %s, produced %s by %s", res.SerialNumber, res.Status, res.ProductionDate, res.Provenance)
				if res.BatchID != nil {
					fmt.Printf(", batch %s", *res.BatchID)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newQueueCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show uploads the server deferred for this factory",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, s, _, err := opts.signer()
			if err != nil {
				return err
			}
			pub, err := s.PublicKey()
			if err != nil {
				return err
			}
			counts, err := api.QueueStatus(cmd.Context(), pub)
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

// printSpoolDisk reports free space where failed uploads are spooled.
func printSpoolDisk(ctx context.Context, cfg *config.ClientConfig) {
	dir, err := spoolDir(cfg)
	if err != nil {
		return
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Printf("Spool disk:   unavailable (%v)\n", err)
		return
	}
	m, err := health.NewCollector(dir).Collect(ctx)
	if err != nil {
		fmt.Printf("Spool disk:   unavailable (%v)\n", err)
		return
	}
	res := health.NewChecker(health.DefaultThresholds()).Evaluate(m)
	fmt.Printf("Spool disk:   %.1f%% used, %d MiB free (%s)\n", m.DiskUsage, m.DiskFreeBytes>>20, res.Status)
}
