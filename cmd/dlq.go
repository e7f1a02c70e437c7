package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/docintel/internal/jobs"
	"github.com/sells-group/docintel/internal/ocr"
	"github.com/sells-group/docintel/internal/resilience"
)

var (
	dlqErrorType string
	dlqProvider  string
	dlqLimit     int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and requeue dead-lettered jobs",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List retryable dead letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{
			ErrorType: dlqErrorType,
			Provider:  dlqProvider,
			Limit:     dlqLimit,
		})
		if err != nil {
			return err
		}

		total, err := st.CountDLQ(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%d retryable of %d total entries\n", len(entries), total)
		for _, e := range entries {
			fmt.Printf("  %s  doc=%s provider=%s stage=%s type=%s retries=%d/%d\n    %s\n",
				e.ID, e.DocumentID, e.Provider, e.FailedStage, e.ErrorType, e.RetryCount, e.MaxRetries, e.Error)
		}
		return nil
	},
}

var dlqRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Put retryable dead letter entries back on the job queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		queue := openQueue()
		if queue == nil {
			return eris.New("dlq requeue: redis.addr is required")
		}
		defer queue.Close() //nolint:errcheck

		engine, err := ocr.NewEngine(cfg.OCR)
		if err != nil {
			return err
		}

		w := jobs.NewWorker(queue, st, engine, cfg.Extract, cfg.Worker)
		n, err := w.Requeue(ctx, resilience.DLQFilter{
			ErrorType: dlqErrorType,
			Provider:  dlqProvider,
			Limit:     dlqLimit,
		})
		if err != nil {
			return err
		}
		fmt.Printf("requeued %d jobs\n", n)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{dlqListCmd, dlqRequeueCmd} {
		c.Flags().StringVar(&dlqErrorType, "error-type", "", `filter by error type ("transient" or "permanent")`)
		c.Flags().StringVar(&dlqProvider, "provider", "", "filter by provider")
		c.Flags().IntVar(&dlqLimit, "limit", 50, "maximum entries")
	}
	dlqCmd.AddCommand(dlqListCmd, dlqRequeueCmd)
	rootCmd.AddCommand(dlqCmd)
}
