package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/archive"
	"github.com/sells-group/docintel/internal/jobs"
	"github.com/sells-group/docintel/internal/monitoring"
	"github.com/sells-group/docintel/internal/ocr"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background extraction worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, err := ocr.NewEngine(cfg.OCR)
		if err != nil {
			return err
		}

		queue := openQueue()
		if queue == nil {
			return eris.New("worker: redis.addr is required")
		}
		defer queue.Close() //nolint:errcheck

		arch, err := archive.New(cfg.Archive)
		if err != nil {
			return err
		}
		if arch.Available() {
			if err := arch.EnsureBucket(ctx); err != nil {
				return err
			}
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		recorder := monitoring.NewDriftRecorder(driftConfig(), alerter)

		checker := monitoring.NewChecker(monitoring.NewCollector(st), alerter,
			time.Duration(cfg.Monitoring.CheckIntervalSecs)*time.Second, cfg.Monitoring.LookbackWindowHours)
		go checker.Run(ctx)

		w := jobs.NewWorker(queue, st, engine, cfg.Extract, cfg.Worker).
			WithArchive(arch).
			WithRecorder(recorder)

		zap.L().Info("worker starting", zap.Int("concurrency", cfg.Worker.Concurrency))
		return w.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
