package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/drift"
	"github.com/sells-group/docintel/internal/jobs"
	"github.com/sells-group/docintel/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "docintel",
	Short: "Invoice document intelligence pipeline",
	Long:  "Runs OCR and LLM extraction over invoice documents, scores providers against gold datasets, and watches extraction accuracy for drift.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore opens the configured store and runs migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func openQueue() jobs.Queue {
	if cfg.Redis.Addr == "" {
		return nil
	}
	ttl := time.Duration(cfg.Worker.JobTTLHours) * time.Hour
	return jobs.NewRedisQueue(cfg.Redis, ttl)
}

func driftConfig() drift.Config {
	return drift.Config{
		WindowSize:          cfg.Drift.WindowSize,
		MinSamples:          cfg.Drift.MinSamples,
		AccuracyThreshold:   cfg.Drift.AccuracyThreshold,
		DropThreshold:       cfg.Drift.DropThreshold,
		VolatilityThreshold: cfg.Drift.VolatilityThreshold,
		MonitoredFields:     cfg.Drift.MonitoredFields,
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
