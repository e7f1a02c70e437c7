package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/dataset"
	"github.com/sells-group/docintel/internal/drift"
	"github.com/sells-group/docintel/internal/extract"
)

var (
	driftGoldFile string
	driftProvider string
	driftBaseline float64
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Drift detection tools",
}

var driftReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a gold dataset through the drift detector",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		samples, err := dataset.LoadGold(driftGoldFile)
		if err != nil {
			return err
		}

		name := driftProvider
		if name == "" {
			name = cfg.Extract.Provider
		}
		p, err := extract.ForName(cfg.Extract, name)
		if err != nil {
			return err
		}
		if !p.Available() {
			return eris.Errorf("provider %s is not configured", name)
		}

		detector := drift.New(driftConfig())
		if driftBaseline > 0 {
			detector.SetBaseline(driftBaseline)
		}

		var fired []drift.Alert
		for i, sample := range samples {
			inv, err := p.Extract(ctx, sample.OCRText)
			if err != nil {
				zap.L().Warn("extraction failed during replay",
					zap.String("provider", name),
					zap.Int("sample", i),
					zap.Error(err),
				)
				inv = nil
			}
			docID := sample.DocumentID
			if docID == "" {
				docID = fmt.Sprintf("sample-%03d", i+1)
			}
			fired = append(fired, detector.AddSample(docID, name, inv, sample.Expected.Fields())...)
		}

		stats := detector.Stats()
		fmt.Printf("Provider: %s\n", name)
		fmt.Printf("Samples:          %d (window %d)\n", stats.SampleCount, stats.WindowSize)
		if stats.RollingAccuracy != nil {
			fmt.Printf("Rolling accuracy: %.4f (std dev %.4f, min %.4f, max %.4f)\n",
				*stats.RollingAccuracy, stats.AccuracyStdDev, stats.MinAccuracy, stats.MaxAccuracy)
		} else {
			fmt.Println("Rolling accuracy: n/a (no samples)")
		}
		if stats.Baseline != nil {
			fmt.Printf("Baseline:         %.4f\n", *stats.Baseline)
		}
		fmt.Printf("Alerts fired:     %d\n", len(fired))
		for _, alert := range fired {
			fmt.Printf("  [%s] %s\n", alert.Type, alert.Message)
		}
		return nil
	},
}

func init() {
	driftReplayCmd.Flags().StringVar(&driftGoldFile, "gold", "", "gold dataset JSON file (required)")
	driftReplayCmd.Flags().StringVar(&driftProvider, "provider", "", "extraction provider (default from config)")
	driftReplayCmd.Flags().Float64Var(&driftBaseline, "baseline", 0, "baseline accuracy for drop detection")
	_ = driftReplayCmd.MarkFlagRequired("gold")
	driftCmd.AddCommand(driftReplayCmd)
	rootCmd.AddCommand(driftCmd)
}
