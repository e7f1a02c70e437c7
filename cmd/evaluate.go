package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/docintel/internal/dataset"
	"github.com/sells-group/docintel/internal/eval"
	"github.com/sells-group/docintel/internal/extract"
	"github.com/sells-group/docintel/internal/model"
)

var (
	evalGoldFile   string
	evalProviders  []string
	evalOutFile    string
	evalMinMacroF1 float64
)

// providerRun holds one provider's evaluation result.
type providerRun struct {
	Provider string       `json:"provider" yaml:"provider"`
	Report   *eval.Report `json:"report" yaml:"report"`
	Elapsed  string       `json:"elapsed" yaml:"elapsed"`
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score extraction providers against a gold dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		if err := cfg.Validate("evaluate"); err != nil {
			return err
		}

		samples, err := dataset.LoadGold(evalGoldFile)
		if err != nil {
			return err
		}

		expected := make([]*model.Invoice, len(samples))
		for i := range samples {
			expected[i] = &samples[i].Expected
		}

		providers := evalProviders
		if len(providers) == 0 {
			providers = []string{cfg.Extract.Provider}
		}

		var (
			mu   sync.Mutex
			runs []providerRun
		)
		g, gctx := errgroup.WithContext(ctx)
		for _, name := range providers {
			g.Go(func() error {
				run, err := evaluateProvider(gctx, name, samples, expected)
				if err != nil {
					return err
				}
				mu.Lock()
				runs = append(runs, *run)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].Provider < runs[j].Provider })

		for _, run := range runs {
			printReport(run)
		}

		persistRuns(ctx, runs, len(samples))

		if evalOutFile != "" {
			if err := writeReportFile(evalOutFile, runs); err != nil {
				return err
			}
			fmt.Printf("report written to %s\n", evalOutFile)
		}

		for _, run := range runs {
			if run.Report.MacroF1 < evalMinMacroF1 {
				return eris.Errorf("provider %s macro-F1 %.4f is below the %.4f gate",
					run.Provider, run.Report.MacroF1, evalMinMacroF1)
			}
		}
		return nil
	},
}

func evaluateProvider(ctx context.Context, name string, samples []dataset.GoldSample, expected []*model.Invoice) (*providerRun, error) {
	p, err := extract.ForName(cfg.Extract, name)
	if err != nil {
		return nil, err
	}
	if !p.Available() {
		return nil, eris.Errorf("provider %s is not configured", name)
	}

	start := time.Now()
	predicted := make([]*model.Invoice, len(samples))
	for i, sample := range samples {
		inv, err := p.Extract(ctx, sample.OCRText)
		if err != nil {
			// A failed extraction scores as an all-null invoice.
			zap.L().Warn("extraction failed during evaluation",
				zap.String("provider", name),
				zap.Int("sample", i),
				zap.Error(err),
			)
			inv = nil
		}
		predicted[i] = inv
	}

	report, err := eval.Evaluate(expected, predicted)
	if err != nil {
		return nil, err
	}
	return &providerRun{
		Provider: name,
		Report:   report,
		Elapsed:  time.Since(start).Round(time.Millisecond).String(),
	}, nil
}

func printReport(run providerRun) {
	fmt.Printf("\nProvider: %s  (samples: %d, elapsed: %s)\n",
		run.Provider, run.Report.TotalSamples, run.Elapsed)
	fmt.Printf("%-18s %10s %10s %10s\n", "field", "precision", "recall", "f1")
	fmt.Println(strings.Repeat("-", 52))
	for _, field := range model.FieldNames {
		m := run.Report.FieldMetrics[field]
		fmt.Printf("%-18s %10.4f %10.4f %10.4f\n", field, m.Precision, m.Recall, m.F1)
	}
	fmt.Println(strings.Repeat("-", 52))
	fmt.Printf("%-18s %32.4f\n", "macro-F1", run.Report.MacroF1)
}

// persistRuns records each run in the store. Persistence failures are
// logged, not fatal: the printed report is the primary output.
func persistRuns(ctx context.Context, runs []providerRun, samples int) {
	st, err := openStore(ctx)
	if err != nil {
		zap.L().Warn("store unavailable, eval runs not persisted", zap.Error(err))
		return
	}
	defer st.Close() //nolint:errcheck

	for _, run := range runs {
		payload, err := json.Marshal(run.Report)
		if err != nil {
			zap.L().Warn("marshal eval report failed", zap.String("provider", run.Provider), zap.Error(err))
			continue
		}
		if _, err := st.CreateEvalRun(ctx, run.Provider, samples, run.Report.MacroF1, payload); err != nil {
			zap.L().Warn("persist eval run failed", zap.String("provider", run.Provider), zap.Error(err))
		}
	}
}

func writeReportFile(path string, runs []providerRun) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(runs, "", "  ")
	default:
		data, err = yaml.Marshal(runs)
	}
	if err != nil {
		return eris.Wrap(err, "marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write report %s", path)
	}
	return nil
}

func init() {
	evaluateCmd.Flags().StringVar(&evalGoldFile, "gold", "", "gold dataset JSON file (required)")
	evaluateCmd.Flags().StringSliceVar(&evalProviders, "provider", nil, "providers to evaluate (repeatable; default from config)")
	evaluateCmd.Flags().StringVar(&evalOutFile, "out", "", "write the report to a .yaml or .json file")
	evaluateCmd.Flags().Float64Var(&evalMinMacroF1, "min-macro-f1", 0, "fail when any provider's macro-F1 is below this")
	_ = evaluateCmd.MarkFlagRequired("gold")
	rootCmd.AddCommand(evaluateCmd)
}
