package main

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/docintel/internal/dataset"
)

var (
	datasetURL      string
	datasetIn       string
	datasetFetchOut string
	datasetOut      string
	datasetGold     string
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Gold dataset tools",
}

var datasetFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download an external dataset over http(s) or ftp",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		rawURL := datasetURL
		if rawURL == "" {
			rawURL = cfg.Dataset.FetchURL
		}
		if rawURL == "" {
			return eris.New("dataset fetch: --url or dataset.fetch_url is required")
		}

		dest := datasetFetchOut
		if dest == "" {
			name := path.Base(rawURL)
			if name == "" || name == "/" || name == "." {
				name = "dataset"
			}
			dest = filepath.Join(cfg.Dataset.Dir, name)
		}

		timeout := time.Duration(cfg.Dataset.TimeoutSecs) * time.Second
		n, err := dataset.NewFetcher(timeout).Fetch(cmd.Context(), rawURL, dest)
		if err != nil {
			return err
		}
		fmt.Printf("fetched %d bytes to %s\n", n, dest)
		return nil
	},
}

var datasetConvertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert an XLSX or CSV dataset to gold JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		var (
			samples []dataset.GoldSample
			err     error
		)
		switch strings.ToLower(filepath.Ext(datasetIn)) {
		case ".xlsx":
			samples, err = dataset.ConvertXLSX(datasetIn)
		case ".csv":
			samples, err = dataset.ConvertCSV(datasetIn)
		default:
			return eris.Errorf("dataset convert: unsupported input format %q", filepath.Ext(datasetIn))
		}
		if err != nil {
			return err
		}

		if err := dataset.SaveGold(datasetOut, samples); err != nil {
			return err
		}
		fmt.Printf("converted %d samples to %s\n", len(samples), datasetOut)
		return nil
	},
}

var datasetImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a gold JSON dataset into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		samples, err := dataset.LoadGold(datasetGold)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ImportGoldInvoices(ctx, dataset.Records(samples))
		if err != nil {
			return err
		}
		fmt.Printf("imported %d gold invoices\n", n)
		return nil
	},
}

func init() {
	datasetFetchCmd.Flags().StringVar(&datasetURL, "url", "", "dataset URL (default dataset.fetch_url from config)")
	datasetFetchCmd.Flags().StringVar(&datasetFetchOut, "out", "", "destination path (default dataset.dir + url basename)")

	datasetConvertCmd.Flags().StringVar(&datasetIn, "in", "", "input .xlsx or .csv file (required)")
	datasetConvertCmd.Flags().StringVar(&datasetOut, "out", "gold.json", "output gold JSON file")
	_ = datasetConvertCmd.MarkFlagRequired("in")

	datasetImportCmd.Flags().StringVar(&datasetGold, "gold", "", "gold JSON file (required)")
	_ = datasetImportCmd.MarkFlagRequired("gold")

	datasetCmd.AddCommand(datasetFetchCmd, datasetConvertCmd, datasetImportCmd)
	rootCmd.AddCommand(datasetCmd)
}
