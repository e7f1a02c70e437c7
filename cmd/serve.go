package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/archive"
	"github.com/sells-group/docintel/internal/monitoring"
	"github.com/sells-group/docintel/internal/ocr"
	"github.com/sells-group/docintel/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document intelligence API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
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
		if queue != nil {
			defer queue.Close() //nolint:errcheck
		} else {
			zap.L().Warn("redis not configured, async processing disabled")
		}

		recorder := monitoring.NewDriftRecorder(driftConfig(), monitoring.NewAlerter(cfg.Monitoring))

		arch, err := archive.New(cfg.Archive)
		if err != nil {
			return err
		}

		srv := server.New(st, queue, engine, recorder, cfg.Server).WithArchive(arch)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
