package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corestructure/remote-ocr/internal/apiserver"
	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/internal/objstore"
	"github.com/corestructure/remote-ocr/internal/queue"
	"github.com/corestructure/remote-ocr/internal/store"
	"github.com/corestructure/remote-ocr/pkg/log"
)

// Boot exit codes. Configuration problems exit 1, unreachable backing
// services exit 2.
const (
	exitConfig  = 1
	exitBackend = 2
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the OCR api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Errorw("reading configuration", "error", err)
			os.Exit(exitConfig)
		}

		logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Errorw("initializing data store", "error", err)
			os.Exit(exitBackend)
		}

		st := store.NewStore(db)
		defer st.Close()

		broker := queue.NewGormBroker(db)

		objects, err := objstore.NewMinioStore(cfg.Storage)
		if err != nil {
			zap.S().Errorw("initializing object store", "error", err)
			os.Exit(exitBackend)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		if err := objects.EnsureBucket(ctx); err != nil {
			zap.S().Errorw("ensuring storage bucket", "error", err)
			os.Exit(exitBackend)
		}

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			server := apiserver.New(cfg, st, objects, broker, listener)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("running api server", "error", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalw("creating metrics listener", "error", err)
			}

			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener)
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Fatalw("running metrics server", "error", err)
			}
		}()

		<-ctx.Done()
		return nil
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
