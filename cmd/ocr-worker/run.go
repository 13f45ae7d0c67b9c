package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corestructure/remote-ocr/internal/artifact"
	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/internal/objstore"
	"github.com/corestructure/remote-ocr/internal/ocr"
	"github.com/corestructure/remote-ocr/internal/pdfproc"
	"github.com/corestructure/remote-ocr/internal/pipeline"
	"github.com/corestructure/remote-ocr/internal/queue"
	"github.com/corestructure/remote-ocr/internal/ratelimit"
	"github.com/corestructure/remote-ocr/internal/store"
	"github.com/corestructure/remote-ocr/internal/worker"
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
	Short: "Run the OCR worker",
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

		zap.S().Info("Starting worker")
		defer zap.S().Info("Worker stopped")

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

		dispatcher := newDispatcher(cfg)
		proc := pdfproc.New(cfg.Worker.RenderDPI)
		pipe := pipeline.New(proc, dispatcher, cfg.Worker, nil)
		artifacts := artifact.NewBuilder(objects, st.JobFile(), st.Node())

		w := worker.New(st, objects, broker, pipe, artifacts, cfg)
		if err := w.Run(ctx); err != nil {
			zap.S().Errorw("running worker", "error", err)
			return err
		}
		return nil
	},
}

func newDispatcher(cfg *config.Config) *ocr.Dispatcher {
	backends := cfg.Backends
	acquireTimeout := time.Duration(backends.AcquireTimeoutS) * time.Second

	d := ocr.NewDispatcher()
	d.Register(
		ocr.BackendNameVision,
		ocr.NewVisionBackend(backends),
		ratelimit.New(backends.VisionMaxRPM, cfg.Worker.MaxGlobalOCRRequests, acquireTimeout),
	)
	d.Register(
		ocr.BackendNameSegmenter,
		ocr.NewSegmenterBackend(backends),
		ratelimit.New(backends.SegmenterMaxRPM, backends.SegmenterMaxConcurrent, acquireTimeout),
	)
	return d
}
