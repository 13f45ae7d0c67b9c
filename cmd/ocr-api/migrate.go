package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/internal/queue"
	"github.com/corestructure/remote-ocr/internal/store"
	"github.com/corestructure/remote-ocr/pkg/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
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

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Errorw("initializing data store", "error", err)
			os.Exit(exitBackend)
		}

		st := store.NewStore(db)
		defer st.Close()

		ctx := context.Background()
		if err := st.InitialMigration(ctx); err != nil {
			zap.S().Errorw("running initial migration", "error", err)
			os.Exit(exitBackend)
		}
		if err := queue.NewGormBroker(db).InitialMigration(ctx); err != nil {
			zap.S().Errorw("running queue migration", "error", err)
			os.Exit(exitBackend)
		}

		zap.S().Info("Db migrated")
		return nil
	},
}
