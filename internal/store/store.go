package store

import (
	"context"

	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	JobFile() JobFile
	JobSettings() JobSettings
	Node() Node
	InitialMigration(ctx context.Context) error
	CountByStatus(ctx context.Context) (map[string]int, error)
	Close() error
}

type DataStore struct {
	db          *gorm.DB
	job         Job
	jobFile     JobFile
	jobSettings JobSettings
	node        Node
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:          db,
		job:         NewJob(db),
		jobFile:     NewJobFile(db),
		jobSettings: NewJobSettings(db),
		node:        NewNode(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) JobFile() JobFile {
	return s.jobFile
}

func (s *DataStore) JobSettings() JobSettings {
	return s.jobSettings
}

func (s *DataStore) Node() Node {
	return s.node
}

func (s *DataStore) InitialMigration(ctx context.Context) error {
	if err := s.job.InitialMigration(ctx); err != nil {
		return err
	}
	if err := s.jobFile.InitialMigration(ctx); err != nil {
		return err
	}
	if err := s.jobSettings.InitialMigration(ctx); err != nil {
		return err
	}
	return s.node.InitialMigration(ctx)
}

// CountByStatus satisfies the metrics collector contract.
func (s *DataStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	return s.job.CountByStatus(ctx)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
