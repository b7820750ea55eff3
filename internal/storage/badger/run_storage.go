package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/adsum/internal/interfaces"
	"github.com/ternarybob/adsum/internal/models"
)

// runStorage implements interfaces.RunStorage on top of badgerhold.
type runStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates the run-history store.
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &runStorage{
		db:     db,
		logger: logger,
	}
}

func (s *runStorage) SaveRun(ctx context.Context, run *models.RunRecord) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run record requires an ID")
	}

	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	s.logger.Debug().
		Str("run_id", run.ID).
		Int("results", len(run.Results)).
		Msg("Run record saved")
	return nil
}

func (s *runStorage) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var run models.RunRecord
	if err := s.db.Store().Get(id, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

func (s *runStorage) LastRun(ctx context.Context) (*models.RunRecord, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// ListRuns returns up to limit runs, most recent first.
func (s *runStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.RunRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*models.RunRecord, len(records))
	for i := range records {
		runs[i] = &records[i]
	}
	return runs, nil
}

func (s *runStorage) Close() error {
	return s.db.Close()
}
