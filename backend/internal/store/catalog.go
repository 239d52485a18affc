package store

import (
	"context"
	"fmt"
	"time"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// CreateModel adds a model to the catalog and assigns its id
func (s *Store) CreateModel(ctx context.Context, m *models.ModelRecord) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordStorageWrite("model", time.Since(start), err) }()

	id, err := s.reserveIDs(ctx, modelSeqKey, 1)
	if err != nil {
		return err
	}
	m.ID = id
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if err := s.putIndexed(ctx, modelPrefix, modelIndexKey, []indexed{{id: id, score: timeScore(m.CreatedAt), doc: m}}); err != nil {
		return fmt.Errorf("error storing model: %v", err)
	}
	return nil
}

// GetModel returns one catalog row
func (s *Store) GetModel(ctx context.Context, id int64) (*models.ModelRecord, error) {
	var m models.ModelRecord
	if err := s.get(ctx, fmt.Sprintf("%s%d", modelPrefix, id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListModels returns catalog rows, newest first
func (s *Store) ListModels(ctx context.Context, filter models.ModelFilter) (result []*models.ModelRecord, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordStorageRead("models", time.Since(start), err) }()

	page := filter.Page.Normalize()
	p := &pager{skip: page.Skip, limit: page.Limit}
	result = []*models.ModelRecord{}

	err = scanIndex(ctx, s.client, modelPrefix, modelIndexKey, scoreRange(nil, nil), true,
		func(m *models.ModelRecord) bool {
			if filter.IsMerged != nil && m.IsMerged != *filter.IsMerged {
				return true
			}
			keep, more := p.accept()
			if keep {
				result = append(result, m)
			}
			return more
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}
