package store

import (
	"context"
	"fmt"
	"time"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// SaveFlows assigns ids to records and stores them. Records without a
// timestamp are stamped with the current time.
func (s *Store) SaveFlows(ctx context.Context, records []*models.FlowRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		s.metrics.RecordStorageWrite("flows", time.Since(start), err)
		if err == nil {
			s.metrics.RecordDataCollection(len(records))
		}
	}()

	first, err := s.reserveIDs(ctx, flowSeqKey, len(records))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	docs := make([]indexed, len(records))
	for i, r := range records {
		r.ID = first + int64(i)
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		docs[i] = indexed{id: r.ID, score: timeScore(r.Timestamp), doc: r}
	}

	if err := s.putIndexed(ctx, flowPrefix, flowIndexKey, docs); err != nil {
		return fmt.Errorf("error storing flows: %v", err)
	}
	return nil
}

// GetFlow returns one flow record
func (s *Store) GetFlow(ctx context.Context, id int64) (*models.FlowRecord, error) {
	var r models.FlowRecord
	if err := s.get(ctx, fmt.Sprintf("%s%d", flowPrefix, id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListFlows returns matching records, newest first
func (s *Store) ListFlows(ctx context.Context, filter models.FlowFilter) (result []*models.FlowRecord, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordStorageRead("flows", time.Since(start), err) }()

	page := filter.Page.Normalize()
	p := &pager{skip: page.Skip, limit: page.Limit}
	result = []*models.FlowRecord{}

	err = scanIndex(ctx, s.client, flowPrefix, flowIndexKey, scoreRange(filter.StartTime, filter.EndTime), true,
		func(r *models.FlowRecord) bool {
			if !filter.Match(r) {
				return true
			}
			keep, more := p.accept()
			if keep {
				result = append(result, r)
			}
			return more
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchRecords returns every record with a timestamp in [start, end],
// oldest first
func (s *Store) FetchRecords(ctx context.Context, start, end time.Time) (records []models.FlowRecord, err error) {
	began := time.Now()
	defer func() { s.metrics.RecordStorageRead("window", time.Since(began), err) }()

	err = scanIndex(ctx, s.client, flowPrefix, flowIndexKey, scoreRange(&start, &end), false,
		func(r *models.FlowRecord) bool {
			records = append(records, *r)
			return true
		})
	if err != nil {
		return nil, err
	}
	return records, nil
}
