package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// CreateAlert stores an alert and assigns its id
func (s *Store) CreateAlert(ctx context.Context, alert *models.Alert) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordStorageWrite("alert", time.Since(start), err) }()

	id, err := s.reserveIDs(ctx, alertSeqKey, 1)
	if err != nil {
		return err
	}
	alert.ID = id
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = time.Now().UTC()
	}

	if err := s.putIndexed(ctx, alertPrefix, alertIndexKey, []indexed{{id: id, score: timeScore(alert.DetectedAt), doc: alert}}); err != nil {
		return fmt.Errorf("error storing alert: %v", err)
	}
	return nil
}

// GetAlert returns one alert
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	var a models.Alert
	if err := s.get(ctx, fmt.Sprintf("%s%d", alertPrefix, id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlerts returns matching alerts, most recent first
func (s *Store) ListAlerts(ctx context.Context, filter models.AlertFilter) (result []*models.Alert, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordStorageRead("alerts", time.Since(start), err) }()

	page := filter.Page.Normalize()
	p := &pager{skip: page.Skip, limit: page.Limit}
	result = []*models.Alert{}

	err = scanIndex(ctx, s.client, alertPrefix, alertIndexKey, scoreRange(filter.StartTime, filter.EndTime), true,
		func(a *models.Alert) bool {
			if filter.MinRiskScore != nil && a.RiskScore < *filter.MinRiskScore {
				return true
			}
			keep, more := p.accept()
			if keep {
				result = append(result, a)
			}
			return more
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CountAlerts counts alerts detected in [start, end]
func (s *Store) CountAlerts(ctx context.Context, start, end time.Time) (int64, error) {
	n, err := s.client.ZCount(ctx, alertIndexKey,
		strconv.FormatInt(start.UnixMicro(), 10),
		strconv.FormatInt(end.UnixMicro(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("error counting alerts: %v", err)
	}
	return n, nil
}
