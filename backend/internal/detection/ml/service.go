package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/flowguard/backend/internal/metrics"
	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// RecordSource supplies historical flow records for a time window
type RecordSource interface {
	FetchRecords(ctx context.Context, start, end time.Time) ([]models.FlowRecord, error)
}

// ModelCatalog persists model metadata rows
type ModelCatalog interface {
	CreateModel(ctx context.Context, m *models.ModelRecord) error
	GetModel(ctx context.Context, id int64) (*models.ModelRecord, error)
	ListModels(ctx context.Context, filter models.ModelFilter) ([]*models.ModelRecord, error)
}

// AlertSink persists alerts
type AlertSink interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	CountAlerts(ctx context.Context, start, end time.Time) (int64, error)
}

// AlertIndexer mirrors alerts into a search index
type AlertIndexer interface {
	IndexAlert(ctx context.Context, alert *models.Alert, result *PredictionResult) error
}

// CountryLookup resolves an address to an ISO country code, "" if unknown
type CountryLookup interface {
	Country(address string) string
}

// ServiceConfig configures the detection service
type ServiceConfig struct {
	ModelDir  string
	CacheSize int
}

// Dependencies are the collaborators of the detection service. Indexer and
// Geo are optional.
type Dependencies struct {
	Records RecordSource
	Catalog ModelCatalog
	Alerts  AlertSink
	Indexer AlertIndexer
	Geo     CountryLookup
}

// Service manages training, analysis and reporting on top of the
// detection pipeline
type Service struct {
	config  ServiceConfig
	deps    Dependencies
	trainer *Trainer
	cache   *PredictorCache
	metrics *metrics.MetricsCollector
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a new detection service
func NewService(config ServiceConfig, deps Dependencies, collector *metrics.MetricsCollector, logger *zap.Logger) (*Service, error) {
	if deps.Records == nil || deps.Catalog == nil || deps.Alerts == nil {
		return nil, fmt.Errorf("detection service requires a record source, a model catalog and an alert sink")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.NewMetricsCollector()
	}

	cache, err := NewPredictorCache(config.CacheSize, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:  config,
		deps:    deps,
		trainer: NewTrainer(config.ModelDir, logger),
		cache:   cache,
		metrics: collector,
		logger:  logger,
		tracer:  otel.Tracer("flowguard/detection/ml"),
		now:     time.Now,
	}, nil
}

// Cache exposes the predictor cache
func (s *Service) Cache() *PredictorCache {
	return s.cache
}

// TrainRequest asks for a model trained on the records of a time window
type TrainRequest struct {
	Name      string          `json:"name" binding:"required"`
	StartDate time.Time       `json:"start_date" binding:"required"`
	EndDate   time.Time       `json:"end_date" binding:"required"`
	Algorithm Algorithm       `json:"algorithm"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// TrainResponse describes a trained and cataloged model
type TrainResponse struct {
	ModelID         int64           `json:"model_id"`
	Name            string          `json:"name"`
	ModelPath       string          `json:"model_path"`
	Algorithm       Algorithm       `json:"algorithm"`
	Params          AlgorithmParams `json:"params"`
	TrainingSamples int             `json:"training_samples"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TrainModel trains a model on the stored records in the request window and
// adds it to the catalog
func (s *Service) TrainModel(ctx context.Context, req TrainRequest) (resp *TrainResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "ml.TrainModel", trace.WithAttributes(
		attribute.String("model.name", req.Name),
		attribute.String("model.algorithm", string(req.Algorithm)),
	))
	start := time.Now()
	defer func() {
		s.metrics.RecordTraining(time.Since(start), err)
		endSpan(span, err)
	}()

	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrValidation)
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, fmt.Errorf("%w: end_date is before start_date", ErrValidation)
	}
	if req.Algorithm == "" {
		req.Algorithm = AlgorithmIsolationForest
	}

	params, err := ResolveParams(req.Algorithm, req.Params)
	if err != nil {
		return nil, err
	}

	records, err := s.deps.Records.FetchRecords(ctx, req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch training records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no traffic logs found between %s and %s",
			ErrValidation, req.StartDate.Format(time.RFC3339), req.EndDate.Format(time.RFC3339))
	}
	span.SetAttributes(attribute.Int("model.training_samples", len(records)))

	result, err := s.trainer.TrainWith(records, params, req.Name)
	if err != nil {
		return nil, err
	}

	rawParams, err := json.Marshal(result.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize params: %v", err)
	}

	record := &models.ModelRecord{
		Name:            req.Name,
		Algorithm:       string(result.Algorithm),
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		ModelPath:       result.ModelPath,
		Params:          rawParams,
		TrainingSamples: result.TrainingSamples,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.deps.Catalog.CreateModel(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to catalog model: %w", err)
	}

	return &TrainResponse{
		ModelID:         record.ID,
		Name:            record.Name,
		ModelPath:       record.ModelPath,
		Algorithm:       result.Algorithm,
		Params:          result.Params,
		TrainingSamples: result.TrainingSamples,
		CreatedAt:       record.CreatedAt,
	}, nil
}

// AnalyzeResponse holds per-record analysis results. Scores are relative to
// the analyzed batch.
type AnalyzeResponse struct {
	ModelID       int64              `json:"model_id"`
	ModelName     string             `json:"model_name"`
	Results       []PredictionResult `json:"results"`
	AlertsCreated int                `json:"alerts_created"`
}

// AnalyzeLogs scores logs with a cataloged model. When persistAlerts is set,
// every anomalous log that references a stored flow record raises an alert.
func (s *Service) AnalyzeLogs(ctx context.Context, modelID int64, logs []models.FlowRecord, persistAlerts bool) (resp *AnalyzeResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "ml.AnalyzeLogs", trace.WithAttributes(
		attribute.Int64("model.id", modelID),
		attribute.Int("logs", len(logs)),
	))
	start := time.Now()
	defer func() {
		scored, anomalous := 0, 0
		if resp != nil {
			scored = len(resp.Results)
			for _, r := range resp.Results {
				if r.IsAnomaly {
					anomalous++
				}
			}
		}
		s.metrics.RecordMLDetection(time.Since(start), err, scored, anomalous)
		endSpan(span, err)
	}()

	model, err := s.deps.Catalog.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if model.ModelPath == "" {
		return nil, fmt.Errorf("%w: model %d has no trained artifact", ErrNotFound, modelID)
	}

	predictor, err := s.cache.Get(model.ModelPath)
	if err != nil {
		return nil, err
	}

	results, err := predictor.Predict(logs)
	if err != nil {
		return nil, err
	}

	resp = &AnalyzeResponse{
		ModelID:   model.ID,
		ModelName: model.Name,
		Results:   results,
	}
	if persistAlerts {
		resp.AlertsCreated = s.raiseAlerts(ctx, model.ID, results)
	}
	return resp, nil
}

// raiseAlerts stores an alert per anomalous stored record. Failures are
// logged and do not fail the analysis.
func (s *Service) raiseAlerts(ctx context.Context, modelID int64, results []PredictionResult) int {
	created := 0
	for i := range results {
		result := &results[i]
		if !result.IsAnomaly || result.Log.ID == 0 {
			continue
		}

		alert := &models.Alert{
			TrafficLogID: result.Log.ID,
			RiskScore:    RiskScore(result.AnomalyScore),
			MLModelID:    modelID,
			DetectedAt:   s.now().UTC(),
			Description:  result.Explanation,
		}
		if err := s.deps.Alerts.CreateAlert(ctx, alert); err != nil {
			s.logger.Warn("failed to store alert", zap.Int64("traffic_log_id", alert.TrafficLogID), zap.Error(err))
			continue
		}
		created++
		s.metrics.RecordAlert()

		if s.deps.Indexer != nil {
			if err := s.deps.Indexer.IndexAlert(ctx, alert, result); err != nil {
				s.logger.Warn("failed to index alert", zap.Int64("alert_id", alert.ID), zap.Error(err))
			}
		}
	}
	return created
}

// RiskScore maps an anomaly score in [0, 1] to an integer risk in [0, 100]
func RiskScore(score float64) int {
	risk := int(math.Round(score * 100))
	if risk < 0 {
		return 0
	}
	if risk > 100 {
		return 100
	}
	return risk
}

// Period is a reporting time window
type Period struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// StatisticsResponse is the dashboard report for a time window
type StatisticsResponse struct {
	Period            Period      `json:"period"`
	Statistics        *Statistics `json:"statistics"`
	AnomaliesDetected int64       `json:"anomalies_detected"`
}

// Statistics summarizes the stored records of a time window
func (s *Service) Statistics(ctx context.Context, start, end time.Time) (resp *StatisticsResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "ml.Statistics")
	defer func() { endSpan(span, err) }()

	if end.Before(start) {
		return nil, fmt.Errorf("%w: end_date is before start_date", ErrValidation)
	}

	records, err := s.deps.Records.FetchRecords(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	stats := ComputeStatistics(records)
	if s.deps.Geo != nil {
		for i := range stats.TopSrcIPs {
			stats.TopSrcIPs[i].Country = s.deps.Geo.Country(stats.TopSrcIPs[i].Address)
		}
		for i := range stats.TopDstIPs {
			stats.TopDstIPs[i].Country = s.deps.Geo.Country(stats.TopDstIPs[i].Address)
		}
	}

	anomalies, err := s.deps.Alerts.CountAlerts(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}

	return &StatisticsResponse{
		Period:            Period{StartDate: start, EndDate: end},
		Statistics:        stats,
		AnomaliesDetected: anomalies,
	}, nil
}

// ModelDetails is a catalog row with the metadata of its artifact, when the
// artifact can be loaded
type ModelDetails struct {
	*models.ModelRecord
	Artifact *ModelInfo `json:"artifact,omitempty"`
}

// GetModel returns a catalog row with its artifact metadata
func (s *Service) GetModel(ctx context.Context, id int64) (*ModelDetails, error) {
	model, err := s.deps.Catalog.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &ModelDetails{ModelRecord: model}
	if model.ModelPath != "" {
		predictor, err := s.cache.Get(model.ModelPath)
		if err != nil {
			s.logger.Warn("model artifact unavailable", zap.Int64("model_id", id), zap.Error(err))
		} else {
			info := predictor.ModelInfo()
			details.Artifact = &info
		}
	}
	return details, nil
}

// ListModels lists catalog rows, newest first
func (s *Service) ListModels(ctx context.Context, filter models.ModelFilter) ([]*models.ModelRecord, error) {
	filter.Page = filter.Page.Normalize()
	return s.deps.Catalog.ListModels(ctx, filter)
}

// MergeRequest asks for a catalog entry spanning several models
type MergeRequest struct {
	ModelIDs        []int64 `json:"model_ids" binding:"required"`
	MergedModelName string  `json:"merged_model_name" binding:"required"`
}

// MergeModels catalogs a merged model covering the union of the source
// models' training windows. The merged entry has no artifact.
func (s *Service) MergeModels(ctx context.Context, req MergeRequest) (*models.ModelRecord, error) {
	if len(req.ModelIDs) < 2 {
		return nil, fmt.Errorf("%w: at least two models are required to merge", ErrValidation)
	}
	if strings.TrimSpace(req.MergedModelName) == "" {
		return nil, fmt.Errorf("%w: merged_model_name is required", ErrValidation)
	}

	var start, end time.Time
	seen := make(map[int64]bool, len(req.ModelIDs))
	for _, id := range req.ModelIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: model %d listed twice", ErrValidation, id)
		}
		seen[id] = true

		model, err := s.deps.Catalog.GetModel(ctx, id)
		if err != nil {
			return nil, err
		}
		if start.IsZero() || model.StartDate.Before(start) {
			start = model.StartDate
		}
		if end.IsZero() || model.EndDate.After(end) {
			end = model.EndDate
		}
	}

	merged := &models.ModelRecord{
		Name:      req.MergedModelName,
		StartDate: start,
		EndDate:   end,
		CreatedAt: s.now().UTC(),
		IsMerged:  true,
	}
	if err := s.deps.Catalog.CreateModel(ctx, merged); err != nil {
		return nil, fmt.Errorf("failed to catalog merged model: %w", err)
	}
	return merged, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
