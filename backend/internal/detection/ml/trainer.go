package ml

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// TrainResult summarizes a completed training run
type TrainResult struct {
	ModelPath       string          `json:"model_path"`
	Algorithm       Algorithm       `json:"algorithm"`
	Params          AlgorithmParams `json:"params"`
	TrainingSamples int             `json:"training_samples"`
	TrainedAt       time.Time       `json:"trained_at"`
	Status          string          `json:"status"`
}

// Trainer fits models and writes their artifacts to a model directory
type Trainer struct {
	modelDir string
	logger   *zap.Logger
	now      func() time.Time
}

// NewTrainer creates a trainer writing under modelDir
func NewTrainer(modelDir string, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		modelDir: modelDir,
		logger:   logger,
		now:      time.Now,
	}
}

// Train validates params for algorithm, fits the preprocessor and the
// detector on records and persists the resulting artifact.
func (t *Trainer) Train(records []models.FlowRecord, algorithm Algorithm, params json.RawMessage, name string) (*TrainResult, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no training records", ErrValidation)
	}

	resolved, err := ResolveParams(algorithm, params)
	if err != nil {
		return nil, err
	}
	return t.TrainWith(records, resolved, name)
}

// TrainWith is Train with already resolved parameters
func (t *Trainer) TrainWith(records []models.FlowRecord, params AlgorithmParams, name string) (*TrainResult, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no training records", ErrValidation)
	}
	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	start := time.Now()
	preprocessor := NewPreprocessor()
	scaled, _, err := preprocessor.FitTransform(records)
	if err != nil {
		return nil, err
	}

	detector, err := newDetector(params)
	if err != nil {
		return nil, err
	}
	if err := detector.Fit(scaled); err != nil {
		return nil, fmt.Errorf("failed to fit %s: %w", params.Algorithm(), err)
	}

	state, err := detector.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s state: %v", params.Algorithm(), err)
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize params: %v", err)
	}

	trainedAt := t.now().UTC()
	path, err := writeArtifact(t.modelDir, &Artifact{
		FormatVersion:   artifactFormatVersion,
		Name:            name,
		Algorithm:       params.Algorithm(),
		Params:          rawParams,
		Preprocessor:    preprocessor,
		Model:           state,
		TrainedAt:       trainedAt,
		TrainingSamples: len(records),
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("model trained",
		zap.String("name", name),
		zap.String("algorithm", string(params.Algorithm())),
		zap.Int("samples", len(records)),
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &TrainResult{
		ModelPath:       path,
		Algorithm:       params.Algorithm(),
		Params:          params,
		TrainingSamples: len(records),
		TrainedAt:       trainedAt,
		Status:          "success",
	}, nil
}
