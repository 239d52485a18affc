package ml

import (
	"fmt"
	"math"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// Predictor scores flow records with a persisted model. It holds no mutable
// state after loading and is safe for concurrent use.
type Predictor struct {
	path         string
	artifact     *Artifact
	params       AlgorithmParams
	preprocessor *Preprocessor
	detector     Detector
}

// LoadPredictor reads the artifact at path. A missing file yields
// ErrNotFound, an unusable one ErrLoad.
func LoadPredictor(path string) (*Predictor, error) {
	artifact, err := readArtifact(path)
	if err != nil {
		return nil, err
	}

	params, detector, err := restoreDetector(artifact.Algorithm, artifact.Params, artifact.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	if detector.Features() != NumFeatures {
		return nil, fmt.Errorf("%w: %s: model expects %d features, pipeline produces %d", ErrLoad, path, detector.Features(), NumFeatures)
	}

	return &Predictor{
		path:         path,
		artifact:     artifact,
		params:       params,
		preprocessor: artifact.Preprocessor,
		detector:     detector,
	}, nil
}

// Predict scores records. Anomalous records carry an explanation.
func (p *Predictor) Predict(records []models.FlowRecord) ([]PredictionResult, error) {
	if len(records) == 0 {
		return []PredictionResult{}, nil
	}

	scaled, raw, err := p.preprocessor.Transform(records)
	if err != nil {
		return nil, err
	}

	labels, scores, err := p.detector.Predict(scaled)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}

	results := make([]PredictionResult, len(records))
	for i := range records {
		isAnomaly := labels[i]
		score := scores[i]
		confidence := 1 - score
		if isAnomaly {
			confidence = score
		}

		result := PredictionResult{
			Log:          records[i],
			AnomalyScore: round4(score),
			IsAnomaly:    isAnomaly,
			Confidence:   round4(confidence),
		}
		if isAnomaly {
			result.Explanation = explain(p.detector, &records[i], raw[i], scaled, i, p.preprocessor.TrainingStats)
		}
		results[i] = result
	}
	return results, nil
}

// ModelInfo returns metadata of the loaded artifact
func (p *Predictor) ModelInfo() ModelInfo {
	return ModelInfo{
		Name:            p.artifact.Name,
		Algorithm:       p.artifact.Algorithm,
		Params:          p.params,
		TrainedAt:       p.artifact.TrainedAt,
		TrainingSamples: p.artifact.TrainingSamples,
		ModelPath:       p.path,
	}
}

// TrainingStats returns the per-feature training statistics
func (p *Predictor) TrainingStats() []FeatureStats {
	return append([]FeatureStats(nil), p.preprocessor.TrainingStats...)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
