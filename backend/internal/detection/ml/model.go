package ml

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// Algorithm identifies an anomaly detection algorithm family
type Algorithm string

// AlgorithmIsolationForest is the isolation forest family
const AlgorithmIsolationForest Algorithm = "isolation_forest"

// AlgorithmParams is the per-algorithm hyperparameter set. It is a closed
// variant: only parameter types declared in this package implement it.
type AlgorithmParams interface {
	Algorithm() Algorithm
	withDefaults() AlgorithmParams
	validate() error
}

// Detector is a fitted (or fittable) outlier scorer over scaled feature vectors
type Detector interface {
	// Fit trains the detector on scaled training vectors
	Fit(X [][]float64) error

	// Predict labels each row (true = anomaly) and returns batch
	// normalized anomaly scores in [0, 1]
	Predict(X [][]float64) ([]bool, []float64, error)

	// DecisionFunction returns raw decision values; negative means anomalous
	DecisionFunction(X [][]float64) []float64

	// FeatureImportance measures how much each feature of row index moves
	// the decision value when reset to the training mean
	FeatureImportance(X [][]float64, index int) ([]float64, error)

	// Features is the vector width the detector was fitted on
	Features() int

	// MarshalJSON serializes the fitted state
	MarshalJSON() ([]byte, error)
}

// algorithmFamily is the dispatch entry of one algorithm
type algorithmFamily struct {
	decodeParams func(raw json.RawMessage) (AlgorithmParams, error)
	newDetector  func(params AlgorithmParams) Detector
	restore      func(params AlgorithmParams, state json.RawMessage) (Detector, error)
}

var algorithms = map[Algorithm]algorithmFamily{
	AlgorithmIsolationForest: {
		decodeParams: decodeIsolationForestParams,
		newDetector: func(params AlgorithmParams) Detector {
			return NewIsolationForest(params.(IsolationForestParams))
		},
		restore: func(params AlgorithmParams, state json.RawMessage) (Detector, error) {
			return restoreIsolationForest(params.(IsolationForestParams), state)
		},
	},
}

// SupportedAlgorithms lists the registered algorithm identifiers
func SupportedAlgorithms() []Algorithm {
	result := make([]Algorithm, 0, len(algorithms))
	for a := range algorithms {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// ResolveParams decodes raw user parameters for algorithm, merges them with
// the algorithm defaults and validates the result.
func ResolveParams(algorithm Algorithm, raw json.RawMessage) (AlgorithmParams, error) {
	family, ok := algorithms[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrValidation, algorithm)
	}

	params, err := family.decodeParams(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s params: %v", ErrValidation, algorithm, err)
	}

	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return params, nil
}

func newDetector(params AlgorithmParams) (Detector, error) {
	family, ok := algorithms[params.Algorithm()]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrValidation, params.Algorithm())
	}
	return family.newDetector(params), nil
}

func restoreDetector(algorithm Algorithm, rawParams, state json.RawMessage) (AlgorithmParams, Detector, error) {
	family, ok := algorithms[algorithm]
	if !ok {
		return nil, nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}

	params, err := family.decodeParams(rawParams)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid params: %v", err)
	}
	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, nil, err
	}

	detector, err := family.restore(params, state)
	if err != nil {
		return nil, nil, err
	}
	return params, detector, nil
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// PredictionResult is the outcome for one scored record
type PredictionResult struct {
	Log          models.FlowRecord `json:"log"`
	AnomalyScore float64           `json:"anomaly_score"`
	IsAnomaly    bool              `json:"is_anomaly"`
	Confidence   float64           `json:"confidence"`
	Explanation  string            `json:"explanation,omitempty"`
}

// ModelInfo describes a loaded artifact
type ModelInfo struct {
	Name            string          `json:"name"`
	Algorithm       Algorithm       `json:"algorithm"`
	Params          AlgorithmParams `json:"params"`
	TrainedAt       time.Time       `json:"trained_at"`
	TrainingSamples int             `json:"training_samples"`
	ModelPath       string          `json:"model_path"`
}
