package ml

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveParamsDefaults(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		params, err := ResolveParams(AlgorithmIsolationForest, json.RawMessage(raw))
		require.NoError(t, err, raw)

		p, ok := params.(IsolationForestParams)
		require.True(t, ok)
		assert.Equal(t, 0.1, *p.Contamination)
		assert.Equal(t, 100, *p.NEstimators)
		assert.True(t, p.MaxSamples.Auto)
		assert.Equal(t, int64(42), *p.RandomState)
	}
}

func TestResolveParamsMergesUserValues(t *testing.T) {
	params, err := ResolveParams(AlgorithmIsolationForest, json.RawMessage(`{"contamination":0.05,"n_estimators":50,"max_samples":128}`))
	require.NoError(t, err)

	p := params.(IsolationForestParams)
	assert.Equal(t, 0.05, *p.Contamination)
	assert.Equal(t, 50, *p.NEstimators)
	assert.Equal(t, MaxSamples{Count: 128}, *p.MaxSamples)
	assert.Equal(t, int64(42), *p.RandomState)

	encoded, err := json.Marshal(params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"contamination":0.05,"n_estimators":50,"max_samples":128,"random_state":42}`, string(encoded))
}

func TestResolveParamsMaxSamplesForms(t *testing.T) {
	tests := []struct {
		raw      string
		expected MaxSamples
	}{
		{`{"max_samples":"auto"}`, MaxSamples{Auto: true}},
		{`{"max_samples":200}`, MaxSamples{Count: 200}},
		{`{"max_samples":0.5}`, MaxSamples{Fraction: 0.5}},
		{`{"max_samples":1.0}`, MaxSamples{Fraction: 1}},
	}
	for _, tt := range tests {
		params, err := ResolveParams(AlgorithmIsolationForest, json.RawMessage(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.expected, *params.(IsolationForestParams).MaxSamples, tt.raw)
	}

	encoded, err := json.Marshal(MaxSamples{Fraction: 1})
	require.NoError(t, err)
	assert.Equal(t, "1.0", string(encoded))
}

func TestResolveParamsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name      string
		algorithm Algorithm
		raw       string
	}{
		{"UnknownAlgorithm", "one_class_svm", `{}`},
		{"UnknownKey", AlgorithmIsolationForest, `{"kernel":"rbf"}`},
		{"ContaminationZero", AlgorithmIsolationForest, `{"contamination":0}`},
		{"ContaminationTooHigh", AlgorithmIsolationForest, `{"contamination":0.6}`},
		{"NoEstimators", AlgorithmIsolationForest, `{"n_estimators":0}`},
		{"FractionalEstimators", AlgorithmIsolationForest, `{"n_estimators":1.5}`},
		{"NegativeMaxSamples", AlgorithmIsolationForest, `{"max_samples":-3}`},
		{"MaxSamplesFractionTooBig", AlgorithmIsolationForest, `{"max_samples":1.5}`},
		{"MaxSamplesWord", AlgorithmIsolationForest, `{"max_samples":"all"}`},
		{"NotAnObject", AlgorithmIsolationForest, `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveParams(tt.algorithm, json.RawMessage(tt.raw))
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSupportedAlgorithms(t *testing.T) {
	assert.Equal(t, []Algorithm{AlgorithmIsolationForest}, SupportedAlgorithms())
}
