package ml

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaussianMatrix(n, width int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	for i := range X {
		row := make([]float64, width)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		X[i] = row
	}
	return X
}

func TestIsolationForestFlagsContaminationFraction(t *testing.T) {
	X := gaussianMatrix(500, 4, 7)
	forest := NewIsolationForest(IsolationForestParams{})
	require.NoError(t, forest.Fit(X))

	labels, scores, err := forest.Predict(X)
	require.NoError(t, err)
	require.Len(t, labels, len(X))

	flagged := 0
	for i, anomalous := range labels {
		if anomalous {
			flagged++
		}
		assert.GreaterOrEqual(t, scores[i], 0.0)
		assert.LessOrEqual(t, scores[i], 1.0)
	}
	assert.InDelta(t, 0.1, float64(flagged)/float64(len(X)), 0.03)
}

func TestIsolationForestIsolatesOutlier(t *testing.T) {
	X := gaussianMatrix(200, 3, 11)
	X = append(X, []float64{25, -25, 25})

	forest := NewIsolationForest(IsolationForestParams{})
	require.NoError(t, forest.Fit(X))

	labels, scores, err := forest.Predict(X)
	require.NoError(t, err)

	last := len(X) - 1
	assert.True(t, labels[last])
	assert.Equal(t, 1.0, scores[last])

	decisions := forest.DecisionFunction(X)
	for i := 0; i < last; i++ {
		assert.Greater(t, decisions[i], decisions[last])
	}
}

func TestIsolationForestDeterministic(t *testing.T) {
	X := gaussianMatrix(300, 5, 3)

	a := NewIsolationForest(IsolationForestParams{})
	b := NewIsolationForest(IsolationForestParams{})
	require.NoError(t, a.Fit(X))
	require.NoError(t, b.Fit(X))
	assert.Equal(t, a.DecisionFunction(X), b.DecisionFunction(X))

	seed := int64(7)
	c := NewIsolationForest(IsolationForestParams{RandomState: &seed})
	require.NoError(t, c.Fit(X))
	assert.NotEqual(t, a.DecisionFunction(X), c.DecisionFunction(X))
}

func TestIsolationForestSingleRow(t *testing.T) {
	forest := NewIsolationForest(IsolationForestParams{})
	require.NoError(t, forest.Fit([][]float64{{1, 2, 3}}))

	labels, scores, err := forest.Predict([][]float64{{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, scores)
	assert.Len(t, labels, 1)
}

func TestIsolationForestConstantBatchScoresZero(t *testing.T) {
	X := gaussianMatrix(50, 2, 5)
	forest := NewIsolationForest(IsolationForestParams{})
	require.NoError(t, forest.Fit(X))

	_, scores, err := forest.Predict([][]float64{{0.5, 0.5}, {0.5, 0.5}, {0.5, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, scores)
}

func TestIsolationForestRejectsBadInput(t *testing.T) {
	forest := NewIsolationForest(IsolationForestParams{})
	assert.ErrorIs(t, forest.Fit(nil), ErrValidation)
	assert.ErrorIs(t, forest.Fit([][]float64{{1, 2}, {1}}), ErrValidation)

	_, _, err := forest.Predict([][]float64{{1, 2}})
	assert.Error(t, err, "predict before fit")

	require.NoError(t, forest.Fit([][]float64{{1, 2}, {3, 4}, {5, 6}}))
	_, _, err = forest.Predict([][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrValidation)

	labels, scores, err := forest.Predict(nil)
	require.NoError(t, err)
	assert.Empty(t, labels)
	assert.Empty(t, scores)
}

func TestIsolationForestFeatureImportance(t *testing.T) {
	X := gaussianMatrix(200, 3, 21)
	X = append(X, []float64{0, 30, 0})

	forest := NewIsolationForest(IsolationForestParams{})
	require.NoError(t, forest.Fit(X))

	importance, err := forest.FeatureImportance(X, len(X)-1)
	require.NoError(t, err)
	require.Len(t, importance, 3)
	for _, v := range importance {
		assert.GreaterOrEqual(t, v, 0.0)
	}
	assert.Greater(t, importance[1], importance[0])
	assert.Greater(t, importance[1], importance[2])

	_, err = forest.FeatureImportance(X, len(X))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = forest.FeatureImportance(X, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIsolationForestStateRoundTrip(t *testing.T) {
	X := gaussianMatrix(120, 4, 9)
	forest := NewIsolationForest(IsolationForestParams{})
	require.NoError(t, forest.Fit(X))

	state, err := forest.MarshalJSON()
	require.NoError(t, err)

	restored, err := restoreIsolationForest(forest.Params(), state)
	require.NoError(t, err)
	assert.Equal(t, forest.DecisionFunction(X), restored.DecisionFunction(X))
	assert.Equal(t, 4, restored.Features())
}

func TestRestoreIsolationForestRejectsCorruptTrees(t *testing.T) {
	tests := []struct {
		name  string
		state string
	}{
		{"NotJSON", `{`},
		{"NoTrees", `{"max_samples":4,"n_features":2,"offset":-0.5,"trees":[]}`},
		{"RaggedArrays", `{"max_samples":4,"n_features":2,"offset":-0.5,"trees":[{"feature":[0],"threshold":[],"left":[1],"right":[2],"size":[4]}]}`},
		{"BadChild", `{"max_samples":4,"n_features":2,"offset":-0.5,"trees":[{"feature":[0],"threshold":[1],"left":[0],"right":[0],"size":[4]}]}`},
		{"BadFeature", `{"max_samples":4,"n_features":2,"offset":-0.5,"trees":[{"feature":[5,-1,-1],"threshold":[1,0,0],"left":[1,-1,-1],"right":[2,-1,-1],"size":[4,2,2]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := restoreIsolationForest(IsolationForestParams{}, json.RawMessage(tt.state))
			assert.Error(t, err)
		})
	}
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}

func TestMaxSamplesResolve(t *testing.T) {
	assert.Equal(t, 256, AutoMaxSamples().resolve(1000))
	assert.Equal(t, 40, AutoMaxSamples().resolve(40))
	assert.Equal(t, 64, MaxSamples{Count: 64}.resolve(1000))
	assert.Equal(t, 10, MaxSamples{Count: 64}.resolve(10))
	assert.Equal(t, 500, MaxSamples{Fraction: 0.5}.resolve(1000))
	assert.Equal(t, 1, MaxSamples{Fraction: 0.01}.resolve(10))
}
