package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultContamination = 0.1
	defaultNEstimators   = 100
	defaultRandomState   = 42
	autoMaxSamplesLimit  = 256
	eulerGamma           = 0.5772156649015329
	leafNode             = -1
)

// MaxSamples is the per-tree sample size: "auto", an absolute count or a
// fraction of the training set.
type MaxSamples struct {
	Auto     bool
	Count    int
	Fraction float64
}

// AutoMaxSamples returns the "auto" setting, min(256, n)
func AutoMaxSamples() MaxSamples {
	return MaxSamples{Auto: true}
}

// MarshalJSON encodes "auto", an integer or a float
func (m MaxSamples) MarshalJSON() ([]byte, error) {
	switch {
	case m.Auto:
		return []byte(`"auto"`), nil
	case m.Count > 0:
		return []byte(strconv.Itoa(m.Count)), nil
	default:
		s := strconv.FormatFloat(m.Fraction, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return []byte(s), nil
	}
}

// UnmarshalJSON accepts "auto", an integer count or a float fraction
func (m *MaxSamples) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "auto" {
			return fmt.Errorf("max_samples must be \"auto\", an integer or a float, got %q", s)
		}
		*m = AutoMaxSamples()
		return nil
	}

	text := string(data)
	if strings.ContainsAny(text, ".eE") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("invalid max_samples %s", text)
		}
		*m = MaxSamples{Fraction: f}
		return nil
	}

	n, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("invalid max_samples %s", text)
	}
	*m = MaxSamples{Count: n}
	if n <= 0 {
		return fmt.Errorf("max_samples must be positive, got %d", n)
	}
	return nil
}

func (m MaxSamples) validate() error {
	if m.Auto || m.Count > 0 {
		return nil
	}
	if m.Fraction > 0 && m.Fraction <= 1 {
		return nil
	}
	return fmt.Errorf("max_samples fraction must be in (0, 1], got %v", m.Fraction)
}

// resolve returns the number of samples drawn per tree for n training rows
func (m MaxSamples) resolve(n int) int {
	var size int
	switch {
	case m.Auto:
		size = autoMaxSamplesLimit
	case m.Count > 0:
		size = m.Count
	default:
		size = int(m.Fraction * float64(n))
	}
	if size > n {
		size = n
	}
	if size < 1 {
		size = 1
	}
	return size
}

// IsolationForestParams configures an isolation forest. Nil fields take the
// defaults.
type IsolationForestParams struct {
	Contamination *float64    `json:"contamination,omitempty"`
	NEstimators   *int        `json:"n_estimators,omitempty"`
	MaxSamples    *MaxSamples `json:"max_samples,omitempty"`
	RandomState   *int64      `json:"random_state,omitempty"`
}

// Algorithm implements AlgorithmParams
func (IsolationForestParams) Algorithm() Algorithm {
	return AlgorithmIsolationForest
}

func (p IsolationForestParams) withDefaults() AlgorithmParams {
	if p.Contamination == nil {
		c := defaultContamination
		p.Contamination = &c
	}
	if p.NEstimators == nil {
		n := defaultNEstimators
		p.NEstimators = &n
	}
	if p.MaxSamples == nil {
		m := AutoMaxSamples()
		p.MaxSamples = &m
	}
	if p.RandomState == nil {
		r := int64(defaultRandomState)
		p.RandomState = &r
	}
	return p
}

func (p IsolationForestParams) validate() error {
	if p.Contamination == nil || p.NEstimators == nil || p.MaxSamples == nil || p.RandomState == nil {
		return errors.New("isolation forest params are incomplete")
	}
	if c := *p.Contamination; !(c > 0 && c <= 0.5) {
		return fmt.Errorf("contamination must be in (0, 0.5], got %v", c)
	}
	if *p.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be at least 1, got %d", *p.NEstimators)
	}
	return p.MaxSamples.validate()
}

func decodeIsolationForestParams(raw json.RawMessage) (AlgorithmParams, error) {
	var params IsolationForestParams
	if isNullJSON(raw) {
		return params, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	return params, nil
}

// isolationTree stores one tree as parallel node arrays. Children are always
// appended after their parent.
type isolationTree struct {
	Feature   []int     `json:"feature"`
	Threshold []float64 `json:"threshold"`
	Left      []int     `json:"left"`
	Right     []int     `json:"right"`
	Size      []int     `json:"size"`
}

func (t *isolationTree) addNode(size int) int {
	t.Feature = append(t.Feature, leafNode)
	t.Threshold = append(t.Threshold, 0)
	t.Left = append(t.Left, leafNode)
	t.Right = append(t.Right, leafNode)
	t.Size = append(t.Size, size)
	return len(t.Feature) - 1
}

// grow partitions idx recursively and returns the index of the created node
func (t *isolationTree) grow(X [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) int {
	node := t.addNode(len(idx))
	if depth >= maxDepth || len(idx) < 2 {
		return node
	}

	feature, lo, hi, ok := pickSplit(X, idx, rng)
	if !ok {
		return node
	}

	threshold := lo + rng.Float64()*(hi-lo)
	if threshold >= hi {
		threshold = lo
	}

	// Partition in place: left side holds x <= threshold
	k := 0
	for i := range idx {
		if X[idx[i]][feature] <= threshold {
			idx[i], idx[k] = idx[k], idx[i]
			k++
		}
	}

	t.Feature[node] = feature
	t.Threshold[node] = threshold
	left := t.grow(X, idx[:k], depth+1, maxDepth, rng)
	right := t.grow(X, idx[k:], depth+1, maxDepth, rng)
	t.Left[node] = left
	t.Right[node] = right
	return node
}

// pickSplit draws features in random order until one has a spread over idx
func pickSplit(X [][]float64, idx []int, rng *rand.Rand) (int, float64, float64, bool) {
	for _, feature := range rng.Perm(len(X[idx[0]])) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := X[i][feature]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// pathLength is the depth at which x lands plus the expected remaining depth
// of the unbuilt subtree below the leaf
func (t *isolationTree) pathLength(x []float64) float64 {
	node, depth := 0, 0
	for t.Feature[node] != leafNode {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
		depth++
	}
	return float64(depth) + averagePathLength(t.Size[node])
}

func (t *isolationTree) check(nFeatures int) error {
	n := len(t.Feature)
	if n == 0 {
		return errors.New("empty tree")
	}
	if len(t.Threshold) != n || len(t.Left) != n || len(t.Right) != n || len(t.Size) != n {
		return errors.New("tree node arrays differ in length")
	}
	for i := 0; i < n; i++ {
		if t.Feature[i] == leafNode {
			continue
		}
		if t.Feature[i] < 0 || t.Feature[i] >= nFeatures {
			return fmt.Errorf("node %d splits on unknown feature %d", i, t.Feature[i])
		}
		if t.Left[i] <= i || t.Left[i] >= n || t.Right[i] <= i || t.Right[i] >= n {
			return fmt.Errorf("node %d has invalid children", i)
		}
	}
	return nil
}

// averagePathLength is the average path length of an unsuccessful search in
// a binary search tree of n points
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// IsolationForest scores points by how quickly random axis-aligned splits
// isolate them. The decision threshold is set so that a contamination
// fraction of the training set falls below zero.
type IsolationForest struct {
	params     IsolationForestParams
	maxSamples int
	nFeatures  int
	offset     float64
	trees      []*isolationTree
}

// NewIsolationForest creates an unfitted forest. Nil params take defaults.
func NewIsolationForest(params IsolationForestParams) *IsolationForest {
	return &IsolationForest{params: params.withDefaults().(IsolationForestParams)}
}

// Params returns the effective parameters
func (f *IsolationForest) Params() IsolationForestParams {
	return f.params
}

// Fit grows the ensemble on X and sets the decision offset
func (f *IsolationForest) Fit(X [][]float64) error {
	n := len(X)
	if n == 0 {
		return fmt.Errorf("%w: cannot fit on an empty matrix", ErrValidation)
	}
	nFeatures := len(X[0])
	if nFeatures == 0 {
		return fmt.Errorf("%w: rows have no features", ErrValidation)
	}
	for i, row := range X {
		if len(row) != nFeatures {
			return fmt.Errorf("%w: row %d has %d features, expected %d", ErrValidation, i, len(row), nFeatures)
		}
	}

	maxSamples := f.params.MaxSamples.resolve(n)
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(maxSamples), 2))))
	rng := rand.New(rand.NewSource(*f.params.RandomState))

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	trees := make([]*isolationTree, *f.params.NEstimators)
	for t := range trees {
		// Partial Fisher-Yates: the first maxSamples entries become a
		// uniform sample without replacement
		for i := 0; i < maxSamples; i++ {
			j := i + rng.Intn(n-i)
			indices[i], indices[j] = indices[j], indices[i]
		}
		sample := append([]int(nil), indices[:maxSamples]...)

		tree := &isolationTree{}
		tree.grow(X, sample, 0, maxDepth, rng)
		trees[t] = tree
	}

	f.trees = trees
	f.maxSamples = maxSamples
	f.nFeatures = nFeatures
	f.offset = 0

	scores := f.ScoreSamples(X)
	sort.Float64s(scores)
	f.offset = percentile(scores, *f.params.Contamination)
	return nil
}

// ScoreSamples returns the opposite of the anomaly score of each row: the
// lower, the more abnormal
func (f *IsolationForest) ScoreSamples(X [][]float64) []float64 {
	denominator := float64(len(f.trees)) * averagePathLength(f.maxSamples)
	scores := make([]float64, len(X))
	for i, x := range X {
		depth := 0.0
		for _, tree := range f.trees {
			depth += tree.pathLength(x)
		}
		ratio := 1.0
		if denominator != 0 {
			ratio = depth / denominator
		}
		scores[i] = -math.Pow(2, -ratio)
	}
	return scores
}

// Features implements Detector
func (f *IsolationForest) Features() int {
	return f.nFeatures
}

// DecisionFunction implements Detector
func (f *IsolationForest) DecisionFunction(X [][]float64) []float64 {
	scores := f.ScoreSamples(X)
	for i := range scores {
		scores[i] -= f.offset
	}
	return scores
}

// Predict implements Detector. Scores are min-max normalized over the batch
// (most anomalous row near 1); a batch with no spread scores 0 everywhere.
func (f *IsolationForest) Predict(X [][]float64) ([]bool, []float64, error) {
	if err := f.checkInput(X); err != nil {
		return nil, nil, err
	}
	if len(X) == 0 {
		return []bool{}, []float64{}, nil
	}

	decisions := f.DecisionFunction(X)
	labels := make([]bool, len(decisions))
	lo, hi := decisions[0], decisions[0]
	for i, d := range decisions {
		labels[i] = d < 0
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}

	scores := make([]float64, len(decisions))
	if span := hi - lo; span > 0 {
		for i, d := range decisions {
			scores[i] = (hi - d) / span
		}
	}
	return labels, scores, nil
}

// FeatureImportance implements Detector by resetting one feature at a time
// to 0, the training mean in standardized space
func (f *IsolationForest) FeatureImportance(X [][]float64, index int) ([]float64, error) {
	if err := f.checkInput(X); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(X) {
		return nil, fmt.Errorf("%w: row index %d out of range [0, %d)", ErrValidation, index, len(X))
	}

	row := X[index]
	base := f.DecisionFunction([][]float64{row})[0]

	importance := make([]float64, len(row))
	perturbed := make([]float64, len(row))
	for j := range row {
		copy(perturbed, row)
		perturbed[j] = 0
		importance[j] = math.Abs(base - f.DecisionFunction([][]float64{perturbed})[0])
	}
	return importance, nil
}

func (f *IsolationForest) checkInput(X [][]float64) error {
	if len(f.trees) == 0 {
		return errors.New("isolation forest is not fitted")
	}
	for i, row := range X {
		if len(row) != f.nFeatures {
			return fmt.Errorf("%w: row %d has %d features, expected %d", ErrValidation, i, len(row), f.nFeatures)
		}
	}
	return nil
}

type forestState struct {
	MaxSamples int              `json:"max_samples"`
	NFeatures  int              `json:"n_features"`
	Offset     float64          `json:"offset"`
	Trees      []*isolationTree `json:"trees"`
}

// MarshalJSON implements Detector
func (f *IsolationForest) MarshalJSON() ([]byte, error) {
	return json.Marshal(forestState{
		MaxSamples: f.maxSamples,
		NFeatures:  f.nFeatures,
		Offset:     f.offset,
		Trees:      f.trees,
	})
}

func restoreIsolationForest(params IsolationForestParams, raw json.RawMessage) (*IsolationForest, error) {
	var state forestState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode forest state: %v", err)
	}
	if len(state.Trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	if state.MaxSamples < 1 || state.NFeatures < 1 {
		return nil, errors.New("forest state is incomplete")
	}
	for i, tree := range state.Trees {
		if tree == nil {
			return nil, fmt.Errorf("tree %d is missing", i)
		}
		if err := tree.check(state.NFeatures); err != nil {
			return nil, fmt.Errorf("tree %d: %v", i, err)
		}
	}

	return &IsolationForest{
		params:     params.withDefaults().(IsolationForestParams),
		maxSamples: state.MaxSamples,
		nFeatures:  state.NFeatures,
		offset:     state.Offset,
		trees:      state.Trees,
	}, nil
}
