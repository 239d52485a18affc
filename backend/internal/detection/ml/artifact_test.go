package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact(t *testing.T, name string, samples int) *Artifact {
	t.Helper()
	preprocessor := NewPreprocessor()
	_, _, err := preprocessor.FitTransform(normalTraffic(10, 1))
	require.NoError(t, err)

	return &Artifact{
		FormatVersion:   artifactFormatVersion,
		Name:            name,
		Algorithm:       AlgorithmIsolationForest,
		Params:          json.RawMessage(`{}`),
		Preprocessor:    preprocessor,
		Model:           json.RawMessage(`{"trees":[]}`),
		TrainedAt:       baseTime,
		TrainingSamples: samples,
	}
}

func TestArtifactFilename(t *testing.T) {
	name := artifactFilename(AlgorithmIsolationForest, "edge/gw 1", baseTime, []byte("payload"))
	assert.Regexp(t, regexp.MustCompile(`^isolation_forest_edge_gw_1_20240115_120000_[0-9a-f]{8}\.json$`), name)

	assert.NotEqual(t, name, artifactFilename(AlgorithmIsolationForest, "edge/gw 1", baseTime, []byte("other")))
	assert.Equal(t, name, artifactFilename(AlgorithmIsolationForest, "edge/gw 1", baseTime, []byte("payload")))

	assert.Regexp(t, `^isolation_forest_model_`, artifactFilename(AlgorithmIsolationForest, "", baseTime, nil))
}

func TestWriteArtifactCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models", "nested")

	path, err := writeArtifact(dir, testArtifact(t, "nested", 10))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")

	loaded, err := readArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, "nested", loaded.Name)
	assert.Equal(t, 10, loaded.TrainingSamples)
	assert.True(t, loaded.TrainedAt.Equal(baseTime))
}

func TestWriteArtifactConcurrently(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")

	const writers = 8
	paths := make([]string, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = writeArtifact(dir, testArtifact(t, fmt.Sprintf("model-%d", i), i+1))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[paths[i]])
		seen[paths[i]] = true
		assert.FileExists(t, paths[i])
	}
}

func TestReadArtifactRejectsUnusableFiles(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, a *Artifact) string {
		data, err := json.Marshal(a)
		require.NoError(t, err)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0644))
		return path
	}

	future := testArtifact(t, "future", 1)
	future.FormatVersion = 2

	bare := testArtifact(t, "bare", 1)
	bare.Preprocessor = nil

	zeroScale := testArtifact(t, "zero", 1)
	zeroScale.Preprocessor.Scales[FeatureBytes] = 0

	stateless := testArtifact(t, "stateless", 1)
	stateless.Model = nil

	nullModel := testArtifact(t, "null-model", 1)
	nullModel.Model = json.RawMessage(`null`)

	paramless := testArtifact(t, "paramless", 1)
	paramless.Params = nil

	for _, path := range []string{
		write("future.json", future),
		write("bare.json", bare),
		write("zero.json", zeroScale),
		write("stateless.json", stateless),
		write("null-model.json", nullModel),
		write("paramless.json", paramless),
	} {
		_, err := readArtifact(path)
		assert.ErrorIs(t, err, ErrLoad, path)
	}

	_, err := readArtifact(filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}
