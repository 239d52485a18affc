package ml

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/zeebo/blake3"
)

const artifactFormatVersion = 1

// Artifact is the persisted, self-contained bundle of a trained model
type Artifact struct {
	FormatVersion   int             `json:"format_version"`
	Name            string          `json:"name"`
	Algorithm       Algorithm       `json:"algorithm"`
	Params          json.RawMessage `json:"params"`
	Preprocessor    *Preprocessor   `json:"preprocessor"`
	Model           json.RawMessage `json:"model"`
	TrainedAt       time.Time       `json:"trained_at"`
	TrainingSamples int             `json:"training_samples"`
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// artifactFilename derives a unique file name from the model name, the
// training time and a hash of the serialized content
func artifactFilename(algorithm Algorithm, name string, trainedAt time.Time, payload []byte) string {
	stamp := trainedAt.UTC().Format("20060102_150405")

	h := blake3.New()
	h.Write([]byte(name))
	h.Write([]byte(trainedAt.UTC().Format(time.RFC3339Nano)))
	h.Write(payload)
	digest := hex.EncodeToString(h.Sum(nil))[:8]

	safe := unsafeNameChars.ReplaceAllString(name, "_")
	if safe == "" {
		safe = "model"
	}
	return fmt.Sprintf("%s_%s_%s_%s.json", algorithm, safe, stamp, digest)
}

// writeArtifact persists a under dir and returns its path. The directory is
// created if needed and the file appears atomically.
func writeArtifact(dir string, a *Artifact) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %v", err)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal model artifact: %v", err)
	}

	path := filepath.Join(dir, artifactFilename(a.Algorithm, a.Name, a.TrainedAt, data))

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary artifact: %v", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write model artifact: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write model artifact: %v", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return "", fmt.Errorf("failed to write model artifact: %v", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to move model artifact into place: %v", err)
	}
	return path, nil
}

// readArtifact loads and structurally checks the artifact at path
func readArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: model file %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: failed to read model file: %v", ErrLoad, err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: failed to decode model file: %v", ErrLoad, err)
	}
	if a.FormatVersion != artifactFormatVersion {
		return nil, fmt.Errorf("%w: unsupported artifact format version %d", ErrLoad, a.FormatVersion)
	}
	if a.Preprocessor == nil || !a.Preprocessor.Fitted() {
		return nil, fmt.Errorf("%w: artifact has no fitted preprocessor", ErrLoad)
	}
	for j, scale := range a.Preprocessor.Scales {
		if scale == 0 {
			return nil, fmt.Errorf("%w: feature %s has zero scale", ErrLoad, FeatureNames[j])
		}
	}
	if isNullJSON(a.Params) {
		return nil, fmt.Errorf("%w: artifact has no params", ErrLoad)
	}
	if isNullJSON(a.Model) {
		return nil, fmt.Errorf("%w: artifact has no model state", ErrLoad)
	}
	return &a, nil
}
