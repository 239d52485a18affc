package ml

import "errors"

var (
	// ErrValidation marks caller input the pipeline refuses to work with
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing model or artifact
	ErrNotFound = errors.New("not found")
	// ErrLoad marks an artifact that exists but cannot be used
	ErrLoad = errors.New("model load error")
	// ErrNotFitted is returned by Transform before FitTransform
	ErrNotFitted = errors.New("preprocessor is not fitted")
)
