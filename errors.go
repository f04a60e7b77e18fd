package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for artifact operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrManifestNotFound indicates models.json does not exist at the expected path.
	ErrManifestNotFound = errors.New("virusnet: manifest not found")

	// ErrManifestParse indicates models.json is not a well-formed key -> {url, hash} mapping.
	ErrManifestParse = errors.New("virusnet: invalid manifest")

	// ErrNetwork indicates a network or connection failure.
	ErrNetwork = errors.New("virusnet: network error")

	// ErrIO indicates a local filesystem operation failed.
	ErrIO = errors.New("virusnet: i/o error")

	// ErrIntegrity indicates a downloaded artifact failed hash verification.
	ErrIntegrity = errors.New("virusnet: hash verification failed")

	// ErrArtifactsMissingOrCorrupt indicates at least one artifact is absent or
	// corrupt when artifacts are about to be consumed.
	ErrArtifactsMissingOrCorrupt = errors.New("virusnet: model files are missing or corrupted")

	// ErrInvalidMode indicates an unknown prediction mode.
	ErrInvalidMode = errors.New("virusnet: invalid prediction mode")

	// ErrPrediction indicates the prediction script exited unsuccessfully.
	ErrPrediction = errors.New("virusnet: prediction failed")
)

// ArtifactError attaches the artifact key and its resolved local path to an error.
type ArtifactError struct {
	Key  string
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Key, e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

func artifactErr(key, path string, err error) error {
	return &ArtifactError{Key: key, Path: path, Err: err}
}
