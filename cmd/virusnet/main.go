// Command virusnet downloads and verifies the VirusNet models and runs
// predictions with them.
//
// Configuration:
//   - VIRUSNET_PREFIX: installation root holding bin/models.json (optional,
//     defaults to the parent of the executable's directory)
//   - VIRUSNET_CONFIG: path to a YAML config file (optional)
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	models "github.com/GenomeNet/BacteriaNet"
)

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidArgs indicates invalid command line arguments.
	ExitInvalidArgs = 2

	// ExitManifestError indicates models.json is missing or invalid.
	ExitManifestError = 3

	// ExitMissingArtifacts indicates model files are missing or corrupt.
	ExitMissingArtifacts = 4

	// ExitNetworkError indicates a network or connection failure.
	ExitNetworkError = 5

	// ExitHashMismatch indicates hash verification failed.
	ExitHashMismatch = 6

	// ExitIOError indicates a filesystem operation failed.
	ExitIOError = 7

	// ExitPredictionFailed indicates the prediction script failed.
	ExitPredictionFailed = 8

	// ExitInterrupted indicates the run was cancelled by a signal.
	ExitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := models.NewCommand(models.Config{})
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitCodeFromError(err))
	}
}

// exitCodeFromError maps error types to exit codes.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, models.ErrManifestNotFound), errors.Is(err, models.ErrManifestParse):
		return ExitManifestError
	case errors.Is(err, models.ErrArtifactsMissingOrCorrupt):
		return ExitMissingArtifacts
	case errors.Is(err, models.ErrNetwork):
		return ExitNetworkError
	case errors.Is(err, models.ErrIntegrity):
		return ExitHashMismatch
	case errors.Is(err, models.ErrIO):
		return ExitIOError
	case errors.Is(err, models.ErrPrediction):
		return ExitPredictionFailed
	case errors.Is(err, models.ErrInvalidMode):
		return ExitInvalidArgs
	default:
		return ExitGeneralError
	}
}
