package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/mattn/go-shellwords"
)

// Prediction defaults.
const (
	// DefaultInterpreter runs the prediction scripts.
	DefaultInterpreter = "Rscript"

	// DefaultStepSize is the default window step size.
	DefaultStepSize = 1000

	// DefaultBatchSize is the default prediction batch size.
	DefaultBatchSize = 100
)

// Artifact keys the prediction scripts consume.
const (
	KeyBinaryModel = "binary_model"
	KeyGenusModel  = "genus_model"
	KeyGenusLabels = "genus_labels"
)

// PredictionMode selects the prediction script.
type PredictionMode int

const (
	// ModeBinary classifies sequences as viral or non-viral.
	ModeBinary PredictionMode = iota

	// ModeBinaryMetagenome is binary classification tuned for metagenomes.
	ModeBinaryMetagenome

	// ModeGenus predicts the viral genus.
	ModeGenus
)

// ParsePredictionMode maps the CLI mode name and metagenome flag to a mode.
// The metagenome flag only applies to binary mode.
// Returns ErrInvalidMode for any other mode name.
func ParsePredictionMode(mode string, metagenome bool) (PredictionMode, error) {
	switch mode {
	case "binary":
		if metagenome {
			return ModeBinaryMetagenome, nil
		}
		return ModeBinary, nil
	case "genus":
		return ModeGenus, nil
	default:
		return 0, fmt.Errorf("%w: %q (want binary or genus)", ErrInvalidMode, mode)
	}
}

func (m PredictionMode) String() string {
	switch m {
	case ModeBinary:
		return "binary"
	case ModeBinaryMetagenome:
		return "binary-metagenome"
	case ModeGenus:
		return "genus"
	default:
		return "unknown"
	}
}

// Script returns the file name of the script implementing the mode.
func (m PredictionMode) Script() string {
	switch m {
	case ModeBinaryMetagenome:
		return "predict_binary_metagenome.r"
	case ModeGenus:
		return "predict_genus.r"
	default:
		return "predict_binary.r"
	}
}

// PredictRequest describes one prediction run.
type PredictRequest struct {
	Input     string
	Output    string
	Mode      PredictionMode
	StepSize  int
	BatchSize int
}

// Predictor launches the external prediction scripts.
type Predictor struct {
	// interpreter is the command and leading arguments used to run a script.
	interpreter []string

	// scriptDir holds the prediction scripts.
	scriptDir string

	// Stdout and Stderr receive the script's output. Default to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	logger Logger
}

// NewPredictor creates a Predictor from cfg.
func NewPredictor(cfg Config, logger Logger) (*Predictor, error) {
	line := cfg.Interpreter
	if line == "" {
		line = DefaultInterpreter
	}
	words, err := shellwords.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("parsing interpreter %q: %w", line, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("interpreter %q is empty", line)
	}

	scriptDir, err := cfg.PredictionScriptDir()
	if err != nil {
		return nil, err
	}

	return &Predictor{
		interpreter: words,
		scriptDir:   scriptDir,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		logger:      logger,
	}, nil
}

// Command builds the script invocation for req with the verified artifact paths.
func (p *Predictor) Command(ctx context.Context, req PredictRequest, paths map[string]string) (*exec.Cmd, error) {
	files := make(map[string]string, 3)
	for _, key := range []string{KeyBinaryModel, KeyGenusModel, KeyGenusLabels} {
		path, ok := paths[key]
		if !ok {
			return nil, fmt.Errorf("%w: manifest has no %q artifact", ErrManifestParse, key)
		}
		files[key] = path
	}

	stepSize := req.StepSize
	if stepSize == 0 {
		stepSize = DefaultStepSize
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}

	args := append([]string{}, p.interpreter[1:]...)
	args = append(args,
		filepath.Join(p.scriptDir, req.Mode.Script()),
		"--input", req.Input,
		"--output", req.Output,
		"--model_binary", files[KeyBinaryModel],
		"--model_genus", files[KeyGenusModel],
		"--labels_genus", files[KeyGenusLabels],
		"--step_size", strconv.Itoa(stepSize),
		"--batch_size", strconv.Itoa(batchSize),
	)

	cmd := exec.CommandContext(ctx, p.interpreter[0], args...)
	cmd.Env = append(os.Environ(), Environ(paths)...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	return cmd, nil
}

// Run executes the prediction script and waits for it.
// A non-zero exit status is reported as ErrPrediction.
func (p *Predictor) Run(ctx context.Context, req PredictRequest, paths map[string]string) error {
	cmd, err := p.Command(ctx, req, paths)
	if err != nil {
		return err
	}

	if p.logger != nil {
		p.logger.Info("running prediction", "mode", req.Mode.String(), "command", cmd.Args)
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s exited with status %d", ErrPrediction, req.Mode.Script(), exitErr.ExitCode())
		}
		return fmt.Errorf("%w: starting %s: %v", ErrPrediction, p.interpreter[0], err)
	}
	return nil
}
