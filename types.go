package models

import (
	"strings"
	"time"
)

// EnvPrefix prefixes the environment variables that publish artifact paths.
const EnvPrefix = "VIRUSNET_"

// Config configures the models module.
type Config struct {
	// InstallRoot is the installation prefix of the tool. The manifest is read
	// from <InstallRoot>/bin/models.json.
	// If empty, VIRUSNET_PREFIX is used, then the parent of the executable's directory.
	InstallRoot string

	// DataDir is the directory artifacts are downloaded into.
	// If empty, ~/.virusnet is used.
	DataDir string

	// Interpreter is the command line used to run prediction scripts, e.g. "Rscript --vanilla".
	// If empty, "Rscript" is used.
	Interpreter string

	// ScriptDir holds the prediction scripts.
	// If empty, <InstallRoot>/bin is used.
	ScriptDir string

	// RequestTimeout bounds a single artifact download. Zero means no timeout.
	RequestTimeout time.Duration
}

// ArtifactSpec identifies one downloadable artifact.
type ArtifactSpec struct {
	// URL is the source location of the artifact.
	URL string `json:"url"`

	// Hash is the hex-encoded SHA-256 digest of the artifact contents.
	Hash string `json:"hash"`
}

// ArtifactState is the on-disk state of an artifact relative to its manifest entry.
type ArtifactState int

const (
	// StateAbsent means no file exists at the resolved path.
	StateAbsent ArtifactState = iota

	// StateVerified means the file exists and its digest matches.
	StateVerified

	// StateCorrupt means the file exists but its digest does not match.
	StateCorrupt
)

func (s ArtifactState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateVerified:
		return "verified"
	case StateCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// ArtifactStatus reports the local state of one manifest entry.
type ArtifactStatus struct {
	// Key is the manifest key of the artifact.
	Key string `json:"key"`

	// Path is the resolved local path.
	Path string `json:"path"`

	// State is the on-disk state.
	State ArtifactState `json:"-"`

	// StateName is State rendered for JSON output.
	StateName string `json:"state"`
}

// DownloadProgress reports transfer progress for a single artifact.
type DownloadProgress struct {
	// Key is the artifact being downloaded.
	Key string

	// BytesTransferred is the number of bytes written so far.
	// Never exceeds TotalBytes when TotalBytes is known.
	BytesTransferred int64

	// TotalBytes is the size announced by the server, or -1 if unknown.
	TotalBytes int64
}

// EnvName returns the environment variable that carries the path of the artifact key.
// Example: EnvName("binary_model") returns "VIRUSNET_BINARY_MODEL".
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// Event phases reported through WithEvents.
const (
	PhaseSkipped     = "skipped"
	PhaseDownloading = "downloading"
	PhaseVerified    = "verified"
)

// Event reports that an artifact entered a phase of EnsureAll.
type Event struct {
	// Phase is one of PhaseSkipped, PhaseDownloading or PhaseVerified.
	Phase string

	// Key is the manifest key of the artifact.
	Key string

	// Path is the resolved local path.
	Path string

	// State is the state found before any download.
	State ArtifactState
}
