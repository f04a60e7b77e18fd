package models

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
)

// Manager provides programmatic access to the model artifacts.
// All methods are safe for concurrent use; EnsureAll runs are serialized.
// For CLI integration, use NewCommand instead.
type Manager interface {
	// Manifest returns the loaded manifest.
	Manifest() *Manifest

	// DataDir returns the directory used when a targetDir argument is empty.
	DataDir() string

	// EnsureAll makes every manifest artifact present and verified in targetDir,
	// downloading those that are absent or corrupt. Verified artifacts are
	// downloaded again only if the redownload policy says so.
	// Returns the absolute path of every artifact, keyed by manifest key.
	// The first failure aborts the run.
	EnsureAll(ctx context.Context, targetDir string, opts ...EnsureOption) (map[string]string, error)

	// CheckAll reports whether every artifact in targetDir is verified.
	// It never downloads and never prompts.
	CheckAll(ctx context.Context, targetDir string) (bool, error)

	// Status returns the state of every artifact in manifest order.
	Status(ctx context.Context, targetDir string) ([]ArtifactStatus, error)

	// RequireArtifacts returns artifact paths if every artifact is verified,
	// and ErrArtifactsMissingOrCorrupt otherwise. It never downloads.
	RequireArtifacts(ctx context.Context, targetDir string) (map[string]string, error)
}

// Ensure manager implements Manager interface.
var _ Manager = (*manager)(nil)

// NewManager creates a new Manager with the given configuration.
// Unless WithManifest is given, the manifest is loaded from
// <InstallRoot>/bin/models.json and must exist.
func NewManager(cfg Config, opts ...ManagerOption) (Manager, error) {
	mcfg := newManagerConfig()
	for _, opt := range opts {
		opt(mcfg)
	}
	if mcfg.httpClient == nil {
		mcfg.httpClient = http.DefaultClient
	}

	if cfg.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get default data dir: %w", err)
		}
		cfg.DataDir = dir
	}

	mf := mcfg.manifest
	if mf == nil {
		if cfg.InstallRoot == "" {
			root, err := defaultInstallRoot()
			if err != nil {
				return nil, fmt.Errorf("failed to locate installation root: %w", err)
			}
			cfg.InstallRoot = root
		}
		path := ManifestPath(cfg.InstallRoot)
		if mcfg.logger != nil {
			mcfg.logger.Debug("loading manifest", "path", path)
		}
		var err error
		if mf, err = LoadManifest(path); err != nil {
			return nil, err
		}
	}

	return &manager{
		cfg:      cfg,
		logger:   mcfg.logger,
		manifest: mf,
		storage:  newStorage(),
		fetcher:  newFetcher(mcfg.httpClient, mcfg.logger),
	}, nil
}

// PredictionScriptDir returns the directory holding the prediction scripts.
func (c Config) PredictionScriptDir() (string, error) {
	if c.ScriptDir != "" {
		return c.ScriptDir, nil
	}
	root := c.InstallRoot
	if root == "" {
		var err error
		if root, err = defaultInstallRoot(); err != nil {
			return "", fmt.Errorf("failed to locate installation root: %w", err)
		}
	}
	return filepath.Join(root, "bin"), nil
}
