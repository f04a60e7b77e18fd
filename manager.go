package models

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// manager is the concrete implementation of the Manager interface.
type manager struct {
	// cfg holds the module configuration.
	cfg Config

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// manifest is the artifact list loaded at construction.
	manifest *Manifest

	// storage handles local filesystem operations.
	storage storageInterface

	// fetcher transfers artifacts.
	fetcher *fetcher

	// ensureMu serializes EnsureAll runs.
	ensureMu sync.Mutex
}

// Manifest returns the loaded manifest.
func (m *manager) Manifest() *Manifest {
	return m.manifest
}

// DataDir returns the default target directory.
func (m *manager) DataDir() string {
	return m.cfg.DataDir
}

// targetDir returns the absolute form of dir, or of the data dir when dir is empty.
func (m *manager) targetDir(dir string) (string, error) {
	if dir == "" {
		dir = m.cfg.DataDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %v", ErrIO, dir, err)
	}
	return abs, nil
}

// EnsureAll downloads and verifies every artifact that is not already verified.
func (m *manager) EnsureAll(ctx context.Context, targetDir string, opts ...EnsureOption) (map[string]string, error) {
	cfg := newEnsureConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	m.ensureMu.Lock()
	defer m.ensureMu.Unlock()

	dir, err := m.targetDir(targetDir)
	if err != nil {
		return nil, err
	}
	if err := m.storage.ensureDir(dir); err != nil {
		return nil, err
	}

	unlock, err := m.storage.lock(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if m.logger != nil {
		m.logger.Info("ensuring artifacts", "dir", dir, "count", m.manifest.Len())
	}

	paths := make(map[string]string, m.manifest.Len())
	for _, key := range m.manifest.keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec := m.manifest.entries[key]

		path, err := m.ensureOne(ctx, cfg, dir, key, spec)
		if err != nil {
			return nil, err
		}
		paths[key] = path
	}
	return paths, nil
}

// ensureOne brings a single artifact to the verified state and returns its path.
func (m *manager) ensureOne(ctx context.Context, cfg *ensureConfig, dir, key string, spec ArtifactSpec) (string, error) {
	path, err := m.storage.resolvePath(dir, spec)
	if err != nil {
		return "", artifactErr(key, dir, err)
	}

	state, err := m.storage.state(path, spec)
	if err != nil {
		return "", artifactErr(key, path, err)
	}

	if state == StateVerified {
		redownload, err := cfg.policy(key)
		if err != nil {
			return "", artifactErr(key, path, err)
		}
		if !redownload {
			if m.logger != nil {
				m.logger.Debug("artifact already verified", "key", key, "path", path)
			}
			notify(cfg, Event{Phase: PhaseSkipped, Key: key, Path: path, State: state})
			return path, nil
		}
	}

	if err := m.storage.contained(dir, path); err != nil {
		return "", artifactErr(key, path, err)
	}

	if m.logger != nil {
		m.logger.Info("downloading artifact", "key", key, "url", spec.URL, "path", path, "state", state.String())
	}
	notify(cfg, Event{Phase: PhaseDownloading, Key: key, Path: path, State: state})

	fetchCtx := ctx
	if m.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
	}

	var onProgress func(transferred, total int64)
	if cfg.progressFn != nil {
		onProgress = func(transferred, total int64) {
			cfg.progressFn(DownloadProgress{Key: key, BytesTransferred: transferred, TotalBytes: total})
		}
	}
	if err := m.fetcher.fetch(fetchCtx, spec.URL, path, onProgress); err != nil {
		return "", artifactErr(key, path, err)
	}

	ok, err := VerifyFile(path, spec.Hash)
	if err != nil {
		return "", artifactErr(key, path, err)
	}
	if !ok {
		if m.logger != nil {
			m.logger.Error("hash mismatch", "key", key, "path", path)
		}
		return "", artifactErr(key, path, fmt.Errorf("%w: download might be corrupted", ErrIntegrity))
	}

	if m.logger != nil {
		m.logger.Info("artifact verified", "key", key, "path", path)
	}
	notify(cfg, Event{Phase: PhaseVerified, Key: key, Path: path, State: state})
	return path, nil
}

func notify(cfg *ensureConfig, ev Event) {
	if cfg.eventFn != nil {
		cfg.eventFn(ev)
	}
}

// Status returns the state of every artifact in manifest order.
func (m *manager) Status(ctx context.Context, targetDir string) ([]ArtifactStatus, error) {
	dir, err := m.targetDir(targetDir)
	if err != nil {
		return nil, err
	}
	if err := m.storage.ensureDir(dir); err != nil {
		return nil, err
	}

	statuses := make([]ArtifactStatus, 0, m.manifest.Len())
	for _, key := range m.manifest.keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec := m.manifest.entries[key]

		path, err := m.storage.resolvePath(dir, spec)
		if err != nil {
			return nil, artifactErr(key, dir, err)
		}
		state, err := m.storage.state(path, spec)
		if err != nil {
			return nil, artifactErr(key, path, err)
		}
		statuses = append(statuses, ArtifactStatus{
			Key:       key,
			Path:      path,
			State:     state,
			StateName: state.String(),
		})
	}
	return statuses, nil
}

// CheckAll reports whether every artifact is verified.
func (m *manager) CheckAll(ctx context.Context, targetDir string) (bool, error) {
	statuses, err := m.Status(ctx, targetDir)
	if err != nil {
		return false, err
	}
	return allVerified(statuses), nil
}

// allVerified is true iff every status is StateVerified.
func allVerified(statuses []ArtifactStatus) bool {
	for _, s := range statuses {
		if s.State != StateVerified {
			return false
		}
	}
	return true
}

// RequireArtifacts gates consumption of the artifacts on all of them being verified.
func (m *manager) RequireArtifacts(ctx context.Context, targetDir string) (map[string]string, error) {
	statuses, err := m.Status(ctx, targetDir)
	if err != nil {
		return nil, err
	}

	var merr *multierror.Error
	paths := make(map[string]string, len(statuses))
	for _, s := range statuses {
		if s.State != StateVerified {
			merr = multierror.Append(merr, artifactErr(s.Key, s.Path, fmt.Errorf("%s", s.State)))
			continue
		}
		paths[s.Key] = s.Path
	}

	if merr != nil {
		merr.ErrorFormat = listFormat
		return nil, fmt.Errorf("%w; download them again:\n%s", ErrArtifactsMissingOrCorrupt, merr.Error())
	}
	return paths, nil
}

// listFormat renders one artifact failure per line.
func listFormat(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = "  * " + err.Error()
	}
	return strings.Join(lines, "\n")
}
