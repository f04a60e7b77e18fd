package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gofrs/flock"
)

const (
	// DefaultLockTimeout is the default timeout for acquiring the target directory lock.
	DefaultLockTimeout = 30 * time.Second

	// lockFileName is created inside the target directory while a download runs.
	lockFileName = ".virusnet.lock"

	// prefixEnvVar overrides the installation root.
	prefixEnvVar = "VIRUSNET_PREFIX"
)

// storageInterface defines the local filesystem operations the manager needs.
// Implemented by *storage for production; tests substitute their own.
type storageInterface interface {
	// resolvePath returns the local path of an artifact inside targetDir.
	resolvePath(targetDir string, spec ArtifactSpec) (string, error)

	// state reports whether the file at path is absent, verified or corrupt.
	state(path string, spec ArtifactSpec) (ArtifactState, error)

	// ensureDir creates a directory and all parent directories if they don't exist.
	ensureDir(path string) error

	// contained fails if path escapes targetDir through a symlink.
	contained(targetDir, path string) error

	// lock acquires the cross-process lock of targetDir.
	lock(ctx context.Context, targetDir string) (func(), error)
}

// storage handles all local filesystem operations.
type storage struct {
	// lockTimeout is the maximum duration to wait for lock acquisition.
	lockTimeout time.Duration
}

// Ensure storage implements storageInterface.
var _ storageInterface = (*storage)(nil)

func newStorage() *storage {
	return &storage{lockTimeout: DefaultLockTimeout}
}

// ResolvePath returns targetDir joined with the basename of the artifact URL.
// It is deterministic and touches no files.
func ResolvePath(targetDir string, spec ArtifactSpec) (string, error) {
	name, err := artifactFileName(spec.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrManifestParse, err)
	}
	return filepath.Join(targetDir, name), nil
}

func (s *storage) resolvePath(targetDir string, spec ArtifactSpec) (string, error) {
	return ResolvePath(targetDir, spec)
}

// state stats the file at path and, if present, verifies its digest.
func (s *storage) state(path string, spec ArtifactSpec) (ArtifactState, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return StateAbsent, nil
	}
	if err != nil {
		return StateAbsent, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}
	if info.IsDir() {
		return StateAbsent, fmt.Errorf("%w: %s is a directory", ErrIO, path)
	}

	ok, err := VerifyFile(path, spec.Hash)
	if err != nil {
		return StateAbsent, err
	}
	if ok {
		return StateVerified, nil
	}
	return StateCorrupt, nil
}

// ensureDir creates a directory and all parent directories if they don't exist.
func (s *storage) ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory %s: %v", ErrIO, path, err)
	}
	return nil
}

// contained resolves path inside targetDir the way a chroot would and fails if
// symlinks would make a write land somewhere other than path itself.
func (s *storage) contained(targetDir, path string) error {
	rel, err := filepath.Rel(targetDir, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	scoped, err := securejoin.SecureJoin(targetDir, rel)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrIO, path, err)
	}
	if filepath.Clean(scoped) != filepath.Clean(path) {
		return fmt.Errorf("%w: %s resolves outside %s", ErrIO, path, targetDir)
	}
	return nil
}

// lock takes an exclusive flock on <targetDir>/.virusnet.lock so that two
// download runs never write the same directory.
func (s *storage) lock(ctx context.Context, targetDir string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fileLock := flock.New(filepath.Join(targetDir, lockFileName))

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: another download is running in %s", ErrIO, targetDir)
		}
		return nil, fmt.Errorf("%w: locking %s: %v", ErrIO, targetDir, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: another download is running in %s", ErrIO, targetDir)
	}
	return func() { fileLock.Unlock() }, nil
}

// defaultDataDir returns ~/.virusnet.
func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".virusnet"), nil
}

// defaultInstallRoot returns $VIRUSNET_PREFIX, or the parent of the directory
// holding the running executable (<root>/bin/virusnet -> <root>).
func defaultInstallRoot() (string, error) {
	if prefix := os.Getenv(prefixEnvVar); prefix != "" {
		return prefix, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(filepath.Dir(exe)), nil
}
