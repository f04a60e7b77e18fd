package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

// partSuffix marks a file that is still being transferred.
const partSuffix = ".part"

// transferBufferSize is the read size of a transfer. Progress is reported once per read.
const transferBufferSize = 32 * 1024

// fetcher moves the bytes of a remote artifact into a local file.
// It neither retries nor verifies.
type fetcher struct {
	// httpClient is used for HTTP requests.
	httpClient HTTPClient

	// logger receives diagnostic messages. May be nil.
	logger Logger
}

// newFetcher creates a new fetcher.
func newFetcher(client HTTPClient, logger Logger) *fetcher {
	return &fetcher{
		httpClient: client,
		logger:     logger,
	}
}

// fetch downloads url to destPath, creating or replacing it.
// The body is written to destPath+".part" and renamed into place once complete,
// so an interrupted transfer never leaves a truncated file under destPath.
// onProgress, if set, is called after every read with the running byte count,
// clamped to the announced total. Cancelling ctx aborts the transfer and
// removes the partial file.
func (f *fetcher) fetch(ctx context.Context, url, destPath string, onProgress func(transferred, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: creating request for %s: %v", ErrNetwork, url, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(url, ctxErr)
		}
		return fmt.Errorf("%w: fetching %s: %v", ErrNetwork, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: fetching %s: status %d", ErrNetwork, url, resp.StatusCode)
	}

	total := resp.ContentLength // -1 when unknown

	partPath := destPath + partSuffix
	// A stale part file, or a symlink planted under its name, is removed first
	// and the new one is created exclusively.
	if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing stale %s: %v", ErrIO, partPath, err)
	}
	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrIO, partPath, err)
	}

	committed := false
	defer func() {
		if !committed {
			out.Close()
			os.Remove(partPath)
		}
	}()

	var reader io.Reader = resp.Body
	if onProgress != nil {
		var transferred int64
		reader = &progressReader{reader: resp.Body, onProgress: func(delta int64) {
			transferred += delta
			reported := transferred
			if total > 0 && reported > total {
				reported = total
			}
			onProgress(reported, total)
		}}
	}

	buf := make([]byte, transferBufferSize)
	written, err := io.CopyBuffer(writerOnly{out}, reader, buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(url, ctxErr)
		}
		var we *writeError
		if errors.As(err, &we) {
			return fmt.Errorf("%w: writing %s: %v", ErrIO, partPath, we.err)
		}
		return fmt.Errorf("%w: reading %s: %v", ErrNetwork, url, err)
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, partPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, partPath, err)
	}
	if err := os.Rename(partPath, destPath); err != nil {
		return fmt.Errorf("%w: renaming %s: %v", ErrIO, partPath, err)
	}
	committed = true

	if f.logger != nil {
		f.logger.Debug("artifact transferred", "url", url, "path", destPath, "bytes", written)
	}
	return nil
}

// contextError reports an aborted transfer. An expired deadline is a
// timed-out transfer and counts as a network failure; cancellation is not.
func contextError(url string, ctxErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: fetching %s: timed out: %w", ErrNetwork, url, ctxErr)
	}
	return fmt.Errorf("fetching %s: %w", url, ctxErr)
}

// progressReader wraps an io.Reader and reports progress as bytes are read.
type progressReader struct {
	reader     io.Reader
	onProgress func(delta int64)
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 && pr.onProgress != nil {
		pr.onProgress(int64(n))
	}
	return
}

// writeError marks failures on the local side of a copy.
type writeError struct {
	err error
}

func (e *writeError) Error() string { return e.err.Error() }

// writerOnly hides ReaderFrom and tags write failures so they can be told
// apart from read failures.
type writerOnly struct {
	w io.Writer
}

func (w writerOnly) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}
