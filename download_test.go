package models

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	content := make([]byte, 3*transferBufferSize+17)
	for i := range content {
		content[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.Write(content)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.bin")
	f := newFetcher(srv.Client(), nil)

	var calls int
	var last int64
	err := f.fetch(context.Background(), srv.URL+"/model.bin", dest, func(transferred, total int64) {
		calls++
		assert.GreaterOrEqual(t, transferred, last, "progress must be monotonic")
		assert.Equal(t, int64(len(content)), total)
		last = transferred
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, int64(len(content)), last)
	assert.Greater(t, calls, 1)
}

func TestFetchOverwrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(dest, []byte("old and longer"), 0644))
	require.NoError(t, os.WriteFile(dest+partSuffix, []byte("stale"), 0644))

	require.NoError(t, newFetcher(srv.Client(), nil).fetch(context.Background(), srv.URL, dest, nil))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
	assert.NoFileExists(t, dest+partSuffix)
}

func TestFetchClampsProgress(t *testing.T) {
	// A misreporting server: announces 4 bytes, sends 10.
	body := []byte("0123456789")
	client := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			ContentLength: 4,
			Body:          io.NopCloser(bytes.NewReader(body)),
			Request:       r,
		}, nil
	})

	dest := filepath.Join(t.TempDir(), "model.bin")
	var peak int64
	err := newFetcher(client, nil).fetch(context.Background(), "http://example.com/m.bin", dest, func(transferred, total int64) {
		if transferred > peak {
			peak = transferred
		}
		assert.LessOrEqual(t, transferred, total)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), peak)
}

func TestFetchUnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush() // forces chunked encoding
		w.Write([]byte("streamed"))
	}))
	defer srv.Close()

	var total int64
	dest := filepath.Join(t.TempDir(), "model.bin")
	err := newFetcher(srv.Client(), nil).fetch(context.Background(), srv.URL, dest, func(_, tot int64) {
		total = tot
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), total)
}

func TestFetchErrors(t *testing.T) {
	t.Run("non-200 status is a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		dest := filepath.Join(t.TempDir(), "model.bin")
		err := newFetcher(srv.Client(), nil).fetch(context.Background(), srv.URL, dest, nil)
		assert.True(t, errors.Is(err, ErrNetwork), "error = %v", err)
		assert.NoFileExists(t, dest)
		assert.NoFileExists(t, dest+partSuffix)
	})

	t.Run("connection refused is a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		err := newFetcher(http.DefaultClient, nil).fetch(context.Background(), url, filepath.Join(t.TempDir(), "m"), nil)
		assert.ErrorIs(t, err, ErrNetwork)
	})

	t.Run("missing destination directory is an io error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("data"))
		}))
		defer srv.Close()

		dest := filepath.Join(t.TempDir(), "does", "not", "exist", "model.bin")
		err := newFetcher(srv.Client(), nil).fetch(context.Background(), srv.URL, dest, nil)
		assert.ErrorIs(t, err, ErrIO)
	})

	t.Run("truncated body is a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "100")
			w.Write([]byte("short"))
		}))
		defer srv.Close()

		dest := filepath.Join(t.TempDir(), "model.bin")
		err := newFetcher(srv.Client(), nil).fetch(context.Background(), srv.URL, dest, nil)
		assert.ErrorIs(t, err, ErrNetwork)
		assert.NoFileExists(t, dest)
		assert.NoFileExists(t, dest+partSuffix)
	})
}

func TestFetchCancelRemovesPartial(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	dest := filepath.Join(t.TempDir(), "model.bin")
	err := newFetcher(srv.Client(), nil).fetch(ctx, srv.URL, dest, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+partSuffix)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	dest := filepath.Join(t.TempDir(), "model.bin")
	err := newFetcher(srv.Client(), nil).fetch(ctx, srv.URL, dest, nil)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+partSuffix)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }
