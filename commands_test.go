package models

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCommand executes the CLI with args and returns its standard output.
func runCommand(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(ConfigEnvVar, "")

	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// cliFixture serves the three prediction artifacts.
type cliFixture struct {
	srv     *artifactServer
	mf      *Manifest
	content map[string][]byte
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	content := map[string][]byte{
		"/binary.h5":  []byte("binary model"),
		"/genus.h5":   []byte("genus model"),
		"/labels.txt": []byte("Alphavirus\nBetacoronavirus\n"),
	}
	srv := newArtifactServer(t, content)
	mf := testManifest(t,
		KeyBinaryModel, srv.URL+"/binary.h5", sha256Hex(content["/binary.h5"]),
		KeyGenusModel, srv.URL+"/genus.h5", sha256Hex(content["/genus.h5"]),
		KeyGenusLabels, srv.URL+"/labels.txt", sha256Hex(content["/labels.txt"]),
	)
	resetPublished(t, KeyBinaryModel, KeyGenusModel, KeyGenusLabels)
	return &cliFixture{srv: srv, mf: mf, content: content}
}

func (f *cliFixture) command(cfg Config) *cobra.Command {
	return NewCommand(cfg, WithManifest(f.mf), WithHTTPClient(f.srv.Client()))
}

// install writes every artifact into dir.
func (f *cliFixture) install(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, data := range f.content {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name[1:]), data, 0644))
	}
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand(Config{})

	assert.Equal(t, "virusnet", cmd.Use)
	for _, name := range []string{"config", "quiet", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing global flag %s", name)
	}

	want := map[string][]string{
		"download": {"path", "redownload"},
		"predict":  {"input", "output", "path", "step_size", "batch_size", "mode", "metagenome"},
		"status":   {"path", "json"},
	}
	for name, flags := range want {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, sub.Name())
		for _, flag := range flags {
			assert.NotNil(t, sub.Flags().Lookup(flag), "%s: missing flag --%s", name, flag)
		}
	}

	download, _, err := cmd.Find([]string{"download"})
	require.NoError(t, err)
	assert.Contains(t, download.Long, "symlink to a file outside --path is never replaced")
}

func TestDownloadCommand(t *testing.T) {
	f := newCLIFixture(t)
	dir := filepath.Join(t.TempDir(), "models")

	out, err := runCommand(t, f.command(Config{}), "", "download", "--path", dir, "--redownload", "never")
	require.NoError(t, err)

	assert.Contains(t, out, "Models will be downloaded to: "+dir)
	assert.Contains(t, out, "Downloading binary_model to "+filepath.Join(dir, "binary.h5"))
	assert.Contains(t, out, "Successfully verified the hash for genus_labels.")
	assert.Contains(t, out, "All 3 model files are present and verified.")
	assert.FileExists(t, filepath.Join(dir, "labels.txt"))
	assert.Equal(t, filepath.Join(dir, "genus.h5"), os.Getenv("VIRUSNET_GENUS_MODEL"))

	t.Run("never skips verified files", func(t *testing.T) {
		out, err := runCommand(t, f.command(Config{}), "", "download", "--path", dir, "--redownload", "never")
		require.NoError(t, err)
		assert.Contains(t, out, "Skipping binary_model, already verified.")
		assert.Equal(t, int64(1), f.srv.count("/binary.h5"))
	})

	t.Run("ask prompts per file", func(t *testing.T) {
		out, err := runCommand(t, f.command(Config{}), "yes\nno\n", "download", "--path", dir, "--redownload", "ask")
		require.NoError(t, err)
		assert.Contains(t, out, "Do you want to re-download it? (yes/no): ")
		assert.Equal(t, int64(2), f.srv.count("/binary.h5"))
		assert.Equal(t, int64(1), f.srv.count("/genus.h5"))
		// Input is exhausted, so the last file is kept.
		assert.Equal(t, int64(1), f.srv.count("/labels.txt"))
	})

	t.Run("always downloads everything", func(t *testing.T) {
		_, err := runCommand(t, f.command(Config{}), "", "download", "--path", dir, "--redownload", "always", "--quiet")
		require.NoError(t, err)
		assert.Equal(t, int64(2), f.srv.count("/genus.h5"))
		assert.Equal(t, int64(2), f.srv.count("/labels.txt"))
	})

	t.Run("auto without a terminal skips", func(t *testing.T) {
		_, err := runCommand(t, f.command(Config{}), "yes\nyes\nyes\n", "download", "--path", dir)
		require.NoError(t, err)
		assert.Equal(t, int64(2), f.srv.count("/labels.txt"))
	})

	t.Run("invalid redownload value", func(t *testing.T) {
		_, err := runCommand(t, f.command(Config{}), "", "download", "--path", dir, "--redownload", "sometimes")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid --redownload")
	})
}

func TestDownloadCommandDefaultPath(t *testing.T) {
	f := newCLIFixture(t)
	dataDir := t.TempDir()

	out, err := runCommand(t, f.command(Config{DataDir: dataDir}), "", "download", "--redownload", "never")
	require.NoError(t, err)
	assert.Contains(t, out, "Models will be downloaded to: "+dataDir)
	assert.FileExists(t, filepath.Join(dataDir, "binary.h5"))
}

func TestDownloadCommandQuiet(t *testing.T) {
	f := newCLIFixture(t)

	out, err := runCommand(t, f.command(Config{}), "", "--quiet", "download", "--path", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDownloadCommandFailure(t *testing.T) {
	f := newCLIFixture(t)
	f.content["/genus.h5"] = []byte("tampered")

	dir := t.TempDir()
	_, err := runCommand(t, f.command(Config{}), "", "download", "--path", dir)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.NoFileExists(t, filepath.Join(dir, "labels.txt"))
}

func TestStatusCommand(t *testing.T) {
	f := newCLIFixture(t)
	dir := t.TempDir()

	t.Run("table", func(t *testing.T) {
		out, err := runCommand(t, f.command(Config{}), "", "status", "--path", dir)
		assert.ErrorIs(t, err, ErrArtifactsMissingOrCorrupt)
		assert.Contains(t, out, "KEY")
		assert.Contains(t, out, "STATE")
		assert.Contains(t, out, "absent")
	})

	f.install(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "genus.h5"), []byte("corrupted"), 0644))

	t.Run("json", func(t *testing.T) {
		out, err := runCommand(t, f.command(Config{}), "", "status", "--path", dir, "--json")
		assert.ErrorIs(t, err, ErrArtifactsMissingOrCorrupt)

		var statuses []ArtifactStatus
		require.NoError(t, json.Unmarshal([]byte(out), &statuses))
		require.Len(t, statuses, 3)
		assert.Equal(t, KeyBinaryModel, statuses[0].Key)
		assert.Equal(t, "verified", statuses[0].StateName)
		assert.Equal(t, "corrupt", statuses[1].StateName)
		assert.Equal(t, filepath.Join(dir, "genus.h5"), statuses[1].Path)
	})

	t.Run("all verified", func(t *testing.T) {
		f.install(t, dir)
		out, err := runCommand(t, f.command(Config{}), "", "status", "--path", dir)
		require.NoError(t, err)
		assert.NotContains(t, out, "corrupt")
		assert.Equal(t, int64(0), f.srv.count("/binary.h5"))
	})
}

func TestPredictCommand(t *testing.T) {
	t.Run("invalid mode fails before loading the manifest", func(t *testing.T) {
		cmd := NewCommand(Config{InstallRoot: t.TempDir()})
		_, err := runCommand(t, cmd, "", "predict", "--input", "in.fasta", "--output", "out", "--mode", "species")
		assert.ErrorIs(t, err, ErrInvalidMode)
	})

	t.Run("required flags", func(t *testing.T) {
		_, err := runCommand(t, NewCommand(Config{}), "", "predict", "--output", "out")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input")
	})

	t.Run("missing artifacts", func(t *testing.T) {
		f := newCLIFixture(t)
		dir := t.TempDir()
		_, err := runCommand(t, f.command(Config{}), "", "predict", "--input", "in", "--output", "out", "--path", dir)
		assert.ErrorIs(t, err, ErrArtifactsMissingOrCorrupt)
		assert.Contains(t, err.Error(), KeyGenusLabels)
		assert.Equal(t, int64(0), f.srv.count("/binary.h5"))
	})
}

func TestPredictCommandRunsScript(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	f := newCLIFixture(t)
	dir := t.TempDir()
	f.install(t, dir)

	scriptDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scriptDir, "predict_binary_metagenome.r"),
		[]byte("echo \"metagenome $2 ${12} ${14}\"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(scriptDir, "predict_genus.r"),
		[]byte("echo \"genus ${12} ${14} $VIRUSNET_GENUS_LABELS\"\n"), 0644))
	cfg := Config{Interpreter: "sh", ScriptDir: scriptDir}

	t.Run("flags", func(t *testing.T) {
		out, err := runCommand(t, f.command(cfg), "",
			"predict", "--input", "in.fasta", "--output", "out", "--path", dir,
			"--metagenome", "--step_size", "250", "--batch_size", "16")
		require.NoError(t, err)
		assert.Equal(t, "metagenome in.fasta 250 16\n", out)
	})

	t.Run("config file defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "virusnet.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("mode: genus\nstep_size: 500\n"), 0644))

		out, err := runCommand(t, f.command(cfg), "",
			"--config", configPath, "predict", "--input", "in.fasta", "--output", "out", "--path", dir)
		require.NoError(t, err)
		assert.Equal(t, "genus 500 100 "+filepath.Join(dir, "labels.txt")+"\n", out)
	})
}

func TestRenderProgress(t *testing.T) {
	t.Run("caps at 100 percent", func(t *testing.T) {
		var buf bytes.Buffer
		renderProgress(&buf, 150, 100, time.Now())
		assert.Contains(t, buf.String(), "100.00%")
		assert.Contains(t, buf.String(), "["+strings.Repeat("=", 50)+"]")
	})

	t.Run("partial", func(t *testing.T) {
		var buf bytes.Buffer
		renderProgress(&buf, 50, 100, time.Now())
		assert.Contains(t, buf.String(), "50.00%")
		assert.Contains(t, buf.String(), strings.Repeat("=", 25)+">")
	})

	t.Run("unknown total", func(t *testing.T) {
		var buf bytes.Buffer
		renderProgress(&buf, 2048, -1, time.Now())
		assert.Contains(t, buf.String(), "Downloading: 2.00 KB")
		assert.NotContains(t, buf.String(), "%")
	})
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := newProgressBar(&buf)

	bar.update(DownloadProgress{BytesTransferred: 1, TotalBytes: 2})
	assert.Empty(t, buf.String(), "updates before start are ignored")

	bar.start()
	bar.update(DownloadProgress{BytesTransferred: 1, TotalBytes: 4})
	bar.finish()
	assert.Contains(t, buf.String(), "25.00%")
	assert.Contains(t, buf.String(), "100.00%")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes))
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "0s"},
		{5 * time.Second, "5s"},
		{2*time.Minute + 30*time.Second, "2m 30s"},
		{3 * time.Minute, "3m"},
		{time.Hour + 5*time.Minute, "1h 5m"},
		{2 * time.Hour, "2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "512 B/s", formatSpeed(512))
	assert.Equal(t, "2.0 KB/s", formatSpeed(2048))
	assert.Equal(t, "1.5 MB/s", formatSpeed(1.5*1024*1024))
}
