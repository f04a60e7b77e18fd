package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Redownload policy names accepted by "download --redownload".
const (
	RedownloadAuto   = "auto"
	RedownloadAsk    = "ask"
	RedownloadAlways = "always"
	RedownloadNever  = "never"
)

// cliState carries the global flags and the lazily built Manager.
type cliState struct {
	cfg  Config
	opts []ManagerOption

	configPath   string
	fileDefaults *FileConfig
	quiet        bool
	verbose      bool

	logger Logger
	mgr    Manager
}

// NewCommand creates the Cobra command tree of the virusnet CLI.
//
// Commands provided:
//   - download [--path DIR] [--redownload auto|ask|always|never]
//   - predict --input P --output P [--path DIR] [--step_size N] [--batch_size N] [--mode binary|genus] [--metagenome]
//   - status [--path DIR] [--json]
//
// Global flags: --config, --quiet, --verbose
func NewCommand(cfg Config, opts ...ManagerOption) *cobra.Command {
	st := &cliState{cfg: cfg, opts: opts}

	cmd := &cobra.Command{
		Use:   "virusnet",
		Short: "VirusNet Tool",
		Long:  "Download and verify the VirusNet models and run predictions with them.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return st.loadConfig(cmd.ErrOrStderr())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&st.configPath, "config", "", "Path to a YAML config file (default $"+ConfigEnvVar+")")
	cmd.PersistentFlags().BoolVarP(&st.quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "Verbose output")

	cmd.AddCommand(downloadCmd(st))
	cmd.AddCommand(predictCmd(st))
	cmd.AddCommand(statusCmd(st))

	return cmd
}

// loadConfig merges the config file into cfg and sets up logging.
func (st *cliState) loadConfig(stderr io.Writer) error {
	path := st.configPath
	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	if path != "" {
		fc, err := LoadConfigFile(path)
		if err != nil {
			return err
		}
		st.cfg = fc.Apply(st.cfg)
		st.fileDefaults = fc
	}

	level := zapcore.WarnLevel
	switch {
	case st.verbose:
		level = zapcore.DebugLevel
	case st.quiet:
		level = zapcore.ErrorLevel
	}
	st.logger = NewZapLogger(level, stderr)
	return nil
}

// manager builds the Manager on first use.
func (st *cliState) manager() (Manager, error) {
	if st.mgr != nil {
		return st.mgr, nil
	}
	opts := append([]ManagerOption{WithLogger(st.logger)}, st.opts...)
	mgr, err := NewManager(st.cfg, opts...)
	if err != nil {
		return nil, err
	}
	st.mgr = mgr
	return mgr, nil
}

// addPathFlag registers --path on fs.
func addPathFlag(fs *pflag.FlagSet, p *string) {
	fs.StringVar(p, "path", "", "Directory holding the model files (default ~/.virusnet)")
}

func downloadCmd(st *cliState) *cobra.Command {
	var (
		path       string
		redownload string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and verify the model files",
		Long: `Download every model listed in models.json into --path and verify its SHA-256 hash.

A model file that is a symlink to a file outside --path is never replaced:
if it must be downloaded (missing target, corrupt or --redownload always),
the download fails and the link is left as it is.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			policy, err := redownloadPolicy(redownload, cmd.InOrStdin(), out)
			if err != nil {
				return err
			}

			mgr, err := st.manager()
			if err != nil {
				return err
			}
			if path == "" {
				path = mgr.DataDir()
			}

			opts := []EnsureOption{WithRedownloadPolicy(policy)}
			if !st.quiet {
				fmt.Fprintf(out, "Models will be downloaded to: %s\n", path)
				fmt.Fprintln(out, "You can change the download location by using the --path argument.")
				bar := newProgressBar(out)
				opts = append(opts,
					WithEvents(func(ev Event) {
						switch ev.Phase {
						case PhaseDownloading:
							fmt.Fprintf(out, "Downloading %s to %s...\n", ev.Key, ev.Path)
							bar.start()
						case PhaseVerified:
							bar.finish()
							fmt.Fprintf(out, "Successfully verified the hash for %s.\n", ev.Key)
						case PhaseSkipped:
							fmt.Fprintf(out, "Skipping %s, already verified.\n", ev.Key)
						}
					}),
					WithProgress(bar.update),
				)
			}

			paths, err := mgr.EnsureAll(ctx, path, opts...)
			if err != nil {
				return err
			}
			if err := PublishEnvironment(paths); err != nil {
				return err
			}

			if !st.quiet {
				fmt.Fprintf(out, "All %d model files are present and verified.\n", len(paths))
			}
			return nil
		},
	}

	addPathFlag(cmd.Flags(), &path)
	cmd.Flags().StringVar(&redownload, "redownload", RedownloadAuto,
		"Re-download files that are already verified: auto (ask when interactive), ask, always, never")
	return cmd
}

// redownloadPolicy maps a --redownload value to a policy.
func redownloadPolicy(name string, in io.Reader, out io.Writer) (RedownloadPolicy, error) {
	switch name {
	case RedownloadAuto:
		if isTerminal(in) {
			return PromptPolicy(in, out), nil
		}
		return AlwaysSkip, nil
	case RedownloadAsk:
		return PromptPolicy(in, out), nil
	case RedownloadAlways:
		return AlwaysRedownload, nil
	case RedownloadNever:
		return AlwaysSkip, nil
	default:
		return nil, fmt.Errorf("invalid --redownload %q: want auto, ask, always or never", name)
	}
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func predictCmd(st *cliState) *cobra.Command {
	var (
		path       string
		input      string
		output     string
		stepSize   int
		batchSize  int
		mode       string
		metagenome bool
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run a prediction with the downloaded models",
		Long:  "Verify the model files and run the prediction script selected by --mode and --metagenome.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()

			if fc := st.fileDefaults; fc != nil {
				if !flags.Changed("mode") && fc.Mode != "" {
					mode = fc.Mode
				}
				if !flags.Changed("step_size") && fc.StepSize > 0 {
					stepSize = fc.StepSize
				}
				if !flags.Changed("batch_size") && fc.BatchSize > 0 {
					batchSize = fc.BatchSize
				}
			}

			predictionMode, err := ParsePredictionMode(mode, metagenome)
			if err != nil {
				return err
			}
			if metagenome && predictionMode == ModeGenus && st.logger != nil {
				st.logger.Warn("--metagenome only applies to binary mode, ignoring")
			}

			mgr, err := st.manager()
			if err != nil {
				return err
			}
			paths, err := mgr.RequireArtifacts(ctx, path)
			if err != nil {
				return err
			}
			if err := PublishEnvironment(paths); err != nil {
				return err
			}

			predictor, err := NewPredictor(st.cfg, st.logger)
			if err != nil {
				return err
			}
			predictor.Stdout = cmd.OutOrStdout()
			predictor.Stderr = cmd.ErrOrStderr()

			return predictor.Run(ctx, PredictRequest{
				Input:     input,
				Output:    output,
				Mode:      predictionMode,
				StepSize:  stepSize,
				BatchSize: batchSize,
			}, paths)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&input, "input", "", "Input sequence file")
	flags.StringVar(&output, "output", "", "Output path")
	addPathFlag(flags, &path)
	flags.IntVar(&stepSize, "step_size", DefaultStepSize, "Step size for prediction")
	flags.IntVar(&batchSize, "batch_size", DefaultBatchSize, "Batch size for prediction")
	flags.StringVar(&mode, "mode", "binary", "Prediction mode: binary or genus")
	flags.BoolVar(&metagenome, "metagenome", false, "Enable metagenome mode (only applicable for binary mode)")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

func statusCmd(st *cliState) *cobra.Command {
	var (
		path       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the model files",
		Long:  "Verify every model file in --path and report it as verified, corrupt or absent. Nothing is downloaded.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := st.manager()
			if err != nil {
				return err
			}
			statuses, err := mgr.Status(cmd.Context(), path)
			if err != nil {
				return err
			}
			if err := outputStatuses(cmd.OutOrStdout(), statuses, jsonOutput); err != nil {
				return err
			}
			if !allVerified(statuses) {
				return ErrArtifactsMissingOrCorrupt
			}
			return nil
		},
	}

	addPathFlag(cmd.Flags(), &path)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// Output helpers

func outputStatuses(w io.Writer, statuses []ArtifactStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	table := uitable.New()
	table.MaxColWidth = 80
	table.AddRow("KEY", "STATE", "PATH")
	for _, s := range statuses {
		table.AddRow(s.Key, s.State.String(), s.Path)
	}
	_, err := fmt.Fprintln(w, table)
	return err
}

// progressBar renders DownloadProgress updates on a single line.
type progressBar struct {
	w         io.Writer
	startTime time.Time
	active    bool
	last      DownloadProgress
}

func newProgressBar(w io.Writer) *progressBar {
	return &progressBar{w: w}
}

func (b *progressBar) start() {
	b.startTime = time.Now()
	b.active = true
	b.last = DownloadProgress{}
}

func (b *progressBar) update(p DownloadProgress) {
	if !b.active {
		return
	}
	b.last = p
	renderProgress(b.w, p.BytesTransferred, p.TotalBytes, b.startTime)
}

func (b *progressBar) finish() {
	if !b.active {
		return
	}
	if b.last.TotalBytes > 0 {
		renderProgress(b.w, b.last.TotalBytes, b.last.TotalBytes, b.startTime)
	}
	fmt.Fprintln(b.w)
	b.active = false
}

// renderProgress renders the progress bar to the writer.
// Format: Downloading: [=========>                    ] 45.00% (5.2 MB/s, elapsed: 30s)
// The percentage never exceeds 100 even if the server misreports the size.
// An unknown total (<= 0) renders the transferred byte count only.
func renderProgress(w io.Writer, current, total int64, startTime time.Time) {
	elapsed := time.Since(startTime)

	var speed float64
	if elapsed.Seconds() > 0 && current > 0 {
		speed = float64(current) / elapsed.Seconds()
	}

	if total <= 0 {
		fmt.Fprintf(w, "\r\x1b[KDownloading: %s (%s, elapsed: %s)",
			formatSize(current), formatSpeed(speed), formatDuration(elapsed))
		return
	}

	pct := float64(current) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}

	const barWidth = 50
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}

	var bar string
	if filled >= barWidth {
		bar = strings.Repeat("=", barWidth)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled) + ">" + strings.Repeat(" ", barWidth-filled-1)
	} else {
		bar = ">" + strings.Repeat(" ", barWidth-1)
	}

	fmt.Fprintf(w, "\r\x1b[KDownloading: [%s] %.2f%% (%s, elapsed: %s)",
		bar, pct, formatSpeed(speed), formatDuration(elapsed))
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatSpeed formats bytes per second as KB/s or MB/s.
func formatSpeed(bytesPerSec float64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	if bytesPerSec >= MB {
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/MB)
	}
	if bytesPerSec >= KB {
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/KB)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

// formatDuration formats a duration as human-readable text (e.g., "5s", "2m 30s", "1h 5m").
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)

	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if hours > 0 {
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	if mins > 0 {
		if secs > 0 {
			return fmt.Sprintf("%dm %ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}
