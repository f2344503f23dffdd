package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mandate-sh/mandate/internal/audit"
	"github.com/mandate-sh/mandate/internal/kernel"
	"github.com/mandate-sh/mandate/internal/manifest"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string

	// IDGenerator overrides the authority identity source (tests).
	// Nil means production UUIDv7 identities.
	IDGenerator kernel.IDGenerator
}

// RunSummary is the run command's result payload.
type RunSummary struct {
	Manifest   string `json:"manifest"`
	Batches    int    `json:"batches"`
	Outcomes   int    `json:"outcomes"`
	FinalEpoch int64  `json:"final_epoch"`
	FinalMode  string `json:"final_mode"`
	GasUsed    int64  `json:"gas_used"`
	LogEntries int    `json:"log_entries"`
	ChainHead  string `json:"chain_head"`
	InvalidRun string `json:"invalid_run,omitempty"`
}

func (s RunSummary) String() string {
	out := fmt.Sprintf("run %s: %d batches, %d outcomes, epoch %d, mode %s, gas %d, %d log entries",
		s.Manifest, s.Batches, s.Outcomes, s.FinalEpoch, s.FinalMode, s.GasUsed, s.LogEntries)
	if s.InvalidRun != "" {
		out += fmt.Sprintf(" (INVALID_RUN/%s)", s.InvalidRun)
	}
	return out
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <manifest.cue>",
		Short: "Execute a scripted run from a manifest",
		Long: `Execute the event batches scripted in a CUE manifest against a fresh
kernel, then print a summary. With --db, the audit log is persisted to
SQLite for later replay verification.

Example:
  mandate run ./runs/review.cue --db ./audit.db
  mandate run ./runs/review.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifest(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database (optional)")
	return cmd
}

func runManifest(ctx context.Context, opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := manifest.LoadFile(path)
	if err != nil {
		formatter.Error(ErrCodeManifest, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load manifest", err)
	}
	slog.Info("manifest loaded", "name", m.Name, "batches", len(m.Batches))

	kopts := m.KernelOptions()
	if opts.IDGenerator != nil {
		kopts = append(kopts, kernel.WithIDGenerator(opts.IDGenerator))
	}
	k := kernel.New(kopts...)

	summary := RunSummary{Manifest: m.Name, Batches: len(m.Batches)}
	var runErr error
	for bi, batch := range m.Batches {
		for _, ev := range batch {
			if ev.Epoch == manifest.EpochUnset {
				ev.Epoch = k.State().Epoch()
			}
		}
		outcomes, err := k.ProcessBatch(batch)
		summary.Outcomes += len(outcomes)
		for _, o := range outcomes {
			formatter.VerboseLog("batch %d: %s", bi, o.Token())
		}
		if err != nil {
			runErr = err
			break
		}
	}

	summary.FinalEpoch = k.State().Epoch()
	summary.FinalMode = modeString(k)
	summary.GasUsed = k.Gas().Used()
	summary.LogEntries = k.Log().Len()
	summary.ChainHead = k.Log().LastHash()

	var ie *kernel.InvalidRunError
	if errors.As(runErr, &ie) {
		summary.InvalidRun = string(ie.Code)
	}

	// Persist even an invalidated run: the log is the evidence.
	if opts.Database != "" {
		if err := persistLog(ctx, opts.Database, k.Log()); err != nil {
			formatter.Error(ErrCodeDatabase, err.Error(), nil)
			return WrapExitError(ExitCommandError, "persist audit log", err)
		}
		slog.Info("audit log persisted", "path", opts.Database, "entries", k.Log().Len())
	}

	if err := formatter.Success(summary); err != nil {
		return err
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "run invalidated", runErr)
	}
	return nil
}

func persistLog(ctx context.Context, path string, log *audit.Log) error {
	db, err := audit.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Save(ctx, log)
}

func modeString(k *kernel.Kernel) string {
	mode := k.State().Mode()
	if mode.Running() {
		return mode.Phase
	}
	return mode.Phase + ":" + string(mode.Deadlock)
}
