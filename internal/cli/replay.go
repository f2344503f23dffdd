package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mandate-sh/mandate/internal/audit"
	"github.com/mandate-sh/mandate/internal/kernel"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplaySummary is the replay command's result payload.
type ReplaySummary struct {
	Database   string `json:"database"`
	LogEntries int    `json:"log_entries"`
	ChainHead  string `json:"chain_head"`
	Verified   bool   `json:"verified"`
}

func (s ReplaySummary) String() string {
	if s.Verified {
		return fmt.Sprintf("replay %s: %d entries verified, chain head %s",
			s.Database, s.LogEntries, s.ChainHead)
	}
	return fmt.Sprintf("replay %s: divergent", s.Database)
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-execute a persisted run and verify bit-exact equivalence",
		Long: `Load a persisted audit log, re-execute the recorded batches against a
fresh kernel, and compare every resulting entry hash against the
recording. Any divergence exits 1 with the first divergent index.

Example:
  mandate replay --db ./audit.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database (required)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	db, err := audit.Open(opts.Database)
	if err != nil {
		formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open audit database", err)
	}
	defer db.Close()

	recorded, err := db.Load(ctx)
	if err != nil {
		formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load audit log", err)
	}
	formatter.VerboseLog("loaded %d entries from %s", recorded.Len(), opts.Database)

	if err := kernel.VerifyReplay(recorded); err != nil {
		var ie *kernel.InvalidRunError
		if errors.As(err, &ie) {
			formatter.Error(ErrCodeDivergence, ie.Error(), map[string]any{
				"index":    ie.Index,
				"expected": ie.Expected,
				"observed": ie.Observed,
			})
			return WrapExitError(ExitFailure, "replay divergence", err)
		}
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	return formatter.Success(ReplaySummary{
		Database:   opts.Database,
		LogEntries: recorded.Len(),
		ChainHead:  recorded.LastHash(),
		Verified:   true,
	})
}
