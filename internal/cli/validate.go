package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mandate-sh/mandate/internal/manifest"
)

// ValidateSummary is the validate command's result payload.
type ValidateSummary struct {
	Manifest  string `json:"manifest"`
	Name      string `json:"name"`
	Batches   int    `json:"batches"`
	Events    int    `json:"events"`
	GasBudget int64  `json:"gas_budget,omitempty"`
}

func (s ValidateSummary) String() string {
	return fmt.Sprintf("manifest %s (%s): valid, %d batches, %d events",
		s.Manifest, s.Name, s.Batches, s.Events)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest.cue>",
		Short: "Schema-check a run manifest without executing it",
		Long: `Load a CUE manifest and run full schema validation: closed structs,
typed fields, no floats, no nulls. Nothing is executed.

Example:
  mandate validate ./runs/review.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    rootOpts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   rootOpts.Verbose,
			}

			m, err := manifest.LoadFile(args[0])
			if err != nil {
				formatter.Error(ErrCodeManifest, err.Error(), nil)
				return WrapExitError(ExitFailure, "manifest invalid", err)
			}

			events := 0
			for _, batch := range m.Batches {
				events += len(batch)
			}
			return formatter.Success(ValidateSummary{
				Manifest:  args[0],
				Name:      m.Name,
				Batches:   len(m.Batches),
				Events:    events,
				GasBudget: m.GasBudget,
			})
		},
	}
	return cmd
}
