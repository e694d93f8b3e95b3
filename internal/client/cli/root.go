package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/ddictl/internal/client/config"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/logging"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitValidation     = 2
	ExitAuthentication = 3
	ExitNotFound       = 4
)

// ExitCode maps an error returned by a command onto the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, common.ErrValidation):
		return ExitValidation
	case errors.Is(err, common.ErrAuthentication):
		return ExitAuthentication
	case errors.Is(err, common.ErrNotFound):
		return ExitNotFound
	default:
		return ExitFailure
	}
}

// NewRootCmd builds the command tree around a.
func NewRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "ddictl",
		Short:         "Manage datasets on a LEXIS DDI gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(a.v)
			if err != nil {
				return fmt.Errorf("%w: %w", common.ErrValidation, err)
			}
			a.cfg = cfg
			a.log = logging.New(cfg.LogLevel, cfg.LogFormat, a.errOut)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	// BindFlags only fails on an unknown flag name, which is a programming
	// error caught by the tests.
	if err := config.BindFlags(pf, a.v); err != nil {
		panic(err)
	}
	pf.StringP("output", "o", "table", "output format: table, json or yaml")

	root.AddCommand(
		loginCmd(a),
		datasetCmd(a),
		uploadCmd(a),
		statusCmd(a),
	)
	return root
}

// Execute runs ddictl with args and returns the process exit code. Errors
// are printed to errOut.
func Execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := NewApp(in, out, errOut)
	return a.Execute(ctx, args)
}

func (a *App) Execute(ctx context.Context, args []string) int {
	root := NewRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(a.errOut, "error:", err)
	}
	return ExitCode(err)
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}
