package cli

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/spf13/cobra"
)

func statusCmd(a *App) *cobra.Command {
	var (
		f     models.TaskFilter
		state string
		wait  bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ingestion tasks matching every given filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch st := models.TaskState(strings.ToLower(state)); st {
			case "":
			case models.TaskPending, models.TaskSuccess, models.TaskFailed:
				f.State = st
			default:
				return fmt.Errorf("%w: unknown task state %q", common.ErrValidation, state)
			}

			d, err := a.services(cmd.Context())
			if err != nil {
				return err
			}

			var tasks []models.IngestionTask
			if wait {
				tasks, err = d.Tracker.WaitFor(cmd.Context(), f, a.cfg.PollInterval, a.cfg.MaxPolls)
			} else {
				tasks, _, err = d.Tracker.Query(cmd.Context(), f)
			}
			if err != nil {
				return err
			}
			return render(a.out, outputFormat(cmd), tasks, taskTable(tasks))
		},
	}
	cmd.Flags().StringVar(&f.Project, "project", "", "project filter")
	cmd.Flags().StringVar(&f.FileName, "filename", "", "file name filter")
	cmd.Flags().StringVar(&state, "state", "", "state filter: pending, success or failed")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until every matching task is finished")
	return cmd
}
