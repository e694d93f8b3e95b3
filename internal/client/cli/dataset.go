package cli

import (
	"fmt"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/client/services"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/filex"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func datasetCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{Use: "dataset", Short: "Manage datasets"}
	cmd.AddCommand(
		datasetCreateCmd(a),
		datasetListCmd(a),
		datasetDeleteCmd(a),
		datasetFilesCmd(a),
		datasetPathCmd(a),
		datasetDownloadCmd(a),
	)
	return cmd
}

// refFlags binds the flags that address an existing dataset. The zone comes
// from the global --zone flag.
type refFlags struct {
	access  string
	project string
}

func (f *refFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.access, "access", "", "access level: public, project or user")
	cmd.Flags().StringVar(&f.project, "project", "", "project short name")
	_ = cmd.MarkFlagRequired("access")
	_ = cmd.MarkFlagRequired("project")
}

func (f *refFlags) ref(id string) (models.DatasetRef, error) {
	access, err := models.ParseAccess(f.access)
	if err != nil {
		return models.DatasetRef{}, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	return models.DatasetRef{InternalID: id, Access: access, Project: f.project}, nil
}

func datasetCreateCmd(a *App) *cobra.Command {
	var (
		spec   models.DatasetSpec
		access string
		push   string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := models.ParseAccess(access)
			if err != nil {
				return fmt.Errorf("%w: %w", common.ErrValidation, err)
			}
			spec.Access = acc
			spec.PushMethod = models.PushMethod(push)

			d, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			desc, _, err := d.Registry.Create(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return render(a.out, outputFormat(cmd), desc, datasetTable([]models.DatasetDescriptor{desc}))
		},
	}
	f := cmd.Flags()
	f.StringVar(&access, "access", "", "access level: public, project or user")
	f.StringVar(&spec.Project, "project", "", "project short name")
	f.StringVar(&spec.Path, "path", "", "path inside the dataset")
	f.StringVar(&spec.Title, "title", "", "dataset title")
	f.StringSliceVar(&spec.Creator, "creator", nil, "creator (repeatable)")
	f.StringSliceVar(&spec.Contributor, "contributor", nil, "contributor (repeatable)")
	f.StringSliceVar(&spec.Owner, "owner", nil, "owner (repeatable)")
	f.StringSliceVar(&spec.Publisher, "publisher", nil, "publisher (repeatable)")
	f.StringVar(&spec.PublicationYear, "publication-year", "", "publication year")
	f.StringVar(&spec.ResourceType, "resource-type", "", "resource type")
	f.StringVar(&push, "push-method", "", "push method: empty or transfer")
	_ = cmd.MarkFlagRequired("access")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func datasetListCmd(a *App) *cobra.Command {
	var (
		filter models.DatasetFilter
		access string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List datasets matching every given filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if access != "" {
				acc, err := models.ParseAccess(access)
				if err != nil {
					return fmt.Errorf("%w: %w", common.ErrValidation, err)
				}
				filter.Access = acc
			}
			d, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			items, _, err := d.Registry.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return render(a.out, outputFormat(cmd), items, datasetTable(items))
		},
	}
	cmd.Flags().StringVar(&access, "access", "", "access level filter")
	cmd.Flags().StringVar(&filter.Project, "project", "", "project filter")
	cmd.Flags().StringVar(&filter.Title, "title", "", "exact title filter")
	return cmd
}

func datasetDeleteCmd(a *App) *cobra.Command {
	var rf refFlags
	cmd := &cobra.Command{
		Use:   "delete <internal-id>",
		Short: "Delete a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := rf.ref(args[0])
			if err != nil {
				return err
			}
			d, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := d.Registry.Delete(cmd.Context(), ref); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "dataset %s deleted\n", ref.InternalID)
			return nil
		},
	}
	rf.bind(cmd)
	return cmd
}

func datasetFilesCmd(a *App) *cobra.Command {
	var (
		rf   refFlags
		path string
	)
	cmd := &cobra.Command{
		Use:   "files <internal-id>",
		Short: "List the files of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := rf.ref(args[0])
			if err != nil {
				return err
			}
			d, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			items, _, err := d.Registry.ListFiles(cmd.Context(), ref, path)
			if err != nil {
				return err
			}
			return render(a.out, outputFormat(cmd), items, fileTable(items))
		},
	}
	rf.bind(cmd)
	cmd.Flags().StringVar(&path, "path", "", "directory inside the dataset")
	return cmd
}

// datasetPathCmd works offline; it only needs the username for user datasets.
func datasetPathCmd(a *App) *cobra.Command {
	var rf refFlags
	cmd := &cobra.Command{
		Use:   "path <internal-id>",
		Short: "Print the storage path of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := rf.ref(args[0])
			if err != nil {
				return err
			}
			reg := services.NewRegistry(nil, a.cfg.Zone, a.log)
			p, err := reg.Path(ref.Access, ref.Project, ref.InternalID, a.cfg.Username)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, p)
			return nil
		},
	}
	rf.bind(cmd)
	return cmd
}

func datasetDownloadCmd(a *App) *cobra.Command {
	var (
		rf   refFlags
		path string
		out  string
	)
	cmd := &cobra.Command{
		Use:   "download <internal-id>",
		Short: "Download a dataset (or a path inside it) as an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := rf.ref(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = ref.InternalID + ".tar.gz"
			}
			d, err := a.services(cmd.Context())
			if err != nil {
				return err
			}

			f, err := filex.CreateAtomic(out)
			if err != nil {
				return err
			}
			n, err := d.Registry.Download(cmd.Context(), ref, path, f, services.DownloadOptions{
				PollInterval: a.cfg.PollInterval,
				MaxPolls:     uint64(a.cfg.MaxPolls),
			})
			if err != nil {
				f.Abort()
				return err
			}
			if err := f.Commit(); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}

			result := map[string]any{"file": out, "bytes": n}
			return render(a.out, outputFormat(cmd), result, func(tw table.Writer) {
				tw.AppendHeader(table.Row{"File", "Size"})
				tw.AppendRow(table.Row{out, humanize.IBytes(uint64(n))})
			})
		},
	}
	rf.bind(cmd)
	cmd.Flags().StringVar(&path, "path", "", "path inside the dataset")
	cmd.Flags().StringVarP(&out, "out", "O", "", "destination file (default <internal-id>.tar.gz)")
	return cmd
}
