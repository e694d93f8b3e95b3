package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/client/services"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func uploadCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{Use: "upload", Short: "Resumable uploads into datasets"}
	cmd.AddCommand(
		uploadNewCmd(a),
		uploadRewriteCmd(a),
		uploadResumeCmd(a),
		uploadListCmd(a),
		uploadDiscardCmd(a),
	)
	return cmd
}

// uploadFlags are shared by the new and rewrite commands.
type uploadFlags struct {
	path       string
	expand     string
	encryption bool
	quiet      bool
}

func (f *uploadFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "target-path", "", "directory inside the dataset")
	cmd.Flags().StringVar(&f.expand, "expand", "auto", "expand the archive after upload: auto, yes or no")
	cmd.Flags().BoolVar(&f.encryption, "encryption", false, "ask the gateway to encrypt the stored file")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not print progress")
}

func (f *uploadFlags) expandOverride() (*bool, error) {
	switch f.expand {
	case "", "auto":
		return nil, nil
	case "yes", "true":
		v := true
		return &v, nil
	case "no", "false":
		v := false
		return &v, nil
	default:
		return nil, fmt.Errorf("%w: --expand must be auto, yes or no", common.ErrValidation)
	}
}

func uploadNewCmd(a *App) *cobra.Command {
	var (
		uf     uploadFlags
		spec   models.DatasetSpec
		access string
	)
	cmd := &cobra.Command{
		Use:   "new <source>",
		Short: "Create a dataset and upload a file into it",
		Long: `Registers a new dataset and uploads <source> into it. The source is a local
path or an s3://bucket/key object. Interrupting the command (Ctrl-C) pauses
the upload; continue it with "ddictl upload resume <session>".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := models.ParseAccess(access)
			if err != nil {
				return fmt.Errorf("%w: %w", common.ErrValidation, err)
			}
			spec.Access = acc
			expand, err := uf.expandOverride()
			if err != nil {
				return err
			}
			return a.runUpload(cmd, services.UploadRequest{
				Source:     args[0],
				TargetPath: uf.path,
				Dataset:    spec,
				Expand:     expand,
				Encryption: uf.encryption,
			}, uf.quiet)
		},
	}
	uf.bind(cmd)
	f := cmd.Flags()
	f.StringVar(&access, "access", "", "access level: public, project or user")
	f.StringVar(&spec.Project, "project", "", "project short name")
	f.StringVar(&spec.Title, "title", "", "dataset title")
	f.StringSliceVar(&spec.Creator, "creator", nil, "creator (repeatable)")
	f.StringSliceVar(&spec.Contributor, "contributor", nil, "contributor (repeatable)")
	f.StringSliceVar(&spec.Owner, "owner", nil, "owner (repeatable)")
	f.StringSliceVar(&spec.Publisher, "publisher", nil, "publisher (repeatable)")
	f.StringVar(&spec.PublicationYear, "publication-year", "", "publication year")
	f.StringVar(&spec.ResourceType, "resource-type", "", "resource type")
	_ = cmd.MarkFlagRequired("access")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func uploadRewriteCmd(a *App) *cobra.Command {
	var (
		uf    uploadFlags
		rf    refFlags
		title string
	)
	cmd := &cobra.Command{
		Use:   "rewrite <internal-id> <source>",
		Short: "Upload a file into an existing dataset",
		Long: `Uploads <source> into an existing dataset. --title must equal the dataset's
current title; nothing is sent otherwise. A file with the same name in the
dataset is replaced.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := rf.ref(args[0])
			if err != nil {
				return err
			}
			expand, err := uf.expandOverride()
			if err != nil {
				return err
			}
			return a.runUpload(cmd, services.UploadRequest{
				Source:     args[1],
				TargetPath: uf.path,
				Dataset:    models.DatasetSpec{Access: ref.Access, Project: ref.Project},
				Rewrite:    true,
				DatasetID:  ref.InternalID,
				Title:      title,
				Expand:     expand,
				Encryption: uf.encryption,
			}, uf.quiet)
		},
	}
	uf.bind(cmd)
	rf.bind(cmd)
	cmd.Flags().StringVar(&title, "title", "", "current title of the dataset")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func (a *App) runUpload(cmd *cobra.Command, req services.UploadRequest, quiet bool) error {
	d, err := a.services(cmd.Context())
	if err != nil {
		return err
	}
	if !quiet {
		req.Progress = newProgressPrinter(a.errOut).update
	}
	s, err := d.Uploads.Upload(cmd.Context(), req)
	if s != nil && s.State == models.UploadPaused {
		fmt.Fprintf(a.errOut, "upload paused at %s, resume with: ddictl upload resume %s\n",
			humanize.IBytes(uint64(s.Offset)), s.ID)
	}
	if err != nil {
		return err
	}
	return render(a.out, outputFormat(cmd), s, sessionTable([]*models.UploadSession{s}))
}

func uploadResumeCmd(a *App) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Continue a paused upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			var opts services.ResumeOptions
			if !quiet {
				opts.Progress = newProgressPrinter(a.errOut).update
			}
			s, err := d.Uploads.Resume(cmd.Context(), args[0], opts)
			if s != nil && s.State == models.UploadPaused {
				fmt.Fprintf(a.errOut, "upload paused again at %s\n", humanize.IBytes(uint64(s.Offset)))
			}
			if err != nil {
				return err
			}
			return render(a.out, outputFormat(cmd), s, sessionTable([]*models.UploadSession{s}))
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func uploadListCmd(a *App) *cobra.Command {
	var (
		states    []string
		datasetID string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upload sessions recorded locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := models.UploadFilter{DatasetID: datasetID}
			for _, s := range states {
				st := models.UploadState(s)
				switch st {
				case models.UploadCreated, models.UploadInProgress, models.UploadPaused, models.UploadCompleted, models.UploadFailed:
				default:
					return fmt.Errorf("%w: unknown upload state %q", common.ErrValidation, s)
				}
				f.States = append(f.States, st)
			}
			d, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			items, err := d.Uploads.Sessions(cmd.Context(), f)
			if err != nil {
				return err
			}
			return render(a.out, outputFormat(cmd), items, sessionTable(items))
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "state filter (repeatable)")
	cmd.Flags().StringVar(&datasetID, "dataset", "", "dataset id filter")
	return cmd
}

func uploadDiscardCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <session-id>",
		Short: "Cancel an unfinished upload and forget it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := d.Uploads.Discard(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "upload %s discarded\n", args[0])
			return nil
		},
	}
}

// progressPrinter rewrites one status line, at most every 200ms.
type progressPrinter struct {
	w    io.Writer
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, now: time.Now}
}

func (p *progressPrinter) update(offset, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if offset < total && now.Sub(p.last) < 200*time.Millisecond {
		return
	}
	p.last = now
	fmt.Fprintf(p.w, "\r%s", progress(offset, total))
	if offset >= total {
		fmt.Fprintln(p.w)
	}
}
