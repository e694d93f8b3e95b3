package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// render writes v as JSON or YAML, or calls tableFn for the table format.
func render(w io.Writer, format string, v any, tableFn func(table.Writer)) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "", "table":
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetStyle(table.StyleLight)
		tableFn(tw)
		tw.Render()
		return nil
	default:
		return fmt.Errorf("%w: unknown output format %q", common.ErrValidation, format)
	}
}

func datasetTable(items []models.DatasetDescriptor) func(table.Writer) {
	return func(tw table.Writer) {
		tw.AppendHeader(table.Row{"ID", "Title", "Access", "Project", "Zone", "Created"})
		for _, d := range items {
			tw.AppendRow(table.Row{d.InternalID, d.Title, d.Access, d.Project, d.Zone, d.CreationDate})
		}
	}
}

func fileTable(items []models.FileEntry) func(table.Writer) {
	return func(tw table.Writer) {
		tw.AppendHeader(table.Row{"Path", "Size", "Checksum", "Created"})
		for _, f := range items {
			size := ""
			if !f.IsDir {
				size = humanize.IBytes(uint64(f.Size))
			}
			tw.AppendRow(table.Row{f.Path, size, f.Checksum, f.CreateTime})
		}
	}
}

func sessionTable(items []*models.UploadSession) func(table.Writer) {
	return func(tw table.Writer) {
		tw.AppendHeader(table.Row{"Session", "Dataset", "File", "Progress", "State", "Attempts", "Last error"})
		for _, s := range items {
			tw.AppendRow(table.Row{
				s.ID,
				s.Descriptor.InternalID,
				s.File.Name,
				progress(s.Offset, s.File.Size),
				s.State,
				s.Attempts,
				s.LastError,
			})
		}
	}
}

func taskTable(items []models.IngestionTask) func(table.Writer) {
	return func(tw table.Writer) {
		tw.AppendHeader(table.Row{"Task", "Dataset", "File", "Project", "State", "Raw state"})
		for _, t := range items {
			tw.AppendRow(table.Row{t.TaskID, t.DatasetID, t.FileName, t.Project, t.State, t.RawState})
		}
	}
}

func progress(offset, size int64) string {
	if size <= 0 {
		return "100%"
	}
	return fmt.Sprintf("%s / %s (%d%%)", humanize.IBytes(uint64(offset)), humanize.IBytes(uint64(size)), offset*100/size)
}
