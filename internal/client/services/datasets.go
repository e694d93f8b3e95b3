package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/client"
	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/logging"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Registry manages dataset metadata on the gateway.
//
// Contract:
//   - Create: register a dataset with defaults applied and return its descriptor.
//   - List: fetch datasets and keep those matching every set filter field.
//   - Delete: remove a dataset; a missing id is common.ErrNotFound.
//   - ListFiles: flatten the dataset's file tree.
//   - Path: compute the storage path of a dataset without a network call.
//   - Download: prepare, await and stream a dataset archive.
//
// Every call that reaches the gateway also returns the raw response.
type Registry interface {
	Create(ctx context.Context, spec models.DatasetSpec) (models.DatasetDescriptor, client.Response, error)
	List(ctx context.Context, f models.DatasetFilter) ([]models.DatasetDescriptor, client.Response, error)
	Delete(ctx context.Context, ref models.DatasetRef) (client.Response, error)
	ListFiles(ctx context.Context, ref models.DatasetRef, path string) ([]models.FileEntry, client.Response, error)
	Path(access models.Access, project, internalID, username string) (string, error)
	Download(ctx context.Context, ref models.DatasetRef, path string, dst io.Writer, opts DownloadOptions) (int64, error)
}

// DownloadOptions bounds the wait for a download to be prepared.
type DownloadOptions struct {
	PollInterval time.Duration
	MaxPolls     uint64
	// MaxInterval caps the backoff between polls. Zero means 8x PollInterval.
	MaxInterval time.Duration
}

type registry struct {
	client client.Client
	zone   string
	log    logging.Logger
	now    func() time.Time
}

// NewRegistry returns a Registry that fills empty zones with zone.
func NewRegistry(c client.Client, zone string, log logging.Logger) Registry {
	if zone == "" {
		zone = common.DefaultZone
	}
	if log == nil {
		log = logging.Nop()
	}
	return &registry{client: c, zone: zone, log: log, now: time.Now}
}

type createBody struct {
	PushMethod models.PushMethod `json:"push_method"`
	Access     models.Access     `json:"access"`
	Project    string            `json:"project"`
	Zone       string            `json:"zone"`
	Path       string            `json:"path"`
	Metadata   datasetMetadata   `json:"metadata"`
}

type datasetMetadata struct {
	Contributor     []string `json:"contributor"`
	Creator         []string `json:"creator"`
	Owner           []string `json:"owner"`
	PublicationYear string   `json:"publicationYear"`
	Publisher       []string `json:"publisher"`
	ResourceType    string   `json:"resourceType"`
	Title           string   `json:"title"`
}

func metadataOf(d models.DatasetDescriptor) datasetMetadata {
	return datasetMetadata{
		Contributor:     d.Contributor,
		Creator:         d.Creator,
		Owner:           d.Owner,
		PublicationYear: d.PublicationYear,
		Publisher:       d.Publisher,
		ResourceType:    d.ResourceType,
		Title:           d.Title,
	}
}

func (r *registry) Create(ctx context.Context, spec models.DatasetSpec) (models.DatasetDescriptor, client.Response, error) {
	if err := spec.Validate(); err != nil {
		return models.DatasetDescriptor{}, client.Response{}, common.NewOpError("dataset create", "", 0, common.ErrValidation, err)
	}
	d := spec.WithDefaults(r.now(), r.zone).Descriptor()

	body := createBody{
		PushMethod: d.PushMethod,
		Access:     d.Access,
		Project:    d.Project,
		Zone:       d.Zone,
		Path:       d.Path,
		Metadata:   metadataOf(d),
	}

	resp, err := r.client.Do(ctx, http.MethodPost, "dataset", body)
	if err != nil {
		return d, resp, common.NewOpError("dataset create", "", 0, common.ErrServer, err)
	}

	var out struct {
		InternalID  string `json:"internalID"`
		InternalID2 string `json:"internal_id"`
	}
	if err := resp.Decode(&out); err != nil {
		return d, resp, common.NewOpError("dataset create", "", 0, common.ErrServer, err)
	}
	d.InternalID = out.InternalID
	if d.InternalID == "" {
		d.InternalID = out.InternalID2
	}
	if d.InternalID == "" {
		return d, resp, common.NewOpError("dataset create", "", 0, common.ErrServer, errors.New("response carries no internal id"))
	}

	r.log.Info(ctx, "dataset created", "op", "dataset create", "dataset_id", d.InternalID, "title", d.Title)
	return d, resp, nil
}

type searchItem struct {
	Location struct {
		Access     string `json:"access"`
		Project    string `json:"project"`
		Zone       string `json:"zone"`
		InternalID string `json:"internalID"`
		Path       string `json:"path"`
	} `json:"location"`
	Metadata struct {
		Title           models.StringList `json:"title"`
		CreationDate    models.FlexString `json:"CreationDate"`
		Owner           models.StringList `json:"owner"`
		Creator         models.StringList `json:"creator"`
		Contributor     models.StringList `json:"contributor"`
		Publisher       models.StringList `json:"publisher"`
		PublicationYear models.StringList `json:"publicationYear"`
		ResourceType    models.StringList `json:"resourceType"`
		Compression     models.FlexString `json:"compression"`
		Encryption      models.FlexString `json:"encryption"`
	} `json:"metadata"`
}

func (it searchItem) descriptor() models.DatasetDescriptor {
	m := it.Metadata
	return models.DatasetDescriptor{
		InternalID:      it.Location.InternalID,
		Access:          models.Access(strings.ToLower(it.Location.Access)),
		Project:         it.Location.Project,
		Zone:            it.Location.Zone,
		Path:            it.Location.Path,
		Title:           strings.Join(m.Title, " "),
		Contributor:     m.Contributor,
		Creator:         m.Creator,
		Owner:           m.Owner,
		Publisher:       m.Publisher,
		PublicationYear: strings.Join(m.PublicationYear, " "),
		ResourceType:    strings.Join(m.ResourceType, " "),
		CreationDate:    string(m.CreationDate),
		Compression:     string(m.Compression),
		Encryption:      string(m.Encryption),
	}
}

func (r *registry) List(ctx context.Context, f models.DatasetFilter) ([]models.DatasetDescriptor, client.Response, error) {
	query := map[string]string{}
	if f.Access != "" {
		query["access"] = string(f.Access)
	}
	if f.Project != "" {
		query["project"] = f.Project
	}
	if f.Zone != "" {
		query["zone"] = f.Zone
	}

	resp, err := r.client.Do(ctx, http.MethodPost, "dataset/search/metadata", query)
	if err != nil {
		return nil, resp, common.NewOpError("dataset list", "", 0, common.ErrServer, err)
	}

	var items []searchItem
	if err := resp.Decode(&items); err != nil {
		return nil, resp, common.NewOpError("dataset list", "", 0, common.ErrServer, err)
	}

	out := make([]models.DatasetDescriptor, 0, len(items))
	for _, it := range items {
		d := it.descriptor()
		if f.Match(d) {
			out = append(out, d)
		}
	}
	r.log.Debug(ctx, "datasets listed", "op", "dataset list", "fetched", len(items), "matched", len(out))
	return out, resp, nil
}

func (r *registry) Delete(ctx context.Context, ref models.DatasetRef) (client.Response, error) {
	if err := validateID(ref.InternalID); err != nil {
		return client.Response{}, common.NewOpError("dataset delete", ref.InternalID, 0, common.ErrValidation, err)
	}
	if ref.Zone == "" {
		ref.Zone = r.zone
	}

	body := map[string]string{
		"internalID": ref.InternalID,
		"access":     string(ref.Access),
		"project":    ref.Project,
		"zone":       ref.Zone,
	}
	resp, err := r.client.Do(ctx, http.MethodDelete, "dataset", body)
	if err != nil {
		return resp, common.NewOpError("dataset delete", ref.InternalID, 0, common.ErrServer, err)
	}

	r.log.Info(ctx, "dataset deleted", "op", "dataset delete", "dataset_id", ref.InternalID)
	return resp, nil
}

type listingNode struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Size       models.FlexString `json:"size"`
	Checksum   models.FlexString `json:"checksum"`
	CreateTime models.FlexString `json:"create_time"`
	Contents   []listingNode     `json:"contents"`
}

func (n listingNode) isDir() bool {
	return n.Type == "directory" || n.Contents != nil
}

func flatten(prefix string, nodes []listingNode, out []models.FileEntry) []models.FileEntry {
	for _, n := range nodes {
		if n.isDir() {
			dir := prefix + n.Name + "/"
			out = append(out, models.FileEntry{Path: dir, IsDir: true})
			out = flatten(dir, n.Contents, out)
			continue
		}
		size, _ := strconv.ParseInt(string(n.Size), 10, 64)
		out = append(out, models.FileEntry{
			Path:       prefix + n.Name,
			Size:       size,
			Checksum:   string(n.Checksum),
			CreateTime: string(n.CreateTime),
		})
	}
	return out
}

func (r *registry) ListFiles(ctx context.Context, ref models.DatasetRef, path string) ([]models.FileEntry, client.Response, error) {
	if err := validateID(ref.InternalID); err != nil {
		return nil, client.Response{}, common.NewOpError("dataset files", ref.InternalID, 0, common.ErrValidation, err)
	}
	if ref.Zone == "" {
		ref.Zone = r.zone
	}

	body := map[string]any{
		"internalID": ref.InternalID,
		"access":     string(ref.Access),
		"project":    ref.Project,
		"path":       path,
		"recursive":  true,
		"zone":       ref.Zone,
	}
	resp, err := r.client.Do(ctx, http.MethodPost, "dataset/listing", body)
	if err != nil {
		return nil, resp, common.NewOpError("dataset files", ref.InternalID, 0, common.ErrServer, err)
	}

	// The root is a directory node whose own name is not part of the paths.
	var root listingNode
	if err := json.Unmarshal(resp.Content, &root); err != nil {
		var nodes []listingNode
		if err2 := json.Unmarshal(resp.Content, &nodes); err2 != nil {
			return nil, resp, common.NewOpError("dataset files", ref.InternalID, 0, common.ErrServer, err)
		}
		root.Contents = nodes
	}
	if !root.isDir() {
		return flatten("", []listingNode{root}, nil), resp, nil
	}
	return flatten("", root.Contents, []models.FileEntry{}), resp, nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("internal id %q is not a UUID", id)
	}
	return nil
}

func (r *registry) Path(access models.Access, project, internalID, username string) (string, error) {
	if err := validateID(internalID); err != nil {
		return "", common.NewOpError("dataset path", internalID, 0, common.ErrValidation, err)
	}
	a, err := models.ParseAccess(string(access))
	if err != nil {
		return "", common.NewOpError("dataset path", internalID, 0, common.ErrValidation, err)
	}

	switch a {
	case models.AccessUser:
		if username == "" {
			return "", common.NewOpError("dataset path", internalID, 0, common.ErrValidation, errors.New("user access needs a username"))
		}
		return "user/" + username + "/" + internalID, nil
	default:
		if project == "" {
			return "", common.NewOpError("dataset path", internalID, 0, common.ErrValidation, errors.New("project is required"))
		}
		return string(a) + "/" + project + "/" + internalID, nil
	}
}

type statusRecord struct {
	TaskState  string            `json:"task_state"`
	TaskResult models.FlexString `json:"task_result"`
}

func (r *registry) Download(ctx context.Context, ref models.DatasetRef, path string, dst io.Writer, opts DownloadOptions) (int64, error) {
	const op = "dataset download"
	if err := validateID(ref.InternalID); err != nil {
		return 0, common.NewOpError(op, ref.InternalID, 0, common.ErrValidation, err)
	}
	if ref.Zone == "" {
		ref.Zone = r.zone
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPolls == 0 {
		opts.MaxPolls = 200
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 8 * opts.PollInterval
	}

	resp, err := r.client.Do(ctx, http.MethodPost, "transfer/download", map[string]string{
		"zone":        ref.Zone,
		"access":      string(ref.Access),
		"project":     ref.Project,
		"internal_id": ref.InternalID,
		"path":        path,
	})
	if err != nil {
		return 0, common.NewOpError(op, ref.InternalID, 0, common.ErrServer, err)
	}
	var submitted struct {
		RequestID string `json:"requestId"`
	}
	if err := resp.Decode(&submitted); err != nil || submitted.RequestID == "" {
		if err == nil {
			err = errors.New("response carries no requestId")
		}
		return 0, common.NewOpError(op, ref.InternalID, 0, common.ErrServer, err)
	}
	req := models.DownloadRequest{RequestID: submitted.RequestID, State: models.TaskPending}
	r.log.Info(ctx, "download submitted", "op", "dataset download", "dataset_id", ref.InternalID, "request_id", req.RequestID)

	errNotReady := errors.New("download not ready")
	backoff := retry.WithMaxRetries(opts.MaxPolls, retry.WithCappedDuration(opts.MaxInterval, retry.NewExponential(opts.PollInterval)))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := r.client.Do(ctx, http.MethodGet, "transfer/status/"+req.RequestID, nil)
		if err != nil {
			if common.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		var st statusRecord
		if err := resp.Decode(&st); err != nil {
			return fmt.Errorf("%w: %w", common.ErrServer, err)
		}

		req.RawState = st.TaskState
		req.State = models.ParseTaskState(st.TaskState)
		switch req.State {
		case models.TaskSuccess:
			return nil
		case models.TaskFailed:
			return fmt.Errorf("%w: download request %s ended in %s: %s", common.ErrServer, req.RequestID, st.TaskState, st.TaskResult)
		default:
			r.log.Debug(ctx, "download not ready", "op", "dataset download", "request_id", req.RequestID, "state", st.TaskState)
			return retry.RetryableError(errNotReady)
		}
	})
	if errors.Is(err, errNotReady) {
		err = fmt.Errorf("%w: download request %s still %s after %d polls", common.ErrTransport, req.RequestID, req.RawState, opts.MaxPolls)
	}
	if err != nil {
		return 0, common.NewOpError(op, ref.InternalID, 0, common.ErrTransport, err)
	}

	n, err := r.client.Stream(ctx, "transfer/download/"+req.RequestID, dst)
	if err != nil {
		return n, common.NewOpError(op, ref.InternalID, n, common.ErrTransport, err)
	}
	r.log.Info(ctx, "download finished", "op", "dataset download", "dataset_id", ref.InternalID, "bytes", n)
	return n, nil
}
