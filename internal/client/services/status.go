package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/client"
	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Tracker reads server-side ingestion tasks. Results are never cached: each
// Query is one fresh request.
type Tracker interface {
	Query(ctx context.Context, f models.TaskFilter) ([]models.IngestionTask, client.Response, error)
	// WaitFor polls until every matching task is terminal, the poll budget
	// is spent or ctx ends. It returns the last observed tasks.
	WaitFor(ctx context.Context, f models.TaskFilter, interval time.Duration, maxPolls int) ([]models.IngestionTask, error)
}

type tracker struct {
	client client.Client
	log    logging.Logger
}

func NewTracker(c client.Client, log logging.Logger) Tracker {
	if log == nil {
		log = logging.Nop()
	}
	return &tracker{client: c, log: log}
}

type taskRecord struct {
	TaskID       models.FlexString `json:"task_id"`
	RequestID    models.FlexString `json:"request_id"`
	TaskState    string            `json:"task_state"`
	DatasetID    string            `json:"dataset_id"`
	InternalID   string            `json:"internal_id"`
	FileName     string            `json:"filename"`
	Project      string            `json:"project"`
	TransferType string            `json:"transfer_type"`
}

func (r taskRecord) task() models.IngestionTask {
	t := models.IngestionTask{
		TaskID:       string(r.TaskID),
		DatasetID:    r.DatasetID,
		State:        models.ParseTaskState(r.TaskState),
		RawState:     r.TaskState,
		FileName:     r.FileName,
		Project:      r.Project,
		TransferType: r.TransferType,
	}
	if t.TaskID == "" {
		t.TaskID = string(r.RequestID)
	}
	if t.DatasetID == "" {
		t.DatasetID = r.InternalID
	}
	return t
}

func (t *tracker) Query(ctx context.Context, f models.TaskFilter) ([]models.IngestionTask, client.Response, error) {
	resp, err := t.client.Do(ctx, http.MethodGet, "transfer/status", nil)
	if err != nil {
		return nil, resp, common.NewOpError("status query", "", 0, common.ErrServer, err)
	}

	var records []taskRecord
	if err := resp.Decode(&records); err != nil {
		return nil, resp, common.NewOpError("status query", "", 0, common.ErrServer, err)
	}

	out := make([]models.IngestionTask, 0, len(records))
	for _, rec := range records {
		task := rec.task()
		if f.Match(task) {
			out = append(out, task)
		}
	}
	return out, resp, nil
}

func (t *tracker) WaitFor(ctx context.Context, f models.TaskFilter, interval time.Duration, maxPolls int) ([]models.IngestionTask, error) {
	const op = "status wait"

	if maxPolls <= 0 {
		maxPolls = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	errNotDone := errors.New("tasks not terminal")
	var (
		tasks []models.IngestionTask
		poll  int
	)
	backoff := retry.WithMaxRetries(uint64(maxPolls-1), retry.NewConstant(interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		poll++
		var err error
		tasks, _, err = t.Query(ctx, f)
		if err != nil {
			return err
		}
		if len(tasks) > 0 && allTerminal(tasks) {
			return nil
		}
		t.log.Debug(ctx, "waiting for ingestion", "op", op, "poll", poll, "tasks", len(tasks))
		return retry.RetryableError(errNotDone)
	})

	switch {
	case err == nil:
		return tasks, nil
	case errors.Is(err, errNotDone):
		return tasks, common.NewOpError(op, "", 0, common.ErrTransport,
			fmt.Errorf("%d matching tasks not terminal after %d polls", len(tasks), poll))
	case common.KindOf(err) == nil:
		return tasks, common.NewOpError(op, "", 0, common.ErrTransport, err)
	default:
		return tasks, err
	}
}

func allTerminal(tasks []models.IngestionTask) bool {
	for _, t := range tasks {
		if !t.State.Terminal() {
			return false
		}
	}
	return true
}
