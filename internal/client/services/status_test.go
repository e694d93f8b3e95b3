package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/client"
	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusServer(t *testing.T, bodies ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0.2/transfer/status", r.URL.Path)
		i := int(calls.Add(1)) - 1
		if i >= len(bodies) {
			i = len(bodies) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(bodies[i]))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestTracker(srv *httptest.Server) *tracker {
	c := client.New(srv.URL+"/api/v0.2/", staticCreds{}, client.WithHTTPClient(srv.Client()))
	return NewTracker(c, nil).(*tracker)
}

const statusBody = `[
	{"task_id": 1, "task_state": "SUCCESS", "dataset_id": "d1", "filename": "a.bin", "project": "P1", "transfer_type": "upload"},
	{"task_id": 2, "task_state": "PENDING", "dataset_id": "d2", "filename": "b.bin", "project": "P1"},
	{"request_id": "r3", "task_state": "FAILURE", "internal_id": "d3", "filename": "a.bin", "project": "P2"},
	{"task_id": 4, "task_state": "STARTED", "dataset_id": "d4", "filename": "c.bin", "project": "P2"}
]`

func TestTrackerQuery_MapsStatesAndFilters(t *testing.T) {
	srv, _ := statusServer(t, statusBody)
	tr := newTestTracker(srv)
	ctx := context.Background()

	all, resp, err := tr.Query(ctx, models.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, all, 4)
	assert.Equal(t, models.TaskSuccess, all[0].State)
	assert.Equal(t, models.TaskPending, all[1].State)
	assert.Equal(t, models.TaskFailed, all[2].State)
	assert.Equal(t, "r3", all[2].TaskID)
	assert.Equal(t, "d3", all[2].DatasetID)
	assert.Equal(t, models.TaskPending, all[3].State)
	assert.Equal(t, "STARTED", all[3].RawState)

	tests := []struct {
		name string
		f    models.TaskFilter
		want []string
	}{
		{"project", models.TaskFilter{Project: "P1"}, []string{"1", "2"}},
		{"filename", models.TaskFilter{FileName: "a.bin"}, []string{"1", "r3"}},
		{"project and filename", models.TaskFilter{Project: "P2", FileName: "a.bin"}, []string{"r3"}},
		{"all three", models.TaskFilter{Project: "P1", FileName: "a.bin", State: models.TaskPending}, nil},
		{"state", models.TaskFilter{State: models.TaskPending}, []string{"2", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := tr.Query(ctx, tt.f)
			require.NoError(t, err)
			var ids []string
			for _, task := range got {
				ids = append(ids, task.TaskID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestTrackerQuery_NoCaching(t *testing.T) {
	srv, calls := statusServer(t, statusBody)
	tr := newTestTracker(srv)

	for i := 0; i < 3; i++ {
		_, _, err := tr.Query(context.Background(), models.TaskFilter{Project: "P1"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestTrackerQuery_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, resp, err := newTestTracker(srv).Query(context.Background(), models.TaskFilter{})
	assert.ErrorIs(t, err, common.ErrServer)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestTrackerWaitFor_StopsWhenTerminal(t *testing.T) {
	srv, calls := statusServer(t,
		`[{"task_id": 1, "task_state": "PENDING", "filename": "a.bin", "project": "P1"}]`,
		`[{"task_id": 1, "task_state": "PENDING", "filename": "a.bin", "project": "P1"}]`,
		`[{"task_id": 1, "task_state": "SUCCESS", "filename": "a.bin", "project": "P1"}]`,
	)
	tr := newTestTracker(srv)

	tasks, err := tr.WaitFor(context.Background(), models.TaskFilter{Project: "P1"}, time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskSuccess, tasks[0].State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTrackerWaitFor_PollBudget(t *testing.T) {
	srv, calls := statusServer(t, `[{"task_id": 1, "task_state": "PENDING", "project": "P1"}]`)
	tr := newTestTracker(srv)

	tasks, err := tr.WaitFor(context.Background(), models.TaskFilter{}, time.Millisecond, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTransport)
	assert.Len(t, tasks, 1)
	assert.Equal(t, int32(4), calls.Load())
}

func TestTrackerWaitFor_ContextEnds(t *testing.T) {
	srv, calls := statusServer(t, `[]`)
	tr := newTestTracker(srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.WaitFor(ctx, models.TaskFilter{}, time.Hour, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, common.ErrTransport)
	assert.Equal(t, int32(1), calls.Load())
}
