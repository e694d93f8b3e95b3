package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/client"
	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/client/tus/tustest"
	"github.com/google/uuid"
)

type staticCreds struct{}

func (staticCreds) Acquire(context.Context) (models.Credential, error) {
	return models.Credential{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (staticCreds) Invalidate() {}

type storedDataset struct {
	body createBody
	id   string
}

// fakeGateway serves the REST part of the gateway. Ingestion tasks are
// derived from the uploads held by the tus server.
type fakeGateway struct {
	*httptest.Server
	t   *testing.T
	tus *tustest.Server

	mu          sync.Mutex
	datasets    map[string]storedDataset
	order       []string
	hits        map[string]int
	listing     string
	pendingFor  int
	downloadOK  bool
	downloadErr string
	payload     []byte
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		t:          t,
		tus:        tustest.NewServer("/api/v0.2/transfer/upload/"),
		datasets:   map[string]storedDataset{},
		hits:       map[string]int{},
		downloadOK: true,
	}
	g.Server = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.Close)
	t.Cleanup(g.tus.Close)
	return g
}

func (g *fakeGateway) transport() *client.HTTPClient {
	return client.New(g.URL+"/api/v0.2/", staticCreds{}, client.WithHTTPClient(&http.Client{}))
}

func (g *fakeGateway) hitCount(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits[key]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v0.2/")

	g.mu.Lock()
	g.hits[r.Method+" "+path]++
	g.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && path == "dataset":
		var body createBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"errorString": err.Error()})
			return
		}
		id := uuid.NewString()
		g.mu.Lock()
		g.datasets[id] = storedDataset{body: body, id: id}
		g.order = append(g.order, id)
		g.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"internalID": id, "status": "created"})

	case r.Method == http.MethodPost && path == "dataset/search/metadata":
		var q map[string]string
		_ = json.NewDecoder(r.Body).Decode(&q)
		g.mu.Lock()
		items := []map[string]any{}
		for _, id := range g.order {
			d, ok := g.datasets[id]
			if !ok {
				continue
			}
			if q["project"] != "" && q["project"] != d.body.Project {
				continue
			}
			items = append(items, map[string]any{
				"location": map[string]string{
					"access":     string(d.body.Access),
					"project":    d.body.Project,
					"zone":       d.body.Zone,
					"internalID": d.id,
				},
				"metadata": map[string]any{
					"title":           []string{d.body.Metadata.Title},
					"owner":           d.body.Metadata.Owner,
					"creator":         d.body.Metadata.Creator,
					"contributor":     d.body.Metadata.Contributor,
					"publisher":       d.body.Metadata.Publisher,
					"publicationYear": d.body.Metadata.PublicationYear,
					"resourceType":    d.body.Metadata.ResourceType,
					"CreationDate":    "2026-10-17T10:00:00Z",
					"encryption":      false,
				},
			})
		}
		g.mu.Unlock()
		writeJSON(w, http.StatusOK, items)

	case r.Method == http.MethodDelete && path == "dataset":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		_, ok := g.datasets[body["internalID"]]
		delete(g.datasets, body["internalID"])
		g.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"errorString": "Dataset not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})

	case r.Method == http.MethodPost && path == "dataset/listing":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(g.listing))

	case r.Method == http.MethodGet && path == "transfer/status":
		tasks := []map[string]any{}
		for i, u := range g.tus.All() {
			state := "PENDING"
			if int64(len(u.Data)) == u.Length {
				state = "SUCCESS"
			}
			tasks = append(tasks, map[string]any{
				"task_id":       i + 1,
				"task_state":    state,
				"dataset_id":    u.Metadata["internal_id"],
				"filename":      u.Metadata["filename"],
				"project":       u.Metadata["project"],
				"transfer_type": "upload",
			})
		}
		writeJSON(w, http.StatusOK, tasks)

	case r.Method == http.MethodPost && path == "transfer/download":
		writeJSON(w, http.StatusOK, map[string]string{"requestId": "req-1"})

	case r.Method == http.MethodGet && path == "transfer/status/req-1":
		g.mu.Lock()
		polls := g.hits[r.Method+" "+path]
		g.mu.Unlock()
		state := "PENDING"
		switch {
		case polls > g.pendingFor && g.downloadOK:
			state = "SUCCESS"
		case polls > g.pendingFor:
			state = g.downloadErr
		}
		writeJSON(w, http.StatusOK, map[string]any{"task_state": state, "task_result": "archive failed"})

	case r.Method == http.MethodGet && path == "transfer/download/req-1":
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(g.payload)

	default:
		http.NotFound(w, r)
	}
}
