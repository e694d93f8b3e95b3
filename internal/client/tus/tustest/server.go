// Package tustest provides an in-memory tus 1.0.0 server for tests.
package tustest

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/common"
)

// Upload is the server-side state of one upload.
type Upload struct {
	ID       string
	Length   int64
	Data     []byte
	Metadata map[string]string
	Token    string
}

// Fault decides how a PATCH is answered. The zero value handles the request
// normally.
type Fault struct {
	// Status answers with this code without storing the chunk.
	Status int
	// Disconnect drops the connection without answering.
	Disconnect bool
	// StoreFirst stores the chunk before the fault is applied, so the server
	// ends up ahead of the client.
	StoreFirst bool
	// Delay holds the answer back.
	Delay time.Duration
	// AckDelta is added to the offset reported in a successful answer.
	AckDelta int64
}

type Server struct {
	*httptest.Server

	// Path is where uploads are created, e.g. "/api/v0.2/transfer/upload/".
	Path string

	// PatchFault, if set, is called for every PATCH with its 1-based number.
	PatchFault func(call int, u *Upload) Fault

	// Authorize, if set, decides whether a bearer token is accepted.
	Authorize func(token string) bool

	mu      sync.Mutex
	uploads map[string]*Upload
	order   []string
	creates int
	patches int
	heads   int
	deletes int
	acks    []int64
}

// NewServer starts a server that accepts uploads at path.
func NewServer(path string) *Server {
	s := &Server{Path: path, uploads: map[string]*Upload{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// CreateURL is the absolute creation endpoint.
func (s *Server) CreateURL() string { return s.URL + s.Path }

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if s.Authorize != nil && !s.Authorize(token) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Method == http.MethodOptions {
		w.Header().Set(common.TusResumableHeader, common.TusVersion)
		w.Header().Set("Tus-Version", common.TusVersion)
		w.Header().Set("Tus-Extension", "creation,termination")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Header.Get(common.TusResumableHeader) != common.TusVersion {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	if r.URL.Path == strings.TrimRight(s.Path, "/") || r.URL.Path == s.Path {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.create(w, r, token)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, s.Path)
	s.mu.Lock()
	u, ok := s.uploads[id]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set(common.TusResumableHeader, common.TusVersion)
	switch r.Method {
	case http.MethodHead:
		s.mu.Lock()
		s.heads++
		off := len(u.Data)
		s.mu.Unlock()
		w.Header().Set(common.UploadOffsetHeader, strconv.Itoa(off))
		w.Header().Set(common.UploadLengthHeader, strconv.FormatInt(u.Length, 10))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	case http.MethodPatch:
		s.patch(w, r, u)
	case http.MethodDelete:
		s.mu.Lock()
		s.deletes++
		delete(s.uploads, id)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, token string) {
	length, err := strconv.ParseInt(r.Header.Get(common.UploadLengthHeader), 10, 64)
	if err != nil || length < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	meta, err := decodeMetadata(r.Header.Get(common.UploadMetaHeader))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.creates++
	id := fmt.Sprintf("u%03d", s.creates)
	s.uploads[id] = &Upload{ID: id, Length: length, Metadata: meta, Token: token}
	s.order = append(s.order, id)
	s.mu.Unlock()

	// Relative location, as some gateways answer.
	w.Header().Set(common.TusResumableHeader, common.TusVersion)
	w.Header().Set("Location", id)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) patch(w http.ResponseWriter, r *http.Request, u *Upload) {
	if r.Header.Get("Content-Type") != common.OffsetContentType {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}
	off, err := strconv.ParseInt(r.Header.Get(common.UploadOffsetHeader), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.patches++
	call := s.patches
	s.mu.Unlock()

	var fault Fault
	if s.PatchFault != nil {
		fault = s.PatchFault(call, u)
	}
	if fault.Delay > 0 {
		select {
		case <-time.After(fault.Delay):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	if int64(len(u.Data)) != off {
		cur := len(u.Data)
		s.mu.Unlock()
		w.Header().Set(common.UploadOffsetHeader, strconv.Itoa(cur))
		w.WriteHeader(http.StatusConflict)
		return
	}
	stored := false
	if fault.StoreFirst || (fault.Status == 0 && !fault.Disconnect) {
		if off+int64(len(body)) > u.Length {
			s.mu.Unlock()
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		u.Data = append(u.Data, body...)
		stored = true
	}
	newOff := int64(len(u.Data))
	if stored && fault.Status == 0 && !fault.Disconnect {
		s.acks = append(s.acks, newOff)
	}
	s.mu.Unlock()

	switch {
	case fault.Disconnect:
		hijack(w)
	case fault.Status != 0:
		w.WriteHeader(fault.Status)
	default:
		w.Header().Set(common.UploadOffsetHeader, strconv.FormatInt(newOff+fault.AckDelta, 10))
		w.WriteHeader(http.StatusNoContent)
	}
}

func hijack(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("tustest: response writer cannot be hijacked")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	_ = conn.Close()
}

// Upload returns a copy of the n-th created upload (0-based).
func (s *Server) Upload(n int) Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.order) {
		return Upload{}
	}
	u, ok := s.uploads[s.order[n]]
	if !ok {
		return Upload{}
	}
	cp := *u
	cp.Data = append([]byte(nil), u.Data...)
	return cp
}

// Uploads returns the number of uploads still held by the server.
func (s *Server) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// Counts returns how many create, patch, head and delete calls were served.
func (s *Server) Counts() (creates, patches, heads, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.patches, s.heads, s.deletes
}

// Acks returns the offsets acknowledged by successful PATCH answers.
func (s *Server) Acks() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.acks...)
}

// SetData overwrites the stored bytes of the n-th upload, e.g. to simulate a
// server that kept more than the client saw acknowledged.
func (s *Server) SetData(n int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.uploads[s.order[n]]; ok {
		u.Data = append([]byte(nil), data...)
	}
}

// All returns copies of the uploads still held, in creation order.
func (s *Server) All() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, 0, len(s.uploads))
	for _, id := range s.order {
		u, ok := s.uploads[id]
		if !ok {
			continue
		}
		cp := *u
		cp.Data = append([]byte(nil), u.Data...)
		out = append(out, cp)
	}
	return out
}
