// Package tus adapts github.com/bdragon300/tusgo to the upload coordinator:
// creation, one PATCH per chunk, offset reads and termination against the
// gateway's resumable endpoint, with every request authorized by the
// session and every failure mapped to one of the common error kinds.
package tus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bdragon300/tusgo"
	"github.com/dmitrijs2005/ddictl/internal/client/client"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/logging"
)

// ErrOffsetConflict is returned when the server's offset differs from the
// one a PATCH was sent for. The caller should re-read the offset.
var ErrOffsetConflict = errors.New("upload offset conflict")

// Metadata is sent base64-encoded in the Upload-Metadata header.
type Metadata map[string]string

type Client struct {
	tc       *tusgo.Client
	endpoint *url.URL
	log      logging.Logger
}

// New returns a protocol client whose uploads are created at endpoint.
// Requests go through hc's transport, authorized by creds.
func New(creds client.Credentials, hc *http.Client, endpoint string, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.Nop()
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("upload endpoint %q: %w: %w", endpoint, common.ErrValidation, err)
	}

	var rt http.RoundTripper
	if hc != nil {
		rt = hc.Transport
	}
	httpc := &http.Client{Transport: recorder{next: client.NewAuthTransport(creds, rt, log)}}

	return &Client{tc: tusgo.NewClient(httpc, base), endpoint: base, log: log}, nil
}

// Create registers an upload of length bytes and returns its absolute URL.
func (c *Client) Create(ctx context.Context, length int64, meta Metadata) (string, error) {
	ctx, ex := record(ctx)
	u := tusgo.Upload{}
	if _, err := c.tc.WithContext(ctx).CreateUpload(&u, length, false, meta); err != nil {
		return "", classify("tus create", ex, err)
	}
	if u.Location == "" {
		return "", fmt.Errorf("tus create: %w: no Location in the answer", common.ErrServer)
	}

	loc, err := url.Parse(u.Location)
	if err != nil {
		return "", fmt.Errorf("tus create: %w: %w", common.ErrServer, err)
	}
	abs := c.endpoint.ResolveReference(loc).String()

	c.log.Debug(ctx, "tus upload created", "upload_url", abs, "length", length)
	return abs, nil
}

// Patch sends chunk at offset of an upload of size bytes and returns the
// server's new offset. An answer that does not account for exactly the
// bytes sent is a server error.
func (c *Client) Patch(ctx context.Context, uploadURL string, size, offset int64, chunk []byte) (int64, error) {
	ctx, ex := record(ctx)
	u := &tusgo.Upload{Location: uploadURL, RemoteSize: size, RemoteOffset: offset}

	stream := tusgo.NewUploadStream(c.tc, u).WithContext(ctx)
	stream.ChunkSize = int64(len(chunk))
	if _, err := stream.Write(chunk); err != nil {
		return 0, classify(fmt.Sprintf("tus patch at %d", offset), ex, err)
	}

	if want := offset + int64(len(chunk)); u.RemoteOffset != want {
		return 0, fmt.Errorf("tus patch at %d: %w: server acknowledged offset %d, expected %d",
			offset, common.ErrServer, u.RemoteOffset, want)
	}
	return u.RemoteOffset, nil
}

// Offset asks the server for the authoritative offset of an upload. Length
// is -1 when the server does not report it.
func (c *Client) Offset(ctx context.Context, uploadURL string) (offset, length int64, err error) {
	ctx, ex := record(ctx)
	u := tusgo.Upload{}
	if _, err := c.tc.WithContext(ctx).GetUpload(&u, uploadURL); err != nil {
		return 0, 0, classify("tus head", ex, err)
	}
	if u.RemoteOffset < 0 {
		return 0, 0, fmt.Errorf("tus head: %w: offset of %s is not known yet", common.ErrServer, uploadURL)
	}

	length = u.RemoteSize
	if length < 0 {
		length = -1
	}
	return u.RemoteOffset, length, nil
}

// Terminate asks the server to drop an unfinished upload. A missing upload
// is not an error.
func (c *Client) Terminate(ctx context.Context, uploadURL string) error {
	ctx, ex := record(ctx)
	_, err := c.tc.WithContext(ctx).DeleteUpload(tusgo.Upload{Location: uploadURL})
	if err == nil {
		return nil
	}
	err = classify("tus terminate", ex, err)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}

// classify maps a tusgo failure onto the error kinds, preferring the status
// of the last answer when there was one.
func classify(op string, ex *exchange, err error) error {
	switch {
	case common.KindOf(err) != nil:
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, tusgo.ErrOffsetsNotSynced), ex.status == http.StatusConflict:
		return fmt.Errorf("%s: %w: %w", op, common.ErrTransport, ErrOffsetConflict)
	case errors.Is(err, tusgo.ErrUploadDoesNotExist):
		return fmt.Errorf("%s: %w: %w", op, common.ErrNotFound, err)
	case ex.status >= http.StatusBadRequest:
		return fmt.Errorf("%s: %w", op, client.MapStatus(ex.status, ex.body))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, common.ErrTransport, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, common.ErrServer, err)
	}
}
