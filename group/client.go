package group

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"nbcommit/codec"
)

const (
	sendRetries  = 3
	retryBackoff = 50 * time.Millisecond
	// receiveGrace is added to the HTTP deadline of a long-poll on top of
	// the receive timeout itself.
	receiveGrace = 5 * time.Second
)

// Client is a Channel backed by a remote hub Server.
type Client struct {
	base   string
	http   *http.Client
	self   ID
	seq    atomic.Uint64
	logger hclog.Logger
}

var _ Channel = (*Client)(nil)

func NewClient(addr string, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		base:   strings.TrimSuffix(addr, "/"),
		http:   &http.Client{},
		logger: logger.Named("client"),
	}
}

// statusError is a non-2xx reply from the hub.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("hub replied %d: %s", e.code, e.msg)
}

func (e *statusError) Unwrap() error {
	switch e.code {
	case http.StatusNotFound:
		return ErrUnknownMember
	case http.StatusConflict:
		return ErrNotBound
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, req, resp interface{}) error {
	body, err := codec.Encode(req)
	if err != nil {
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", codec.ContentType)
	hresp, err := c.http.Do(hreq)
	if err != nil {
		return err
	}
	defer hresp.Body.Close()

	if hresp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(hresp.Body, 512))
		return &statusError{code: hresp.StatusCode, msg: strings.TrimSpace(string(msg))}
	}
	if resp == nil {
		return nil
	}
	return codec.DecodeFrom(hresp.Body, resp)
}

func (c *Client) Join(group string) (ID, error) {
	var resp joinResponse
	if err := c.post(context.Background(), "/join", joinRequest{Group: group}, &resp); err != nil {
		return 0, fmt.Errorf("join %q: %w", group, err)
	}
	c.self = resp.ID
	return resp.ID, nil
}

func (c *Client) Bind(id ID) error {
	if c.self == 0 {
		return ErrNotJoined
	}
	return c.post(context.Background(), "/bind", memberRequest{ID: id}, nil)
}

func (c *Client) Leave() error {
	if c.self == 0 {
		return ErrNotJoined
	}
	return c.post(context.Background(), "/leave", memberRequest{ID: c.self}, nil)
}

func (c *Client) Subgroup(group string) (Set, error) {
	var resp subgroupResponse
	if err := c.post(context.Background(), "/subgroup", joinRequest{Group: group}, &resp); err != nil {
		return nil, fmt.Errorf("subgroup %q: %w", group, err)
	}
	return NewSet(resp.Members...), nil
}

// SendTo retries transport failures with the same sequence number; the hub
// drops the duplicates.
func (c *Client) SendTo(to Set, payload []byte) error {
	if c.self == 0 {
		return ErrNotJoined
	}
	req := sendRequest{From: c.self, Seq: c.seq.Add(1), To: to.Sorted(), Payload: payload}

	var err error
	for attempt := 0; attempt < sendRetries; attempt++ {
		err = c.post(context.Background(), "/send", req, nil)
		if err == nil {
			return nil
		}
		if _, ok := err.(*statusError); ok {
			return err
		}
		c.logger.Warn("send failed, retrying", "seq", req.Seq, "attempt", attempt+1, "error", err)
		time.Sleep(retryBackoff * time.Duration(attempt+1))
	}
	return fmt.Errorf("send seq %d: %w", req.Seq, err)
}

func (c *Client) ReceiveFrom(ctx context.Context, from Set, timeout time.Duration) (Envelope, error) {
	if c.self == 0 {
		return Envelope{}, ErrNotJoined
	}
	ctx, cancel := context.WithTimeout(ctx, timeout+receiveGrace)
	defer cancel()

	req := receiveRequest{Self: c.self, From: from.Sorted(), TimeoutMs: timeout.Milliseconds()}
	var resp receiveResponse
	if err := c.post(ctx, "/receive", req, &resp); err != nil {
		return Envelope{}, err
	}
	if resp.TimedOut {
		return Envelope{}, ErrTimeout
	}
	return resp.Envelope, nil
}
