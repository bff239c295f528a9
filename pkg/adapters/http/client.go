package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/ports"
)

// DefaultClientTimeout bounds every call made by a Client.
const DefaultClientTimeout = 15 * time.Second

// Client is the replica side of the sync routes. It implements ports.Upstream.
type Client struct {
	baseURL    string
	operatorID string
	http       *http.Client
	timeout    time.Duration
}

var _ ports.Upstream = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// NewClient creates a Client acting for operatorID against the server at baseURL.
func NewClient(baseURL, operatorID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		operatorID: operatorID,
		http:       http.DefaultClient,
		timeout:    DefaultClientTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code    int
	Kind    domain.ErrorKind
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server replied %d (%s): %s", e.Code, e.Kind, e.Message)
}

// LatestVersion fetches the active version of a protocol.
func (c *Client) LatestVersion(ctx context.Context, protocolID string) (*domain.ProtocolVersion, error) {
	var v domain.ProtocolVersion
	path := "/sync/protocols/" + url.PathEscape(protocolID) + "/latest"
	if err := c.do(ctx, http.MethodGet, path, nil, &v); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoActiveVersion, protocolID)
		}
		return nil, err
	}
	return &v, nil
}

// BulkReconcile submits queued sessions. Any error means the outcome of the batch is unknown.
func (c *Client) BulkReconcile(ctx context.Context, items []domain.OfflineSession) (domain.ReconcileReport, error) {
	var report domain.ReconcileReport
	if err := c.do(ctx, http.MethodPost, "/sync/sessions", map[string][]domain.OfflineSession{"items": items}, &report); err != nil {
		return domain.ReconcileReport{}, err
	}
	return report, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(OperatorHeader, c.operatorID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eb errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Kind: eb.Kind, Message: eb.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
