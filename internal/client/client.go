// Package client is a typed HTTP client for the doss ingress API.
package client

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

	"github.com/seantiz/doss/internal/services/benchmark"
	"github.com/seantiz/doss/internal/services/datastore"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerInvocationID   = "X-Invocation-Id"
)

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode   int
	Message      string
	InvocationID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("doss: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsStatus reports whether err is an *Error with the given status code.
func IsStatus(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == code
}

// Invocation is the server's record of one invocation.
type Invocation struct {
	ID             string          `json:"id"`
	Service        string          `json:"service"`
	Handler        string          `json:"handler"`
	ObjectKey      string          `json:"object_key,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
	Attempts       int             `json:"attempts"`
	DurationMS     *int            `json:"duration_ms,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
}

// JournalEntry is one recorded durable action.
type JournalEntry struct {
	Seq       int             `json:"seq"`
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// Client talks to a doss server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallOption adjusts a single invocation request.
type CallOption func(*http.Request)

// WithIdempotencyKey deduplicates the call: repeats return the recorded
// outcome or resume the unfinished invocation.
func WithIdempotencyKey(key string) CallOption {
	return func(r *http.Request) {
		if key != "" {
			r.Header.Set(headerIdempotencyKey, key)
		}
	}
}

// Call invokes a handler and decodes its output into out, which may be nil.
// target is "{service}/{handler}" or "{object}/{key}/{handler}" with the key
// already escaped. It returns the invocation ID.
func (c *Client) Call(ctx context.Context, target string, in, out any, opts ...CallOption) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/"+target, in, opts...)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	id := resp.Header.Get(headerInvocationID)
	if err := decodeResponse(resp, out); err != nil {
		return id, err
	}
	return id, nil
}

// Send invokes a handler without waiting for it to finish.
func (c *Client) Send(ctx context.Context, target string, in any, opts ...CallOption) (*Invocation, error) {
	var inv Invocation
	if err := c.request(ctx, http.MethodPost, "/"+target+"/send", in, &inv, opts...); err != nil {
		return nil, err
	}
	return &inv, nil
}

// SetState stores value in the slot for stackID/stepID of the data store
// object objectKey.
func (c *Client) SetState(ctx context.Context, objectKey, stackID string, stepID int, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	req := datastore.SetStateRequest{StackID: stackID, StepID: &stepID, Value: raw}
	_, err = c.Call(ctx, objectTarget(datastore.ServiceName, objectKey, datastore.HandlerSetState), req, nil)
	return err
}

// GetState returns the value in the slot for stackID/stepID, or JSON null
// when nothing was stored.
func (c *Client) GetState(ctx context.Context, objectKey, stackID string, stepID int) (json.RawMessage, error) {
	var out json.RawMessage
	req := datastore.GetStateRequest{StackID: stackID, StepID: &stepID}
	if _, err := c.Call(ctx, objectTarget(datastore.ServiceName, objectKey, datastore.HandlerGetState), req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cleanup removes every slot of the data store object objectKey.
func (c *Client) Cleanup(ctx context.Context, objectKey string) error {
	_, err := c.Call(ctx, objectTarget(datastore.ServiceName, objectKey, datastore.HandlerCleanup), nil, nil)
	return err
}

// RunBenchmark runs the benchmark pipeline to completion.
func (c *Client) RunBenchmark(ctx context.Context, req benchmark.RunRequest, opts ...CallOption) (*benchmark.RunResult, string, error) {
	var res benchmark.RunResult
	id, err := c.Call(ctx, benchmark.ServiceName+"/"+benchmark.HandlerRun, req, &res, opts...)
	if err != nil {
		return nil, id, err
	}
	return &res, id, nil
}

// SendBenchmark starts the benchmark pipeline in the background.
func (c *Client) SendBenchmark(ctx context.Context, req benchmark.RunRequest, opts ...CallOption) (*Invocation, error) {
	return c.Send(ctx, benchmark.ServiceName+"/"+benchmark.HandlerRun, req, opts...)
}

// GetInvocation returns the invocation record.
func (c *Client) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	var inv Invocation
	if err := c.request(ctx, http.MethodGet, "/restate/invocation/"+url.PathEscape(id), nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Resume re-runs an interrupted invocation and returns its record.
func (c *Client) Resume(ctx context.Context, id string) (*Invocation, error) {
	var inv Invocation
	if err := c.request(ctx, http.MethodPost, "/restate/invocation/"+url.PathEscape(id)+"/resume", nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Journal returns the invocation's recorded actions in order.
func (c *Client) Journal(ctx context.Context, id string) ([]JournalEntry, error) {
	var out struct {
		Entries []JournalEntry `json:"entries"`
	}
	if err := c.request(ctx, http.MethodGet, "/restate/invocation/"+url.PathEscape(id)+"/journal", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func objectTarget(service, key, handler string) string {
	return service + "/" + url.PathEscape(key) + "/" + handler
}

func (c *Client) request(ctx context.Context, method, path string, in, out any, opts ...CallOption) error {
	resp, err := c.do(ctx, method, path, in, opts...)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) do(ctx context.Context, method, path string, in any, opts ...CallOption) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeResponse(resp *http.Response, out any) error {
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &Error{StatusCode: resp.StatusCode, InvocationID: resp.Header.Get(headerInvocationID)}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
