package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/majorfree/agentd/pkg/correlation"
)

// CorrelationHeader carries the request correlation id to handlers so
// their logs can be joined with ours.
const CorrelationHeader = "X-Correlation-ID"

// Capability describes one operation a handler exposes.
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// InvokeRequest is the wire form of a handler call.
type InvokeRequest struct {
	Operation string          `json:"operation"`
	Input     json.RawMessage `json:"input"`
}

// InvokeResponse is the wire form of a handler result.
type InvokeResponse struct {
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error,omitempty"`
}

// Client is the HTTP RPC client for handler processes. A single client
// serves all handlers; the descriptor picks the target.
type Client struct {
	http       *http.Client
	supervisor *Supervisor
	breaker    *breaker
}

// NewClient builds a client that reports failed calls back to the
// supervisor so dead handlers are noticed without a background poller.
// A per-handler circuit trips after repeated transport failures so a
// dead handler fails fast instead of eating the full timeout each call.
// supervisor may be nil.
func NewClient(timeout time.Duration, supervisor *Supervisor) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		supervisor: supervisor,
		breaker:    newBreaker(3, 15*time.Second),
	}
}

// Capabilities lists the operations the handler advertises.
func (c *Client) Capabilities(ctx context.Context, d Descriptor) ([]Capability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL()+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("build capabilities request: %w", err)
	}
	c.decorate(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.mapTransportError(d.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.unavailable(d.Name, fmt.Errorf("capabilities returned status %d", resp.StatusCode))
	}

	var caps []Capability
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil, fmt.Errorf("decode capabilities from %s: %w", d.Name, err)
	}
	return caps, nil
}

// Invoke calls one handler operation and returns its raw output. The
// handler's own error string, if any, comes back as a plain error; the
// caller decides whether that degrades or fails the workflow.
func (c *Client) Invoke(ctx context.Context, d Descriptor, operation string, input json.RawMessage) (json.RawMessage, error) {
	if !c.breaker.allow(d.Name) {
		return nil, &UnavailableError{Name: d.Name, Err: errors.New("circuit open after repeated failures")}
	}

	body, err := json.Marshal(InvokeRequest{Operation: operation, Input: input})
	if err != nil {
		return nil, fmt.Errorf("encode invoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL()+"/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.mapTransportError(d.Name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.unavailable(d.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.unavailable(d.Name, fmt.Errorf("invoke returned status %d", resp.StatusCode))
	}

	c.breaker.success(d.Name)

	var out InvokeResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode invoke response from %s: %w", d.Name, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("handler %s operation %s: %s", d.Name, operation, out.Error)
	}
	return out.Output, nil
}

func (c *Client) decorate(ctx context.Context, req *http.Request) {
	if id := correlation.FromContext(ctx); id != "" {
		req.Header.Set(CorrelationHeader, id)
	}
}

// mapTransportError turns transport failures into the taxonomy the
// engine degrades on, and flags the handler for lazy death detection.
func (c *Client) mapTransportError(name string, err error) error {
	c.breaker.failure(name)
	if c.supervisor != nil {
		c.supervisor.MarkUnavailable(name)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Name: name, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Name: name, Err: err}
	}
	return &UnavailableError{Name: name, Err: err}
}

func (c *Client) unavailable(name string, err error) error {
	c.breaker.failure(name)
	if c.supervisor != nil {
		c.supervisor.MarkUnavailable(name)
	}
	return &UnavailableError{Name: name, Err: err}
}
