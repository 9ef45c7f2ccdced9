package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Request is what every provider receives.
type Request struct {
	System    string
	User      string
	MaxTokens int
}

// Provider is the narrow, swappable evaluator contract: send one request,
// return the raw completion text. Implementations report HTTP and network
// failures as *TransportError and content-free replies as *EmptyResponseError.
// Retries are not a provider concern.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Response is a successful, JSON-shaped evaluator reply.
type Response struct {
	Provider string
	Raw      string
	JSON     json.RawMessage
	Latency  time.Duration
}

// Client makes exactly one provider call per Evaluate and checks that the
// reply is a JSON object. It holds no per-call state.
type Client struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

func NewClient(p Provider, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{provider: p, timeout: timeout, logger: logger}
}

// Provider returns the name of the wrapped provider.
func (c *Client) Provider() string { return c.provider.Name() }

// Evaluate sends one request. The per-call timeout applies on top of ctx.
func (c *Client) Evaluate(ctx context.Context, req Request) (*Response, error) {
	name := c.provider.Name()
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := c.provider.Complete(callCtx, req)
	latency := time.Since(start)
	if err != nil {
		return nil, c.classify(ctx, callCtx, name, err)
	}

	body := stripFence(strings.TrimSpace(raw))
	if body == "" {
		return nil, &EmptyResponseError{Provider: name, Reason: "blank completion text"}
	}
	if err := checkObject(body); err != nil {
		c.logger.Error("evaluator output is not a JSON object",
			"provider", name,
			"error", err,
			"raw", raw,
		)
		return nil, &MalformedOutputError{Provider: name, Raw: raw, Err: err}
	}

	return &Response{
		Provider: name,
		Raw:      raw,
		JSON:     json.RawMessage(body),
		Latency:  latency,
	}, nil
}

func (c *Client) classify(parent, call context.Context, name string, err error) error {
	if parent.Err() != nil {
		return &CancelledError{Err: parent.Err()}
	}

	var terr *TransportError
	var eerr *EmptyResponseError
	if errors.As(err, &terr) || errors.As(err, &eerr) {
		return err
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return &TransportError{Provider: name, Err: fmt.Errorf("timed out after %s: %w", c.timeout, err)}
	}
	return &TransportError{Provider: name, Err: err}
}

// stripFence removes one surrounding Markdown code fence, if present.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 || !strings.HasSuffix(s, "```") || len(s) < nl+4 {
		return s
	}
	return strings.TrimSpace(s[nl+1 : len(s)-3])
}

func checkObject(body string) error {
	dec := json.NewDecoder(strings.NewReader(body))
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return errors.New("trailing content after JSON value")
	}
	if _, ok := v.(map[string]any); !ok {
		return errors.New("top-level value is not an object")
	}
	return nil
}
