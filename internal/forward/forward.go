// Package forward delivers messages to upstream agent endpoints over HTTP
// and normalizes their replies.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Failure classification. Callers branch on these to decide what the user
// sees and what gets logged.
var (
	ErrTimeout     = errors.New("upstream timed out")
	ErrUnreachable = errors.New("upstream unreachable")
)

// UpstreamError is a non-2xx response from the endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

// Request is a single outbound forward.
type Request struct {
	URL       string
	APIKey    string
	Timeout   time.Duration
	Message   string
	SessionID string
}

// Response is the normalized upstream reply.
type Response struct {
	Reply     string
	SessionID string
	Duration  time.Duration
}

// Forwarder posts messages to agent endpoints. One shared transport serves
// all targets; the per-request timeout comes from the resolved route.
type Forwarder struct {
	client *http.Client
	logger *slog.Logger
}

// NewForwarder creates a forwarder with a shared HTTP client.
func NewForwarder(log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: log.With(slog.String("service", "forward")),
	}
}

type forwardPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// upstreamReply accepts the field spellings endpoints actually use.
type upstreamReply struct {
	Reply          string `json:"reply"`
	Response       string `json:"response"`
	Message        string `json:"message"`
	SessionID      string `json:"sessionId"`
	SessionIDSnake string `json:"session_id"`
}

// Forward posts req.Message to req.URL and returns the normalized reply.
// Failures come back as ErrTimeout, ErrUnreachable, or *UpstreamError.
func (f *Forwarder) Forward(ctx context.Context, req Request) (Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(forwardPayload{Message: req.Message, SessionID: req.SessionID})
	if err != nil {
		return Response{}, fmt.Errorf("encode forward payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build forward request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return Response{Duration: elapsed}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{Duration: elapsed}, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Warn("upstream error",
			slog.String("url", req.URL),
			slog.Int("status", resp.StatusCode),
		)
		return Response{Duration: elapsed}, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	var reply upstreamReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		// Non-JSON 2xx bodies pass through as the reply text.
		return Response{Reply: string(raw), Duration: elapsed}, nil
	}
	return Response{
		Reply:     firstNonEmpty(reply.Reply, reply.Response, reply.Message),
		SessionID: firstNonEmpty(reply.SessionID, reply.SessionIDSnake),
		Duration:  elapsed,
	}, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
