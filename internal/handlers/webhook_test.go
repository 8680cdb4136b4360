package handlers

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/relaybotio/relaybot/internal/dispatch"
	"github.com/relaybotio/relaybot/internal/forward"
)

func testWebhookHandler() *WebhookHandler {
	return &WebhookHandler{logger: slog.Default()}
}

func TestRenderOutcome_Completed(t *testing.T) {
	t.Parallel()
	h := testWebhookHandler()
	if got := h.renderOutcome(dispatch.Outcome{Status: dispatch.StatusCompleted, Reply: "answer"}); got != "answer" {
		t.Fatalf("reply = %q", got)
	}
	if got := h.renderOutcome(dispatch.Outcome{Status: dispatch.StatusCompleted}); !strings.Contains(got, "without a reply") {
		t.Fatalf("empty reply rendering = %q", got)
	}
}

func TestRenderOutcome_Busy(t *testing.T) {
	t.Parallel()
	h := testWebhookHandler()
	out := h.renderOutcome(dispatch.Outcome{
		Status:    dispatch.StatusBusy,
		BusySince: time.Now().Add(-30 * time.Second),
	})
	if !strings.Contains(out, "Still working") {
		t.Fatalf("busy rendering = %q", out)
	}
}

func TestRenderOutcome_Failures(t *testing.T) {
	t.Parallel()
	h := testWebhookHandler()
	cases := []struct {
		name string
		out  dispatch.Outcome
		want string
	}{
		{"route missing", dispatch.Outcome{Status: dispatch.StatusRouteMissing}, "No forwarding target"},
		{"timeout", dispatch.Outcome{Status: dispatch.StatusForwardFailed, Err: forward.ErrTimeout}, "took too long"},
		{"unreachable", dispatch.Outcome{Status: dispatch.StatusForwardFailed, Err: forward.ErrUnreachable}, "Could not reach"},
		{"upstream", dispatch.Outcome{Status: dispatch.StatusForwardFailed, Err: &forward.UpstreamError{StatusCode: 502}}, "HTTP 502"},
		{"internal", dispatch.Outcome{Status: dispatch.StatusInternalError, Err: errors.New("boom")}, "our side"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := h.renderOutcome(tc.out)
			if !strings.Contains(got, tc.want) {
				t.Fatalf("rendering = %q, want substring %q", got, tc.want)
			}
		})
	}
}
