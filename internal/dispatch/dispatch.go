// Package dispatch coordinates the full path of one inbound message:
// identity, session, lock, route, forward, record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaybotio/relaybot/internal/channel"
	"github.com/relaybotio/relaybot/internal/forward"
	"github.com/relaybotio/relaybot/internal/forwardlog"
	"github.com/relaybotio/relaybot/internal/identity"
	"github.com/relaybotio/relaybot/internal/lock"
	"github.com/relaybotio/relaybot/internal/routing"
	"github.com/relaybotio/relaybot/internal/session"
)

// Status classifies the outcome of one dispatch. Every inbound message ends
// in exactly one of these; nothing escapes as a panic or an unhandled error.
type Status int

const (
	// StatusCompleted means the upstream replied and the turn was recorded.
	StatusCompleted Status = iota
	// StatusBusy means a fresh lock is already held for the conversation.
	StatusBusy
	// StatusRouteMissing means no project or bot fallback could serve it.
	StatusRouteMissing
	// StatusForwardFailed means the upstream call failed.
	StatusForwardFailed
	// StatusInternalError covers storage and infrastructure failures.
	StatusInternalError
)

// Outcome is the result of dispatching one message.
type Outcome struct {
	Status    Status
	Reply     string          // StatusCompleted
	Session   session.Session // valid when a session was resolved
	BusySince time.Time       // StatusBusy: when the holder acquired the lock
	Err       error           // the underlying cause for failure statuses
}

// SessionStore is the slice of the session store the coordinator needs.
type SessionStore interface {
	CreateOrActivate(ctx context.Context, scope session.Scope) (session.Session, error)
	RecordTurn(ctx context.Context, sess session.Session, newSessionID, messageText string) (session.Session, error)
}

// LockStore is the slice of the lock service the coordinator needs.
type LockStore interface {
	TryAcquire(ctx context.Context, key, ownerKey, chatID, botKey, message string) (bool, error)
	Release(ctx context.Context, key string) (bool, error)
	ReclaimIfStale(ctx context.Context, key string, threshold time.Duration) (bool, error)
	Get(ctx context.Context, key string) (lock.Lock, error)
}

// RouteResolver picks the forwarding target.
type RouteResolver interface {
	Resolve(ctx context.Context, botKey, chatID, sessionProjectID string) (routing.Target, error)
}

// Forwarder performs the upstream call.
type Forwarder interface {
	Forward(ctx context.Context, req forward.Request) (forward.Response, error)
}

// AuditLog records per-forward audit rows. May be nil to disable auditing.
type AuditLog interface {
	Begin(ctx context.Context, b forwardlog.Begun) (int64, error)
	Complete(ctx context.Context, id int64, response string, duration time.Duration) error
	Fail(ctx context.Context, id int64, cause error, duration time.Duration) error
}

// Coordinator runs the dispatch pipeline.
type Coordinator struct {
	sessions       SessionStore
	locks          LockStore
	routes         RouteResolver
	forwarder      Forwarder
	audit          AuditLog
	staleThreshold time.Duration
	logger         *slog.Logger
}

// NewCoordinator wires a coordinator. staleThreshold <= 0 uses the lock
// package default.
func NewCoordinator(
	log *slog.Logger,
	sessions SessionStore,
	locks LockStore,
	routes RouteResolver,
	forwarder Forwarder,
	audit AuditLog,
	staleThreshold time.Duration,
) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if staleThreshold <= 0 {
		staleThreshold = lock.DefaultStaleThreshold
	}
	return &Coordinator{
		sessions:       sessions,
		locks:          locks,
		routes:         routes,
		forwarder:      forwarder,
		audit:          audit,
		staleThreshold: staleThreshold,
		logger:         log.With(slog.String("service", "dispatch")),
	}
}

// Dispatch processes one inbound message end to end. All failures are
// absorbed into the Outcome; the lock acquired at the start is the one
// released at the end, even when the forward attaches a new downstream
// session id mid-flight.
func (c *Coordinator) Dispatch(ctx context.Context, msg channel.UnifiedMessage) (out Outcome) {
	// This is the recovery boundary: message handling runs on its own
	// goroutine, so a panic anywhere below would take the process down.
	// The lock release defer is registered later and still runs first
	// during the unwind, so no lock leaks.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("dispatch panic recovered",
				slog.String("bot_key", msg.BotKey),
				slog.Any("panic", r),
			)
			out = Outcome{Status: StatusInternalError, Err: fmt.Errorf("dispatch panic: %v", r)}
		}
	}()
	ownerKey := identity.EffectiveOwner(msg.SenderID, msg.ChatID, msg.ChatType)
	scope := session.Scope{OwnerKey: ownerKey, ChatID: msg.ChatID, BotKey: msg.BotKey}

	sess, err := c.sessions.CreateOrActivate(ctx, scope)
	if err != nil {
		c.logger.Error("session lookup failed", slog.Any("error", err))
		return Outcome{Status: StatusInternalError, Err: err}
	}

	key := lock.ComputeKey(sess.SessionID, ownerKey, msg.BotKey)
	acquired, err := c.locks.TryAcquire(ctx, key, ownerKey, msg.ChatID, msg.BotKey, msg.Text)
	if err != nil {
		return Outcome{Status: StatusInternalError, Session: sess, Err: err}
	}
	if !acquired {
		// One reclaim attempt for locks left behind by a crashed holder.
		reclaimed, err := c.locks.ReclaimIfStale(ctx, key, c.staleThreshold)
		if err != nil {
			return Outcome{Status: StatusInternalError, Session: sess, Err: err}
		}
		if reclaimed {
			acquired, err = c.locks.TryAcquire(ctx, key, ownerKey, msg.ChatID, msg.BotKey, msg.Text)
			if err != nil {
				return Outcome{Status: StatusInternalError, Session: sess, Err: err}
			}
		}
		if !acquired {
			return c.busyOutcome(ctx, key, sess)
		}
	}
	defer func() {
		// Release must not inherit a canceled request context.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, err := c.locks.Release(releaseCtx, key); err != nil {
			c.logger.Error("lock release failed", slog.String("key", key), slog.Any("error", err))
		}
	}()

	// Routes are resolved after acquisition: a project change that landed
	// while we waited is honored.
	target, err := c.routes.Resolve(ctx, msg.BotKey, msg.ChatID, sess.CurrentProjectID)
	if err != nil {
		if errors.Is(err, routing.ErrNoRoute) {
			return Outcome{Status: StatusRouteMissing, Session: sess, Err: err}
		}
		return Outcome{Status: StatusInternalError, Session: sess, Err: err}
	}

	auditID := c.beginAudit(ctx, msg, ownerKey, sess, target)

	resp, err := c.forwarder.Forward(ctx, forward.Request{
		URL:       target.URL,
		APIKey:    target.APIKey,
		Timeout:   target.Timeout,
		Message:   msg.Text,
		SessionID: sess.SessionID,
	})
	if err != nil {
		c.failAudit(ctx, auditID, err, resp.Duration)
		c.logger.Warn("forward failed",
			slog.String("bot_key", msg.BotKey),
			slog.String("url", target.URL),
			slog.Any("error", err),
		)
		return Outcome{Status: StatusForwardFailed, Session: sess, Err: err}
	}
	c.completeAudit(ctx, auditID, resp)

	updated, err := c.sessions.RecordTurn(ctx, sess, resp.SessionID, msg.Text)
	if err != nil {
		// The reply is in hand; losing the bookkeeping must not lose it.
		c.logger.Error("record turn failed", slog.Any("error", err))
		updated = sess
	}

	return Outcome{Status: StatusCompleted, Reply: resp.Reply, Session: updated}
}

func (c *Coordinator) busyOutcome(ctx context.Context, key string, sess session.Session) Outcome {
	out := Outcome{Status: StatusBusy, Session: sess}
	holder, err := c.locks.Get(ctx, key)
	if err == nil {
		out.BusySince = holder.AcquiredAt
	} else if !errors.Is(err, lock.ErrNotFound) {
		c.logger.Warn("busy holder lookup failed", slog.String("key", key), slog.Any("error", err))
	}
	return out
}

func (c *Coordinator) beginAudit(ctx context.Context, msg channel.UnifiedMessage, ownerKey string, sess session.Session, target routing.Target) int64 {
	if c.audit == nil {
		return 0
	}
	id, err := c.audit.Begin(ctx, forwardlog.Begun{
		BotKey:    msg.BotKey,
		ChatID:    msg.ChatID,
		OwnerKey:  ownerKey,
		Message:   session.Snippet(msg.Text),
		TargetURL: target.URL,
		SessionID: sess.SessionID,
		ProjectID: target.ProjectID,
	})
	if err != nil {
		c.logger.Warn("audit begin failed", slog.Any("error", err))
		return 0
	}
	return id
}

func (c *Coordinator) failAudit(ctx context.Context, id int64, cause error, duration time.Duration) {
	if c.audit == nil || id == 0 {
		return
	}
	if err := c.audit.Fail(ctx, id, cause, duration); err != nil {
		c.logger.Warn("audit fail failed", slog.Any("error", err))
	}
}

func (c *Coordinator) completeAudit(ctx context.Context, id int64, resp forward.Response) {
	if c.audit == nil || id == 0 {
		return
	}
	if err := c.audit.Complete(ctx, id, session.Snippet(resp.Reply), resp.Duration); err != nil {
		c.logger.Warn("audit complete failed", slog.Any("error", err))
	}
}
