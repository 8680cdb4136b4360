package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/relaybotio/relaybot/internal/channel"
	"github.com/relaybotio/relaybot/internal/forward"
	"github.com/relaybotio/relaybot/internal/forwardlog"
	"github.com/relaybotio/relaybot/internal/identity"
	"github.com/relaybotio/relaybot/internal/lock"
	"github.com/relaybotio/relaybot/internal/routing"
	"github.com/relaybotio/relaybot/internal/session"
)

type fakeSessions struct {
	active      session.Session
	createErr   error
	recordErr   error
	recordedID  string
	recordCalls int
}

func (f *fakeSessions) CreateOrActivate(_ context.Context, scope session.Scope) (session.Session, error) {
	if f.createErr != nil {
		return session.Session{}, f.createErr
	}
	s := f.active
	s.OwnerKey = scope.OwnerKey
	s.ChatID = scope.ChatID
	s.BotKey = scope.BotKey
	if s.ID == "" {
		s.ID = "row-1"
	}
	return s, nil
}

func (f *fakeSessions) RecordTurn(_ context.Context, sess session.Session, newSessionID, _ string) (session.Session, error) {
	f.recordCalls++
	if f.recordErr != nil {
		return session.Session{}, f.recordErr
	}
	f.recordedID = newSessionID
	if newSessionID != "" {
		sess.SessionID = newSessionID
	}
	sess.MessageCount++
	return sess, nil
}

type fakeLocks struct {
	held         map[string]lock.Lock
	stale        map[string]bool
	acquireErr   error
	acquired     []string
	released     []string
	reclaimCalls int
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: map[string]lock.Lock{}, stale: map[string]bool{}}
}

func (f *fakeLocks) TryAcquire(_ context.Context, key, ownerKey, chatID, botKey, message string) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if _, exists := f.held[key]; exists {
		return false, nil
	}
	f.held[key] = lock.Lock{Key: key, OwnerKey: ownerKey, ChatID: chatID, BotKey: botKey, Message: message, AcquiredAt: time.Now()}
	f.acquired = append(f.acquired, key)
	return true, nil
}

func (f *fakeLocks) Release(_ context.Context, key string) (bool, error) {
	_, exists := f.held[key]
	delete(f.held, key)
	f.released = append(f.released, key)
	return exists, nil
}

func (f *fakeLocks) ReclaimIfStale(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.reclaimCalls++
	if f.stale[key] {
		delete(f.held, key)
		return true, nil
	}
	return false, nil
}

func (f *fakeLocks) Get(_ context.Context, key string) (lock.Lock, error) {
	l, ok := f.held[key]
	if !ok {
		return lock.Lock{}, lock.ErrNotFound
	}
	return l, nil
}

type fakeRoutes struct {
	target routing.Target
	err    error
	calls  int
}

func (f *fakeRoutes) Resolve(context.Context, string, string, string) (routing.Target, error) {
	f.calls++
	if f.err != nil {
		return routing.Target{}, f.err
	}
	return f.target, nil
}

type fakeForwarder struct {
	resp     forward.Response
	err      error
	panicMsg string
	calls    int
	last     forward.Request
}

func (f *fakeForwarder) Forward(_ context.Context, req forward.Request) (forward.Response, error) {
	f.calls++
	f.last = req
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return forward.Response{}, f.err
	}
	return f.resp, nil
}

type fakeAudit struct {
	begun     []forwardlog.Begun
	completed int
	failed    int
}

func (f *fakeAudit) Begin(_ context.Context, b forwardlog.Begun) (int64, error) {
	f.begun = append(f.begun, b)
	return int64(len(f.begun)), nil
}
func (f *fakeAudit) Complete(context.Context, int64, string, time.Duration) error {
	f.completed++
	return nil
}
func (f *fakeAudit) Fail(context.Context, int64, error, time.Duration) error {
	f.failed++
	return nil
}

func testMessage() channel.UnifiedMessage {
	return channel.UnifiedMessage{
		BotKey:   "bot1",
		ChatID:   "chat1",
		ChatType: identity.ChatTypePrivate,
		SenderID: "user1",
		Text:     "hello agent",
	}
}

func newCoordinator(s *fakeSessions, l *fakeLocks, r *fakeRoutes, fw *fakeForwarder, a *fakeAudit) *Coordinator {
	var audit AuditLog
	if a != nil {
		audit = a
	}
	return NewCoordinator(nil, s, l, r, fw, audit, time.Minute)
}

func TestDispatch_Completed(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{}
	locks := newFakeLocks()
	routes := &fakeRoutes{target: routing.Target{URL: "https://up.example", APIKey: "k", Timeout: 30 * time.Second, ProjectID: "p1"}}
	fw := &fakeForwarder{resp: forward.Response{Reply: "done", SessionID: "sess-new"}}
	audit := &fakeAudit{}

	out := newCoordinator(sessions, locks, routes, fw, audit).Dispatch(context.Background(), testMessage())
	if out.Status != StatusCompleted {
		t.Fatalf("status = %v, err = %v", out.Status, out.Err)
	}
	if out.Reply != "done" {
		t.Fatalf("reply = %q", out.Reply)
	}
	if sessions.recordedID != "sess-new" {
		t.Fatalf("recorded session id = %q", sessions.recordedID)
	}
	if len(locks.held) != 0 {
		t.Fatalf("locks still held: %v", locks.held)
	}
	if fw.last.URL != "https://up.example" || fw.last.APIKey != "k" {
		t.Fatalf("forward request = %+v", fw.last)
	}
	if len(audit.begun) != 1 || audit.completed != 1 || audit.failed != 0 {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestDispatch_PrivateChatLockKey(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	out := newCoordinator(&fakeSessions{}, locks, &fakeRoutes{target: routing.Target{URL: "u"}}, &fakeForwarder{}, nil).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusCompleted {
		t.Fatalf("status = %v", out.Status)
	}
	if len(locks.acquired) != 1 || locks.acquired[0] != "user1:bot1" {
		t.Fatalf("acquired = %v, want sender-scoped key", locks.acquired)
	}
}

func TestDispatch_GroupChatLockKey(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	msg := testMessage()
	msg.ChatType = identity.ChatTypeGroup

	out := newCoordinator(&fakeSessions{}, locks, &fakeRoutes{target: routing.Target{URL: "u"}}, &fakeForwarder{}, nil).
		Dispatch(context.Background(), msg)
	if out.Status != StatusCompleted {
		t.Fatalf("status = %v", out.Status)
	}
	// Group members share one context, so they contend on the chat key.
	if len(locks.acquired) != 1 || locks.acquired[0] != "chat1:bot1" {
		t.Fatalf("acquired = %v, want chat-scoped key", locks.acquired)
	}
}

func TestDispatch_SessionIDLockKey(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	sessions := &fakeSessions{active: session.Session{SessionID: "sess-abc"}}

	out := newCoordinator(sessions, locks, &fakeRoutes{target: routing.Target{URL: "u"}}, &fakeForwarder{}, nil).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusCompleted {
		t.Fatalf("status = %v", out.Status)
	}
	if locks.acquired[0] != "sess-abc" {
		t.Fatalf("acquired = %v, want session id key", locks.acquired)
	}
}

func TestDispatch_Busy(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	since := time.Now().Add(-10 * time.Second)
	locks.held["user1:bot1"] = lock.Lock{Key: "user1:bot1", AcquiredAt: since}
	fw := &fakeForwarder{}

	out := newCoordinator(&fakeSessions{}, locks, &fakeRoutes{target: routing.Target{URL: "u"}}, fw, nil).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusBusy {
		t.Fatalf("status = %v", out.Status)
	}
	if !out.BusySince.Equal(since) {
		t.Fatalf("busy since = %v, want %v", out.BusySince, since)
	}
	if fw.calls != 0 {
		t.Fatal("busy dispatch forwarded anyway")
	}
	// The held lock must survive; we never release what we did not acquire.
	if len(locks.released) != 0 {
		t.Fatalf("released = %v", locks.released)
	}
}

func TestDispatch_StaleReclaimRetry(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	locks.held["user1:bot1"] = lock.Lock{Key: "user1:bot1", AcquiredAt: time.Now().Add(-time.Hour)}
	locks.stale["user1:bot1"] = true
	fw := &fakeForwarder{resp: forward.Response{Reply: "ok"}}

	out := newCoordinator(&fakeSessions{}, locks, &fakeRoutes{target: routing.Target{URL: "u"}}, fw, nil).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusCompleted {
		t.Fatalf("status = %v, err = %v", out.Status, out.Err)
	}
	if locks.reclaimCalls != 1 {
		t.Fatalf("reclaim calls = %d", locks.reclaimCalls)
	}
	if len(locks.held) != 0 {
		t.Fatalf("locks still held after dispatch: %v", locks.held)
	}
}

func TestDispatch_ReleaseOnForwardFailure(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	fw := &fakeForwarder{err: forward.ErrTimeout}
	audit := &fakeAudit{}

	out := newCoordinator(&fakeSessions{}, locks, &fakeRoutes{target: routing.Target{URL: "u"}}, fw, audit).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusForwardFailed {
		t.Fatalf("status = %v", out.Status)
	}
	if !errors.Is(out.Err, forward.ErrTimeout) {
		t.Fatalf("err = %v", out.Err)
	}
	if len(locks.held) != 0 {
		t.Fatalf("lock leaked on failure: %v", locks.held)
	}
	if audit.failed != 1 {
		t.Fatalf("audit failures = %d", audit.failed)
	}
}

func TestDispatch_ReleasesOriginalKeyAfterSessionAttach(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	sessions := &fakeSessions{}
	// First message: no session id yet, so the composite key is acquired.
	// The forward attaches sess-new; the composite key must still be the
	// one released.
	fw := &fakeForwarder{resp: forward.Response{Reply: "ok", SessionID: "sess-new"}}

	out := newCoordinator(sessions, locks, &fakeRoutes{target: routing.Target{URL: "u"}}, fw, nil).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusCompleted {
		t.Fatalf("status = %v", out.Status)
	}
	if len(locks.released) != 1 || locks.released[0] != "user1:bot1" {
		t.Fatalf("released = %v, want the originally acquired key", locks.released)
	}
	if out.Session.SessionID != "sess-new" {
		t.Fatalf("session id = %q", out.Session.SessionID)
	}
}

func TestDispatch_RouteMissing(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	fw := &fakeForwarder{}

	out := newCoordinator(&fakeSessions{}, locks, &fakeRoutes{err: routing.ErrNoRoute}, fw, nil).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusRouteMissing {
		t.Fatalf("status = %v", out.Status)
	}
	if fw.calls != 0 {
		t.Fatal("forwarded without a route")
	}
	if len(locks.held) != 0 {
		t.Fatalf("lock leaked: %v", locks.held)
	}
}

func TestDispatch_RouteResolvedAfterAcquisition(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	routes := &fakeRoutes{target: routing.Target{URL: "u"}}

	newCoordinator(&fakeSessions{}, locks, routes, &fakeForwarder{}, nil).
		Dispatch(context.Background(), testMessage())
	if routes.calls != 1 {
		t.Fatalf("route resolutions = %d, want exactly one after acquisition", routes.calls)
	}
	if len(locks.acquired) != 1 {
		t.Fatalf("acquired = %v", locks.acquired)
	}
}

func TestDispatch_SessionStoreFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("pool exhausted")
	out := newCoordinator(&fakeSessions{createErr: boom}, newFakeLocks(), &fakeRoutes{}, &fakeForwarder{}, nil).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusInternalError || !errors.Is(out.Err, boom) {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestDispatch_PanicBecomesInternalError(t *testing.T) {
	t.Parallel()
	locks := newFakeLocks()
	fw := &fakeForwarder{panicMsg: "upstream client blew up"}

	out := newCoordinator(&fakeSessions{}, locks, &fakeRoutes{target: routing.Target{URL: "u"}}, fw, nil).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusInternalError {
		t.Fatalf("status = %v, want internal error", out.Status)
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), "upstream client blew up") {
		t.Fatalf("err = %v, want the panic value preserved", out.Err)
	}
	// The release defer runs during the unwind.
	if len(locks.acquired) != 1 {
		t.Fatalf("acquired = %v", locks.acquired)
	}
	if len(locks.held) != 0 {
		t.Fatalf("lock leaked across the panic: %v", locks.held)
	}
}

func TestDispatch_RecordTurnFailureStillCompletes(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{recordErr: errors.New("write failed")}
	fw := &fakeForwarder{resp: forward.Response{Reply: "the answer"}}

	out := newCoordinator(sessions, newFakeLocks(), &fakeRoutes{target: routing.Target{URL: "u"}}, fw, nil).
		Dispatch(context.Background(), testMessage())
	if out.Status != StatusCompleted {
		t.Fatalf("status = %v", out.Status)
	}
	if out.Reply != "the answer" {
		t.Fatalf("reply = %q", out.Reply)
	}
}
