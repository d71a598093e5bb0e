package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/insightify/voice-gateway/pkg/backend"
	"github.com/insightify/voice-gateway/pkg/gateway/ledger"
)

type fakeConn struct {
	reads chan []byte

	mu      sync.Mutex
	writes  [][]byte
	closed  bool
	code    int
	reason  string
	closeCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:   make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadBinary() ([]byte, error) {
	select {
	case data, ok := <-c.reads:
		if !ok {
			return nil, errors.New("client disconnected")
		}
		return data, nil
	case <-c.closeCh:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.code = code
	c.reason = reason
	close(c.closeCh)
	return nil
}

func (c *fakeConn) closeInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeSession struct {
	events chan backend.Event

	mu     sync.Mutex
	sent   [][]byte
	closes atomic.Int32
	once   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan backend.Event, 16)}
}

func (s *fakeSession) Send(chunk []byte, finalTurn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, chunk)
	return nil
}

func (s *fakeSession) Events() <-chan backend.Event { return s.events }

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	s.once.Do(func() { close(s.events) })
	return nil
}

type fakeOpener struct {
	sess   *fakeSession
	err    error
	opened atomic.Int32
}

func (o *fakeOpener) Open(ctx context.Context, instruction string) (backend.Session, error) {
	o.opened.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	return o.sess, nil
}

func newRelay(t *testing.T, conn *fakeConn, opener *fakeOpener, led *ledger.Ledger, maxDuration time.Duration) *Relay {
	t.Helper()
	r, err := New(Deps{
		Conn:    conn,
		Backend: opener,
		Ledger:  led,
		Config:  Config{MaxSessionDuration: maxDuration},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRun_PolicyRejection(t *testing.T) {
	led := ledger.New(ledger.Policy{MaxSessionsPerDay: 1})
	led.Start("taken")

	conn := newFakeConn()
	opener := &fakeOpener{sess: newFakeSession()}
	r := newRelay(t, conn, opener, led, time.Minute)

	res := r.Run(context.Background())

	if res.Outcome != OutcomeRejected || res.CloseCode != ClosePolicyRejection {
		t.Fatalf("outcome=%s code=%d", res.Outcome, res.CloseCode)
	}
	if opener.opened.Load() != 0 {
		t.Fatalf("backend session must not be opened on rejection")
	}
	if got := led.Status().Used; got != 1 {
		t.Fatalf("rejection must not consume quota, used=%d", got)
	}
	code, _ := conn.closeInfo()
	if code != ClosePolicyRejection {
		t.Fatalf("close code=%d", code)
	}
}

func TestRun_ClientDisconnectClosesNormally(t *testing.T) {
	led := ledger.New(ledger.Policy{MaxSessionsPerDay: 5})
	conn := newFakeConn()
	close(conn.reads) // disconnect immediately after connecting

	sess := newFakeSession()
	opener := &fakeOpener{sess: sess}
	r := newRelay(t, conn, opener, led, time.Minute)

	res := r.Run(context.Background())

	if res.Outcome != OutcomeNormal || res.CloseCode != CloseNormal {
		t.Fatalf("outcome=%s code=%d err=%v", res.Outcome, res.CloseCode, res.Err)
	}
	if got := sess.closes.Load(); got != 1 {
		t.Fatalf("backend session closed %d times, want 1", got)
	}
	if led.Active(res.SessionID) {
		t.Fatalf("session still active after close")
	}
	if got := led.Status().Used; got != 1 {
		t.Fatalf("used=%d", got)
	}
}

func TestRun_DurationWatchdogCutsOff(t *testing.T) {
	led := ledger.New(ledger.Policy{MaxSessionsPerDay: 5})
	conn := newFakeConn() // client never sends, never disconnects
	sess := newFakeSession()
	opener := &fakeOpener{sess: sess}

	limit := 50 * time.Millisecond
	r := newRelay(t, conn, opener, led, limit)

	start := time.Now()
	res := r.Run(context.Background())
	elapsed := time.Since(start)

	if res.Outcome != OutcomeDuration || res.CloseCode != CloseDurationLimit {
		t.Fatalf("outcome=%s code=%d", res.Outcome, res.CloseCode)
	}
	if elapsed < limit || elapsed > limit+2*time.Second {
		t.Fatalf("watchdog fired after %v, limit %v", elapsed, limit)
	}
	code, _ := conn.closeInfo()
	if code != CloseDurationLimit {
		t.Fatalf("close code=%d", code)
	}
	if led.Active(res.SessionID) {
		t.Fatalf("session still active after duration cutoff")
	}
	if got := sess.closes.Load(); got != 1 {
		t.Fatalf("backend session closed %d times, want 1", got)
	}
}

func TestRun_QuotaErrorClosesWithQuotaCode(t *testing.T) {
	led := ledger.New(ledger.Policy{MaxSessionsPerDay: 5})
	conn := newFakeConn()
	sess := newFakeSession()
	sess.events <- backend.Event{Type: backend.EventAudioChunk, Data: []byte("audio-1")}
	sess.events <- backend.Event{
		Type: backend.EventError,
		Err:  &backend.Error{Kind: backend.KindQuotaExceeded, Message: "rate limited"},
	}
	opener := &fakeOpener{sess: sess}
	r := newRelay(t, conn, opener, led, time.Minute)

	res := r.Run(context.Background())

	if res.Outcome != OutcomeQuota || res.CloseCode != CloseQuotaExceeded {
		t.Fatalf("outcome=%s code=%d err=%v", res.Outcome, res.CloseCode, res.Err)
	}
	code, _ := conn.closeInfo()
	if code != CloseQuotaExceeded {
		t.Fatalf("close code=%d", code)
	}
	// At most the one chunk queued before the marker may reach the client.
	if got := conn.writeCount(); got > 1 {
		t.Fatalf("wrote %d frames after quota marker", got)
	}
	if led.Active(res.SessionID) {
		t.Fatalf("session still active after quota cutoff")
	}
}

func TestRun_BackendReceiveErrorIsInternal(t *testing.T) {
	led := ledger.New(ledger.Policy{MaxSessionsPerDay: 5})
	conn := newFakeConn()
	sess := newFakeSession()
	sess.events <- backend.Event{
		Type: backend.EventError,
		Err:  &backend.Error{Kind: backend.KindInternal, Message: "stream broke"},
	}
	opener := &fakeOpener{sess: sess}
	r := newRelay(t, conn, opener, led, time.Minute)

	res := r.Run(context.Background())

	if res.Outcome != OutcomeInternal || res.CloseCode != CloseInternalError {
		t.Fatalf("outcome=%s code=%d", res.Outcome, res.CloseCode)
	}
	_, reason := conn.closeInfo()
	if len(reason) > maxCloseReasonBytes {
		t.Fatalf("close reason not truncated: %d bytes", len(reason))
	}
}

func TestRun_BackendOpenFailure(t *testing.T) {
	led := ledger.New(ledger.Policy{MaxSessionsPerDay: 5})
	conn := newFakeConn()
	opener := &fakeOpener{err: &backend.Error{Kind: backend.KindAuth, Message: "bad key"}}
	r := newRelay(t, conn, opener, led, time.Minute)

	res := r.Run(context.Background())

	if res.Outcome != OutcomeInternal || res.CloseCode != CloseInternalError {
		t.Fatalf("outcome=%s code=%d", res.Outcome, res.CloseCode)
	}
	if led.Active(res.SessionID) {
		t.Fatalf("session must be released when open fails")
	}
	if got := led.Status().Used; got != 1 {
		t.Fatalf("quota slot stays consumed after failed open, used=%d", got)
	}
}

func TestRun_ForwardsClientAudioInOrder(t *testing.T) {
	led := ledger.New(ledger.Policy{MaxSessionsPerDay: 5})
	conn := newFakeConn()
	sess := newFakeSession()
	opener := &fakeOpener{sess: sess}
	r := newRelay(t, conn, opener, led, time.Minute)

	conn.reads <- []byte("one")
	conn.reads <- []byte("two")
	conn.reads <- []byte("three")
	close(conn.reads)

	res := r.Run(context.Background())
	if res.Outcome != OutcomeNormal {
		t.Fatalf("outcome=%s", res.Outcome)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	want := []string{"one", "two", "three"}
	if len(sess.sent) > len(want) {
		t.Fatalf("sent %d chunks", len(sess.sent))
	}
	for i, chunk := range sess.sent {
		if string(chunk) != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, chunk, want[i])
		}
	}
}
