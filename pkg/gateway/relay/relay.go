// Package relay implements the per-connection duplex orchestrator: it moves
// audio between one client transport and one live backend session, enforces
// admission and duration limits, and tears the whole exchange down on the
// first task that finishes.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/insightify/voice-gateway/pkg/backend"
	"github.com/insightify/voice-gateway/pkg/gateway/ledger"
)

// Close codes surfaced on the client transport.
const (
	CloseNormal          = 1000
	CloseInternalError   = 1011
	ClosePolicyRejection = 4000
	CloseQuotaExceeded   = 4001
	CloseDurationLimit   = 4002
)

// maxCloseReasonBytes bounds the reason string in a close frame. Websocket
// control frames cap the payload at 125 bytes including the status code.
const maxCloseReasonBytes = 100

// ClientConn abstracts the client-facing transport. Close must be safe to
// call after a failed read or write.
type ClientConn interface {
	ReadBinary() ([]byte, error)
	WriteBinary(data []byte) error
	Close(code int, reason string) error
}

// Outcome labels how a relay session ended.
type Outcome string

const (
	OutcomeRejected Outcome = "rejected"
	OutcomeNormal   Outcome = "normal"
	OutcomeQuota    Outcome = "quota"
	OutcomeDuration Outcome = "duration"
	OutcomeInternal Outcome = "internal"
)

// Result reports the terminal state of one relay session.
type Result struct {
	SessionID string
	Outcome   Outcome
	CloseCode int
	Err       error
}

// Config bounds one relay session.
type Config struct {
	MaxSessionDuration time.Duration
	QueueSize          int
}

// Deps wires a relay instance.
type Deps struct {
	Conn        ClientConn
	Backend     backend.SessionOpener
	Ledger      *ledger.Ledger
	Logger      *slog.Logger
	Instruction string
	Config      Config
}

// Relay runs one admitted client connection from admission through close.
type Relay struct {
	conn        ClientConn
	opener      backend.SessionOpener
	ledger      *ledger.Ledger
	logger      *slog.Logger
	instruction string
	cfg         Config

	// The first transport close decides the session's terminal outcome,
	// regardless of which task reports completion first.
	closeOnce  sync.Once
	closeState struct {
		outcome Outcome
		code    int
		reason  string
	}
}

// New validates deps and builds a relay.
func New(deps Deps) (*Relay, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("client connection is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("backend opener is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.QueueSize <= 0 {
		deps.Config.QueueSize = 256
	}
	if deps.Config.MaxSessionDuration <= 0 {
		deps.Config.MaxSessionDuration = 3 * time.Minute
	}
	return &Relay{
		conn:        deps.Conn,
		opener:      deps.Backend,
		ledger:      deps.Ledger,
		logger:      deps.Logger,
		instruction: deps.Instruction,
		cfg:         deps.Config,
	}, nil
}

type outboundItem struct {
	data  []byte
	quota *backend.Error
}

type taskResult struct {
	task    string
	outcome Outcome
	err     error
}

// Run drives the session lifecycle: Admitting, Active, Draining, Closed.
// It always returns a terminal Result; errors inside tasks are classified
// and never surface raw on the client transport.
func (r *Relay) Run(ctx context.Context) Result {
	sessionID := ulid.Make().String()
	log := r.logger.With("session_id", sessionID)

	ok, reason := r.ledger.Admit(sessionID)
	if !ok {
		log.Info("session rejected", "reason", reason)
		r.closeClient(OutcomeRejected, ClosePolicyRejection, reason)
		return Result{SessionID: sessionID, Outcome: OutcomeRejected, CloseCode: ClosePolicyRejection}
	}

	sess, err := r.opener.Open(ctx, r.instruction)
	if err != nil {
		r.ledger.End(sessionID)
		outcome, code, msg := closeForError(err)
		log.Error("backend open failed", "error", err)
		r.closeClient(outcome, code, msg)
		return Result{SessionID: sessionID, Outcome: outcome, CloseCode: code, Err: err}
	}

	log.Info("session started", "max_duration", r.cfg.MaxSessionDuration)
	res := r.runActive(ctx, log, sess)
	res.SessionID = sessionID

	// Draining: cancellation has fired and runActive released the backend
	// session; release the ledger slot unconditionally.
	r.ledger.End(sessionID)
	log.Info("session closed", "outcome", res.Outcome, "close_code", res.CloseCode, "error", res.Err)
	return res
}

func (r *Relay) runActive(ctx context.Context, log *slog.Logger, sess backend.Session) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan []byte, r.cfg.QueueSize)
	outbound := make(chan outboundItem, r.cfg.QueueSize)
	results := make(chan taskResult, 5)

	var wg sync.WaitGroup
	run := func(name string, fn func() taskResult) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := fn()
			res.task = name
			results <- res
		}()
	}

	run("client_ingest", func() taskResult { return r.clientIngest(ctx, inbound) })
	run("backend_send", func() taskResult { return r.backendSend(ctx, sess, inbound) })
	run("backend_receive", func() taskResult { return r.backendReceive(ctx, log, sess, outbound) })
	run("client_egress", func() taskResult { return r.clientEgress(ctx, outbound) })
	run("watchdog", func() taskResult { return r.watchdog(ctx) })

	// First completion wins; everything else is cancelled.
	first := <-results
	cancel()

	// Unblock the reader and the backend receive loop, then wait the rest
	// out. If no task already closed the transport, the first completion
	// decides the close code.
	_ = sess.Close()
	proposed := resultFor(first)
	r.closeClient(proposed.Outcome, proposed.CloseCode, closeReason(proposed))
	wg.Wait()

	log.Debug("first task completed", "task", first.task, "outcome", first.outcome)

	// closeOnce has fired by now, so the recorded state is stable.
	res := Result{
		Outcome:   r.closeState.outcome,
		CloseCode: r.closeState.code,
		Err:       first.err,
	}
	return res
}

// clientIngest reads client audio and feeds the inbound queue. Closing the
// queue is the end-of-stream sentinel; a disconnect or read error is the
// normal way for a client to leave.
func (r *Relay) clientIngest(ctx context.Context, inbound chan<- []byte) taskResult {
	defer close(inbound)
	for {
		data, err := r.conn.ReadBinary()
		if err != nil {
			return taskResult{outcome: OutcomeNormal}
		}
		select {
		case inbound <- data:
		case <-ctx.Done():
			return taskResult{outcome: OutcomeNormal}
		}
	}
}

// backendSend forwards inbound chunks in order. On the sentinel it stops
// sending without closing the backend session, so pending replies can still
// arrive.
func (r *Relay) backendSend(ctx context.Context, sess backend.Session, inbound <-chan []byte) taskResult {
	for {
		select {
		case <-ctx.Done():
			return taskResult{outcome: OutcomeNormal}
		case data, ok := <-inbound:
			if !ok {
				return taskResult{outcome: OutcomeNormal}
			}
			if err := sess.Send(data, false); err != nil {
				return taskResult{outcome: outcomeForError(err), err: err}
			}
		}
	}
}

// backendReceive drains backend events onto the outbound queue. A quota error
// becomes a structured marker; any other backend error fails the task.
// TurnComplete is internal bookkeeping only.
func (r *Relay) backendReceive(ctx context.Context, log *slog.Logger, sess backend.Session, outbound chan<- outboundItem) taskResult {
	for {
		select {
		case <-ctx.Done():
			return taskResult{outcome: OutcomeNormal}
		case ev, ok := <-sess.Events():
			if !ok {
				return taskResult{outcome: OutcomeNormal}
			}
			switch ev.Type {
			case backend.EventAudioChunk:
				select {
				case outbound <- outboundItem{data: ev.Data}:
				case <-ctx.Done():
					return taskResult{outcome: OutcomeNormal}
				}
			case backend.EventTurnComplete:
				log.Debug("backend turn complete")
			case backend.EventError:
				if ev.Err != nil && ev.Err.Kind == backend.KindQuotaExceeded {
					select {
					case outbound <- outboundItem{quota: ev.Err}:
					case <-ctx.Done():
					}
					return taskResult{outcome: OutcomeQuota, err: ev.Err}
				}
				return taskResult{outcome: OutcomeInternal, err: ev.Err}
			}
		}
	}
}

// clientEgress forwards backend audio in order. The quota marker closes the
// transport with the quota policy code and stops the stream; nothing is
// forwarded past it.
func (r *Relay) clientEgress(ctx context.Context, outbound <-chan outboundItem) taskResult {
	for {
		select {
		case <-ctx.Done():
			return taskResult{outcome: OutcomeNormal}
		case item := <-outbound:
			if item.quota != nil {
				r.closeClient(OutcomeQuota, CloseQuotaExceeded, "backend quota exceeded, try again later")
				return taskResult{outcome: OutcomeQuota, err: item.quota}
			}
			if err := r.conn.WriteBinary(item.data); err != nil {
				return taskResult{outcome: OutcomeNormal}
			}
		}
	}
}

// watchdog enforces the session duration cap as one cancellable timer racing
// alongside the other tasks.
func (r *Relay) watchdog(ctx context.Context) taskResult {
	timer := time.NewTimer(r.cfg.MaxSessionDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return taskResult{outcome: OutcomeNormal}
	case <-timer.C:
		r.closeClient(OutcomeDuration, CloseDurationLimit, "session duration limit reached")
		return taskResult{outcome: OutcomeDuration}
	}
}

// closeClient closes the client transport at most once and records the
// winning outcome; later calls are no-ops.
func (r *Relay) closeClient(outcome Outcome, code int, reason string) {
	r.closeOnce.Do(func() {
		r.closeState.outcome = outcome
		r.closeState.code = code
		r.closeState.reason = reason
		_ = r.conn.Close(code, truncate(reason, maxCloseReasonBytes))
	})
}

func resultFor(first taskResult) Result {
	switch first.outcome {
	case OutcomeQuota:
		return Result{Outcome: OutcomeQuota, CloseCode: CloseQuotaExceeded, Err: first.err}
	case OutcomeDuration:
		return Result{Outcome: OutcomeDuration, CloseCode: CloseDurationLimit}
	case OutcomeInternal:
		return Result{Outcome: OutcomeInternal, CloseCode: CloseInternalError, Err: first.err}
	default:
		return Result{Outcome: OutcomeNormal, CloseCode: CloseNormal, Err: first.err}
	}
}

func closeReason(res Result) string {
	switch res.Outcome {
	case OutcomeQuota:
		return "backend quota exceeded, try again later"
	case OutcomeDuration:
		return "session duration limit reached"
	case OutcomeInternal:
		msg := "internal error"
		if res.Err != nil {
			msg = "internal error: " + res.Err.Error()
		}
		return msg
	default:
		return ""
	}
}

func closeForError(err error) (Outcome, int, string) {
	switch backend.KindOf(err) {
	case backend.KindQuotaExceeded:
		return OutcomeQuota, CloseQuotaExceeded, "backend quota exceeded, try again later"
	default:
		return OutcomeInternal, CloseInternalError, "backend unavailable"
	}
}

func outcomeForError(err error) Outcome {
	if backend.KindOf(err) == backend.KindQuotaExceeded {
		return OutcomeQuota
	}
	return OutcomeInternal
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
