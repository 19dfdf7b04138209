// Package mux implements the per-connection protocol multiplexer: it
// validates inbound frames, drives session creation, forwards input and
// resize, and relays the environment's output stream back to the client.
package mux

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/drydock-sh/drydock/internal/catalog"
	"github.com/drydock-sh/drydock/internal/logutil"
	"github.com/drydock-sh/drydock/internal/proto"
	"github.com/drydock-sh/drydock/internal/runtime"
	"github.com/drydock-sh/drydock/internal/session"
)

// Close codes used alongside the standard normal closure (1000).
const (
	// CloseCodePolicy signals a capacity-policy rejection (session limit).
	CloseCodePolicy = 4429
	// CloseCodeTerminated signals an administrative termination.
	CloseCodeTerminated = 4410
)

// FrameConn abstracts the framed transport so the multiplexer can be tested
// without a network connection.
type FrameConn interface {
	// ReadFrame blocks until the next client frame arrives.
	ReadFrame(ctx context.Context) ([]byte, error)
	// WriteFrame encodes and sends one frame. Safe for concurrent use.
	WriteFrame(ctx context.Context, msg proto.Outbound) error
	// Close closes the transport with the given code and reason.
	Close(code int, reason string) error
}

// Mux routes one connection's frames. It binds at most one session at a
// time; a new create-session replaces the previous one.
type Mux struct {
	conn   FrameConn
	reg    *session.Registry
	cat    *catalog.Catalog
	userID uint

	limiter *rateLimiter

	mu   sync.Mutex
	sess *session.Session
	// watchDone stops the end-of-stream watcher for the bound session.
	watchDone chan struct{}
	// noticed is set once a termination notice was delivered, so the final
	// close carries the administrative close code instead of 1000.
	noticed bool
}

func New(conn FrameConn, reg *session.Registry, cat *catalog.Catalog, userID uint) *Mux {
	return &Mux{
		conn:    conn,
		reg:     reg,
		cat:     cat,
		userID:  userID,
		limiter: newRateLimiter(messageRateLimit, messageRateBurst),
	}
}

// Session returns the currently bound session, or nil.
func (m *Mux) Session() *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Run reads frames until the connection ends, then synchronously terminates
// the bound session. Stream-level failures never escape: the connection
// handler for one client cannot crash another's.
func (m *Mux) Run(ctx context.Context) {
	defer m.teardown(ctx)

	for {
		data, err := m.conn.ReadFrame(ctx)
		if err != nil {
			return
		}

		if !m.limiter.allow() {
			continue
		}

		var in proto.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			m.conn.WriteFrame(ctx, proto.Error("malformed message"))
			continue
		}

		switch in.Type {
		case proto.TypeCreateSession:
			if closed := m.handleCreate(ctx, in); closed {
				return
			}
		case proto.TypeInput:
			if closed := m.handleInput(ctx, in); closed {
				return
			}
		case proto.TypeResize:
			m.handleResize(ctx, in)
		case proto.TypePing:
			m.handlePing(ctx)
		default:
			// The peer may be newer than we are; never kill the
			// connection over a message it will eventually use correctly.
			log.Printf("[mux] ignoring unknown message type %q", logutil.SanitizeForLog(in.Type))
		}
	}
}

// handleCreate validates and executes a create-session request. Returns
// true when the connection has been closed (capacity rejection).
func (m *Mux) handleCreate(ctx context.Context, in proto.Inbound) bool {
	if err := proto.ValidateGeometry(in.Cols, in.Rows); err != nil {
		m.conn.WriteFrame(ctx, proto.Error(err.Error()))
		return false
	}
	shell, err := proto.ResolveShell(in.Shell)
	if err != nil {
		m.conn.WriteFrame(ctx, proto.Error(err.Error()))
		return false
	}
	if !m.cat.Has(in.Environment) {
		m.conn.WriteFrame(ctx, proto.Error("unknown environment profile "+logutil.SanitizeForLog(in.Environment)))
		return false
	}

	// A new session replaces the previous one rather than stacking.
	m.unbind(ctx, "replaced by new session")

	s, err := m.reg.Create(ctx, m.userID, uint16(in.Cols), uint16(in.Rows), shell, in.Environment)
	if err != nil {
		var limitErr *session.LimitError
		if errors.As(err, &limitErr) {
			m.conn.WriteFrame(ctx, proto.Error(limitErr.Error()))
			m.conn.Close(CloseCodePolicy, "session limit exceeded")
			return true
		}
		log.Printf("[mux] session creation failed for user %d: %v", m.userID, err)
		m.conn.WriteFrame(ctx, proto.Error("failed to create session: "+err.Error()))
		return false
	}

	if err := m.conn.WriteFrame(ctx, proto.SessionCreated(s.ID)); err != nil {
		m.reg.Terminate(context.WithoutCancel(ctx), s.ID, "connection lost during create")
		return true
	}

	watchDone := make(chan struct{})
	m.mu.Lock()
	m.sess = s
	m.watchDone = watchDone
	m.mu.Unlock()

	// Attach after session-created so the replayed prompt follows it.
	s.Attach(&attachment{mux: m, sessionID: s.ID, ctx: ctx})

	go m.watchEnd(ctx, s, watchDone)
	return false
}

// watchEnd notifies the client and closes the connection when the bound
// session's stream ends underneath it (process exit, admin termination).
func (m *Mux) watchEnd(ctx context.Context, s *session.Session, cancel <-chan struct{}) {
	select {
	case <-cancel:
		return
	case <-s.Done():
	}

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	noticed := m.noticed
	m.mu.Unlock()

	m.conn.WriteFrame(ctx, proto.SessionEnded(s.ID, s.EndReason()))
	code := 1000
	if noticed {
		code = CloseCodeTerminated
	}
	m.conn.Close(code, "session ended")
}

func (m *Mux) handleInput(ctx context.Context, in proto.Inbound) bool {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil {
		m.conn.WriteFrame(ctx, proto.Error("No active session"))
		return false
	}
	if err := proto.ValidateInput(in); err != nil {
		m.conn.WriteFrame(ctx, proto.Error(err.Error()))
		return false
	}

	if err := m.reg.Write(s.ID, []byte(in.Data)); err != nil {
		if errors.Is(err, runtime.ErrHandleClosed) {
			// The stream-end watcher delivers session-ended; just stop
			// accepting input.
			return false
		}
		m.conn.WriteFrame(ctx, proto.Error(err.Error()))
	}
	return false
}

func (m *Mux) handleResize(ctx context.Context, in proto.Inbound) {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil {
		m.conn.WriteFrame(ctx, proto.Error("No active session"))
		return
	}
	if err := proto.ValidateGeometry(in.Cols, in.Rows); err != nil {
		m.conn.WriteFrame(ctx, proto.Error(err.Error()))
		return
	}

	if err := m.reg.Resize(ctx, s.ID, uint16(in.Cols), uint16(in.Rows)); err != nil {
		if errors.Is(err, runtime.ErrHandleClosed) {
			return
		}
		m.conn.WriteFrame(ctx, proto.Error(err.Error()))
	}
}

func (m *Mux) handlePing(ctx context.Context) {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s != nil {
		m.reg.Touch(s.ID)
	}
	m.conn.WriteFrame(ctx, proto.Pong())
}

// unbind detaches and terminates the currently bound session, if any.
func (m *Mux) unbind(ctx context.Context, reason string) {
	m.mu.Lock()
	s := m.sess
	watchDone := m.watchDone
	m.sess = nil
	m.watchDone = nil
	m.mu.Unlock()

	if s == nil {
		return
	}
	if watchDone != nil {
		close(watchDone)
	}
	s.Detach()
	m.reg.Terminate(context.WithoutCancel(ctx), s.ID, reason)
}

func (m *Mux) teardown(ctx context.Context) {
	m.unbind(ctx, "connection closed")
}

// attachment adapts the multiplexer to the session's output sink contract.
type attachment struct {
	mux       *Mux
	sessionID string
	ctx       context.Context
}

func (a *attachment) Output(p []byte) error {
	return a.mux.conn.WriteFrame(a.ctx, proto.Output(a.sessionID, string(p)))
}

func (a *attachment) TerminationNotice(reason string) {
	a.mux.mu.Lock()
	a.mux.noticed = true
	a.mux.mu.Unlock()
	a.mux.conn.WriteFrame(a.ctx, proto.TerminationNotice(a.sessionID, reason))
}
