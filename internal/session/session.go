package session

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/drydock-sh/drydock/internal/runtime"
)

// State is the lifecycle state of a session.
type State string

const (
	// StatePending exists only while the environment is being materialized.
	StatePending State = "pending"
	// StateActive means the environment is live and usable.
	StateActive State = "active"
	// StateTerminating means teardown has begun. Once observed, Write and
	// Resize fail fast instead of touching the closing handle.
	StateTerminating State = "terminating"
	// StateGone means teardown completed.
	StateGone State = "gone"
)

// Attachment is the connection-side sink for a session's output. At most
// one attachment is bound at a time.
type Attachment interface {
	// Output delivers one ordered chunk of the environment's output.
	Output(p []byte) error
	// TerminationNotice warns the client of an impending administrative
	// termination.
	TerminationNotice(reason string)
}

// Session is a client-owned logical terminal backed by exactly one
// execution handle. The handle is exclusively owned: neither outlives
// the other.
type Session struct {
	// ID is the opaque session token, unique for the process lifetime.
	ID string
	// UserID identifies the owning user.
	UserID uint
	// Shell is the program running inside the environment.
	Shell string
	// Profile is the environment profile name.
	Profile string
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time
	// ExpiresAt is the absolute expiry, fixed at creation.
	ExpiresAt time.Time

	handle runtime.Handle

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	cols, rows   uint16

	// outMu serializes output delivery so attach-time replay and live
	// chunks cannot interleave.
	outMu    sync.Mutex
	attached Attachment
	backlog  *backlog

	done      chan struct{}
	endOnce   sync.Once
	endReason string
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the most recent input, resize, or ping.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch updates the activity clock to now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Geometry returns the stored terminal size.
func (s *Session) Geometry() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

func (s *Session) setGeometry(cols, rows uint16) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
}

// RuntimeID returns the runtime-assigned identifier of the backing
// environment.
func (s *Session) RuntimeID() string { return s.handle.ID() }

// Name returns the environment's human-readable name.
func (s *Session) Name() string { return s.handle.Name() }

// Done is closed when the environment's output stream ends, whether from
// process exit or teardown.
func (s *Session) Done() <-chan struct{} { return s.done }

// Ended reports whether the output stream has ended.
func (s *Session) Ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// EndReason describes why the stream ended. Empty until Ended.
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Attach binds the connection sink, first replaying any output produced
// before the connection was ready (e.g. the shell prompt printed during
// session setup).
func (s *Session) Attach(a Attachment) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if pending := s.backlog.drain(); len(pending) > 0 {
		if err := a.Output(pending); err != nil {
			return
		}
	}
	s.attached = a
}

// Detach unbinds the connection sink. Output produced afterwards goes to
// the backlog until the session is torn down.
func (s *Session) Detach() {
	s.outMu.Lock()
	s.attached = nil
	s.outMu.Unlock()
}

// NotifyTermination forwards an administrative termination warning to the
// attached connection, if any.
func (s *Session) NotifyTermination(reason string) {
	s.outMu.Lock()
	a := s.attached
	s.outMu.Unlock()
	if a != nil {
		a.TerminationNotice(reason)
	}
}

// pump relays the execution handle's output in order. It is the only
// reader of the handle's stream and runs from creation until end-of-stream.
func (s *Session) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.handle.Output().Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.deliver(chunk)
		}
		if err != nil {
			reason := "process exited"
			if err != io.EOF {
				reason = "stream error"
				log.Printf("[session] %s output stream failed: %v", s.ID, err)
			}
			s.end(reason)
			return
		}
	}
}

func (s *Session) deliver(chunk []byte) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.attached == nil {
		s.backlog.write(chunk)
		return
	}
	if err := s.attached.Output(chunk); err != nil {
		// Dead sink; park subsequent output until detach/teardown.
		s.attached = nil
		s.backlog.write(chunk)
	}
}

func (s *Session) end(reason string) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.endReason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

// beginTerminate flips the session into Terminating. Returns false if
// teardown had already started.
func (s *Session) beginTerminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminating || s.state == StateGone {
		return false
	}
	s.state = StateTerminating
	return true
}

func (s *Session) markGone() {
	s.mu.Lock()
	s.state = StateGone
	s.mu.Unlock()
}
