package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drydock-sh/drydock/internal/catalog"
	"github.com/drydock-sh/drydock/internal/runtime"
)

// ErrSessionNotFound is returned for lookups of unknown, terminating, or
// already-gone sessions.
var ErrSessionNotFound = errors.New("session not found")

// LimitError means the owning user is already at the configured session
// ceiling.
type LimitError struct {
	Max int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("Maximum %d sessions exceeded", e.Max)
}

// Config holds the registry's capacity and lifetime policy.
type Config struct {
	// MaxPerUser is the per-user session ceiling. Zero disables the check.
	MaxPerUser int
	// IdleTimeout expires sessions with no input, resize, or ping.
	IdleTimeout time.Duration
	// MaxAge is the absolute session lifetime.
	MaxAge time.Duration
}

// Registry is the single source of truth for which sessions exist. All
// mutating operations are internally synchronized.
type Registry struct {
	adapter runtime.Adapter
	catalog *catalog.Catalog
	cfg     Config

	mu       sync.Mutex
	sessions map[string]*Session
	// pending counts in-flight materialize calls per user so concurrent
	// creates cannot overshoot the ceiling.
	pending map[uint]int

	// OnClosed, when set, is invoked after a session reaches Gone. Used to
	// persist the audit record. Set once at startup, before traffic.
	OnClosed func(s *Session, reason string)
}

func NewRegistry(adapter runtime.Adapter, cat *catalog.Catalog, cfg Config) *Registry {
	return &Registry{
		adapter:  adapter,
		catalog:  cat,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		pending:  make(map[uint]int),
	}
}

// Create materializes an environment for the user and registers the session
// under a fresh token. Adapter failures are propagated unchanged and leave
// the registry untouched. A requester that vanishes mid-materialize still
// gets its environment torn down rather than leaked.
func (r *Registry) Create(ctx context.Context, userID uint, cols, rows uint16, shell, profileName string) (*Session, error) {
	prof, err := r.catalog.Get(profileName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.cfg.MaxPerUser > 0 && r.countForUserLocked(userID)+r.pending[userID] >= r.cfg.MaxPerUser {
		r.mu.Unlock()
		return nil, &LimitError{Max: r.cfg.MaxPerUser}
	}
	r.pending[userID]++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.pending[userID]--
		if r.pending[userID] == 0 {
			delete(r.pending, userID)
		}
		r.mu.Unlock()
	}()

	token := uuid.New().String()
	name := "drydock-" + token[:8]

	// The materialize call must run to completion even if the requesting
	// connection dies, so the environment can be torn down instead of leaked.
	handle, err := r.adapter.Materialize(context.WithoutCancel(ctx), prof, runtime.Spec{
		Name:  name,
		Shell: shell,
		Cols:  cols,
		Rows:  rows,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:           token,
		UserID:       userID,
		Shell:        shell,
		Profile:      profileName,
		CreatedAt:    now,
		ExpiresAt:    now.Add(r.cfg.MaxAge),
		handle:       handle,
		state:        StateActive,
		lastActivity: now,
		cols:         cols,
		rows:         rows,
		backlog:      newBacklog(0),
		done:         make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[token] = s
	r.mu.Unlock()

	go s.pump()

	if ctx.Err() != nil {
		r.Terminate(context.WithoutCancel(ctx), token, "requester disconnected")
		return nil, ctx.Err()
	}

	log.Printf("[registry] created session %s (user=%d profile=%s env=%s)", token, userID, profileName, name)
	return s, nil
}

func (r *Registry) countForUserLocked(userID uint) int {
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// Get returns the session with the given token.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// lookupActive returns the session only if it is still usable. Terminating
// sessions are reported as not found so callers fail fast instead of
// writing to a closing handle.
func (r *Registry) lookupActive(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || s.State() != StateActive {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Write forwards input bytes to the session's environment.
func (r *Registry) Write(id string, p []byte) error {
	s, err := r.lookupActive(id)
	if err != nil {
		return err
	}
	s.Touch()
	if _, err := s.handle.Write(p); err != nil {
		return err
	}
	return nil
}

// Resize changes the session's terminal geometry. The stored geometry is
// only updated once the runtime accepted the resize.
func (r *Registry) Resize(ctx context.Context, id string, cols, rows uint16) error {
	s, err := r.lookupActive(id)
	if err != nil {
		return err
	}
	s.Touch()
	if err := s.handle.Resize(ctx, cols, rows); err != nil {
		return err
	}
	s.setGeometry(cols, rows)
	return nil
}

// Touch updates the session's activity clock, preventing idle expiry of a
// legitimately quiet-but-open session.
func (r *Registry) Touch(id string) error {
	s, err := r.lookupActive(id)
	if err != nil {
		return err
	}
	s.Touch()
	return nil
}

// Terminate removes the session and destroys its environment. Returns false
// if the session was already gone; calling it twice is not an error.
// Teardown is total: the session always reaches Gone, even when the
// adapter's destroy reports a failure.
func (r *Registry) Terminate(ctx context.Context, id string, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.beginTerminate()
	s.end(reason)
	s.handle.Close()
	r.adapter.Destroy(ctx, s.handle.ID())
	s.markGone()

	log.Printf("[registry] terminated session %s (%s)", id, reason)
	if r.OnClosed != nil {
		r.OnClosed(s, reason)
	}
	return true
}

// TerminateAll tears down every session, used during shutdown.
func (r *Registry) TerminateAll(ctx context.Context, reason string) {
	for _, s := range r.ListAll() {
		r.Terminate(ctx, s.ID, reason)
	}
}

// ListByUser returns a snapshot of the user's sessions.
func (r *Registry) ListByUser(userID uint) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sortByCreation(out)
	return out
}

// ListAll returns a snapshot of every registered session.
func (r *Registry) ListAll() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sortByCreation(out)
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RuntimeIDs returns the runtime identifiers owned by registered sessions.
func (r *Registry) RuntimeIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		ids = append(ids, s.handle.ID())
	}
	return ids
}

func sortByCreation(ss []*Session) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].CreatedAt.Before(ss[j].CreatedAt) })
}
