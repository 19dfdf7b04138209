package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/drydock-sh/drydock/internal/catalog"
)

// FakeAdapter is an in-memory Adapter used by tests across packages.
// Failure modes are scriptable per call site.
type FakeAdapter struct {
	mu        sync.Mutex
	seq       int
	handles   map[string]*FakeHandle
	destroyed []string

	// MaterializeErr, when set, is returned by Materialize unchanged.
	MaterializeErr error
	// BuildErr, when set, is returned by BuildImage.
	BuildErr error
	// ImageMissing makes ImageExists report false.
	ImageMissing bool
	// ExtraRunning is appended to ListRunning results, simulating
	// environments left behind by a previous process.
	ExtraRunning []string
	// StatsFn overrides Stats when set.
	StatsFn func(id string) (Usage, error)
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{handles: make(map[string]*FakeHandle)}
}

func (f *FakeAdapter) Materialize(_ context.Context, profile catalog.Profile, spec Spec) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MaterializeErr != nil {
		return nil, f.MaterializeErr
	}
	f.seq++
	pr, pw := io.Pipe()
	h := &FakeHandle{
		id:   fmt.Sprintf("fake-%d", f.seq),
		name: spec.Name,
		cols: spec.Cols,
		rows: spec.Rows,
		pr:   pr,
		pw:   pw,
	}
	f.handles[h.id] = h
	return h, nil
}

func (f *FakeAdapter) Destroy(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, id)
	if h, ok := f.handles[id]; ok {
		h.Close()
		delete(f.handles, id)
	}
}

func (f *FakeAdapter) ListRunning(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.handles {
		ids = append(ids, id)
	}
	ids = append(ids, f.ExtraRunning...)
	return ids, nil
}

func (f *FakeAdapter) ImageExists(_ context.Context, _ catalog.Profile) (bool, error) {
	return !f.ImageMissing, nil
}

func (f *FakeAdapter) BuildImage(_ context.Context, profile catalog.Profile, onProgress func(string)) error {
	if f.BuildErr != nil {
		return f.BuildErr
	}
	if onProgress != nil {
		onProgress("Step 1/1 : FROM " + profile.Image)
		onProgress("Successfully built " + profile.Image)
	}
	return nil
}

func (f *FakeAdapter) Stats(_ context.Context, id string) (Usage, error) {
	if f.StatsFn != nil {
		return f.StatsFn(id)
	}
	return Usage{RuntimeID: id, CPUPercent: 1.5, MemoryBytes: 10 << 20, MemoryLimit: 512 << 20, Pids: 3}, nil
}

// Destroyed returns the runtime IDs passed to Destroy, in order.
func (f *FakeAdapter) Destroyed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.destroyed))
	copy(out, f.destroyed)
	return out
}

// Handle returns the live fake handle with the given ID, or nil.
func (f *FakeAdapter) Handle(id string) *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[id]
}

// LiveCount returns the number of handles not yet destroyed.
func (f *FakeAdapter) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// FakeHandle is the in-memory execution handle produced by FakeAdapter.
// Output written via FeedOutput is observed through Output(); input written
// by the code under test is captured for assertions.
type FakeHandle struct {
	id   string
	name string

	pr *io.PipeReader
	pw *io.PipeWriter

	mu     sync.Mutex
	input  bytes.Buffer
	cols   uint16
	rows   uint16
	closed bool
}

func (h *FakeHandle) ID() string   { return h.id }
func (h *FakeHandle) Name() string { return h.name }

func (h *FakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrHandleClosed
	}
	return h.input.Write(p)
}

func (h *FakeHandle) Resize(_ context.Context, cols, rows uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	h.cols, h.rows = cols, rows
	return nil
}

func (h *FakeHandle) Output() io.Reader { return h.pr }

func (h *FakeHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	h.pw.Close()
	h.pr.Close()
	return nil
}

// FeedOutput emits bytes on the handle's output stream. It blocks until the
// reader side consumes them.
func (h *FakeHandle) FeedOutput(p []byte) error {
	_, err := h.pw.Write(p)
	return err
}

// EndOutput signals end-of-stream, as if the environment's process exited.
func (h *FakeHandle) EndOutput() {
	h.pw.Close()
}

// Input returns everything written to the handle so far.
func (h *FakeHandle) Input() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.input.String()
}

// Geometry returns the last resize applied to the handle.
func (h *FakeHandle) Geometry() (cols, rows uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cols, h.rows
}

var _ Adapter = (*FakeAdapter)(nil)
