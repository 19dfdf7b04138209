package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/drydock-sh/drydock/internal/catalog"
)

var (
	// ErrRuntimeUnavailable means the container runtime API cannot be reached.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrResourceExhausted means the runtime rejected a request due to host capacity.
	ErrResourceExhausted = errors.New("host resources exhausted")
	// ErrHandleClosed means the environment's byte stream has already ended.
	ErrHandleClosed = errors.New("execution handle closed")
)

// BuildError carries the runtime's diagnostic text for a failed image build.
type BuildError struct {
	Profile string
	Detail  string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed for profile %q: %s", e.Profile, e.Detail)
}

// Spec describes the environment requested by the session registry.
type Spec struct {
	// Name is the human-readable environment name (derived from the session token).
	Name string
	// Shell is the program to run as the environment's PID 1.
	Shell string
	Cols  uint16
	Rows  uint16
}

// Handle is the capability set of a live isolated environment. Callers
// interact with the environment only through this interface; concrete
// variants exist per runtime backend.
type Handle interface {
	// ID is the runtime-assigned identifier.
	ID() string
	// Name is the human-readable environment name.
	Name() string
	// Write sends bytes to the environment's stdin. Fails with
	// ErrHandleClosed once the stream has ended.
	Write(p []byte) (int, error)
	// Resize changes the terminal geometry.
	Resize(ctx context.Context, cols, rows uint16) error
	// Output is the environment's combined stdout/stderr stream. Reads
	// return io.EOF when the environment exits.
	Output() io.Reader
	// Close releases the attached stream. Idempotent.
	Close() error
}

// Usage is a point-in-time utilization sample for one environment.
type Usage struct {
	RuntimeID   string  `json:"runtime_id"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	MemoryLimit uint64  `json:"memory_limit"`
	NetRxBytes  uint64  `json:"net_rx_bytes"`
	NetTxBytes  uint64  `json:"net_tx_bytes"`
	BlockRead   uint64  `json:"block_read_bytes"`
	BlockWrite  uint64  `json:"block_write_bytes"`
	Pids        uint64  `json:"pids"`
}

// Adapter is the thin translation layer over the container runtime API.
// It is stateless between calls: it never retains handles on behalf of
// the session registry.
type Adapter interface {
	// Materialize creates and starts an isolated environment for the given
	// profile, applies its resource limits, and returns an attached handle.
	Materialize(ctx context.Context, profile catalog.Profile, spec Spec) (Handle, error)

	// Destroy stops and removes the environment. Idempotent: already-gone
	// environments are not an error, and best-effort cleanup failures are
	// logged rather than raised.
	Destroy(ctx context.Context, id string)

	// ListRunning enumerates the runtime identifiers of environments this
	// orchestrator manages that the runtime currently reports alive.
	ListRunning(ctx context.Context) ([]string, error)

	// ImageExists reports whether the profile's image is present locally.
	ImageExists(ctx context.Context, profile catalog.Profile) (bool, error)

	// BuildImage makes the profile's image available, invoking onProgress
	// for each build-log chunk. Failures surface as *BuildError.
	BuildImage(ctx context.Context, profile catalog.Profile, onProgress func(string)) error

	// Stats samples live utilization for one environment.
	Stats(ctx context.Context, id string) (Usage, error)
}
