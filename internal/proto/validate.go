package proto

import "fmt"

// Hard ceilings on client-requested values. Requests outside these bounds
// are rejected before any state is touched.
const (
	// MaxCols is the maximum allowed terminal width.
	MaxCols = 500
	// MaxRows is the maximum allowed terminal height.
	MaxRows = 200
	// MaxInputSize is the maximum size in bytes of a single input frame,
	// bounding per-message memory and backpressure exposure.
	MaxInputSize = 64 * 1024
)

// DefaultShell is used when a create-session request leaves the shell empty.
const DefaultShell = "/bin/bash"

// shellAliases maps accepted shell names to the program actually run.
// Anything not in this table is rejected.
var shellAliases = map[string]string{
	"bash":      "/bin/bash",
	"sh":        "/bin/sh",
	"zsh":       "/bin/zsh",
	"/bin/bash": "/bin/bash",
	"/bin/sh":   "/bin/sh",
	"/bin/zsh":  "/bin/zsh",
}

// ValidationError describes a malformed or out-of-range client request.
// Always recoverable: the offending frame is answered with an error frame
// and the connection stays open.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

func invalidf(format string, args ...any) error {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// ValidateGeometry rejects degenerate or absurdly large terminal sizes.
func ValidateGeometry(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return invalidf("terminal geometry must be positive, got %dx%d", cols, rows)
	}
	if cols > MaxCols || rows > MaxRows {
		return invalidf("terminal geometry %dx%d exceeds maximum %dx%d", cols, rows, MaxCols, MaxRows)
	}
	return nil
}

// ResolveShell validates the requested shell against the allow-list and
// returns the program to run. An empty request resolves to DefaultShell.
func ResolveShell(shell string) (string, error) {
	if shell == "" {
		return DefaultShell, nil
	}
	if resolved, ok := shellAliases[shell]; ok {
		return resolved, nil
	}
	return "", invalidf("shell %q is not allowed", shell)
}

// ValidateInput checks an input frame's payload.
func ValidateInput(m Inbound) error {
	if m.Data == "" {
		return invalidf("input frame has no payload")
	}
	if len(m.Data) > MaxInputSize {
		return invalidf("input of %d bytes exceeds maximum %d", len(m.Data), MaxInputSize)
	}
	return nil
}
