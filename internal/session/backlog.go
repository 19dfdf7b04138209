package session

// defaultBacklogSize bounds how much unattached output is retained (1 MB).
const defaultBacklogSize = 1024 * 1024

// backlog buffers output produced while no connection is attached, so the
// first frames a client sees (the shell prompt) are not lost to the race
// between materialize and attach. When the buffer exceeds maxLen, older
// data is trimmed from the front.
//
// Callers synchronize externally (Session.outMu).
type backlog struct {
	data   []byte
	maxLen int
}

func newBacklog(maxLen int) *backlog {
	if maxLen <= 0 {
		maxLen = defaultBacklogSize
	}
	return &backlog{maxLen: maxLen}
}

func (b *backlog) write(p []byte) {
	b.data = append(b.data, p...)
	if len(b.data) > b.maxLen {
		b.data = b.data[len(b.data)-b.maxLen:]
	}
}

// drain returns the buffered output and resets the buffer.
func (b *backlog) drain() []byte {
	out := b.data
	b.data = nil
	return out
}

func (b *backlog) len() int { return len(b.data) }
