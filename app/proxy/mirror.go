package proxy

import (
	"io"
	"sync"

	log "github.com/go-pkgz/lgr"
)

// mirrorBuffer carries tee'd request body chunks to the mirror request with a
// bounded backlog. The write side never blocks, a mirror lagging behind the
// primary upload loses chunks instead of stalling it. Safe against the mirror
// transport closing the body while the primary stream is still writing.
type mirrorBuffer struct {
	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped bool

	current []byte // reader-side remainder, mirror goroutine only
}

const mirrorBacklog = 32

func newMirrorBuffer() *mirrorBuffer {
	return &mirrorBuffer{ch: make(chan []byte, mirrorBacklog)}
}

// Write queues a copy of the chunk for the mirror, dropping it if the backlog
// is full or the mirror already went away.
func (m *mirrorBuffer) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return len(p), nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case m.ch <- cp:
	default:
		if !m.dropped {
			m.dropped = true
			log.Printf("[DEBUG] mirror lagging behind, dropping request body chunks")
		}
	}
	return len(p), nil
}

// Read serves the mirror request body. Called from the mirror goroutine only.
func (m *mirrorBuffer) Read(p []byte) (int, error) {
	for len(m.current) == 0 {
		chunk, ok := <-m.ch
		if !ok {
			return 0, io.EOF
		}
		m.current = chunk
	}
	n := copy(p, m.current)
	m.current = m.current[n:]
	return n, nil
}

// Close ends the mirror body. Fired both by the primary stream finishing and
// by the mirror transport disposing of the request body, whichever is first.
func (m *mirrorBuffer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	return nil
}
