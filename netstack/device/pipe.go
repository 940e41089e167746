package device

import (
	"sync"
	"time"
)

type pipe struct {
	once sync.Once
	done chan struct{}
}

func (m *pipe) close() {
	m.once.Do(func() {
		close(m.done)
	})
}

// Endpoint is one end of an in-memory pipe.
type Endpoint struct {
	pipe    *pipe
	rx      <-chan []byte
	tx      chan<- []byte
	timeout time.Duration
}

// NewPipe returns two connected endpoints: frames sent on one are received
// on the other. Closing either endpoint closes both.
func NewPipe(options ...Option) (*Endpoint, *Endpoint) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	p := &pipe{done: make(chan struct{})}
	ab := make(chan []byte, opts.QueueSize)
	ba := make(chan []byte, opts.QueueSize)

	a := &Endpoint{pipe: p, rx: ba, tx: ab, timeout: opts.RecvTimeout}
	b := &Endpoint{pipe: p, rx: ab, tx: ba, timeout: opts.RecvTimeout}
	return a, b
}

// Send queues a copy of frame for the peer.
func (m *Endpoint) Send(frame []byte) error {
	select {
	case <-m.pipe.done:
		return ErrClosed
	default:
	}

	select {
	case m.tx <- append([]byte(nil), frame...):
		return nil
	default:
		return ErrQueueFull
	}
}

// Recv dequeues the next frame, waiting at most the configured receive
// timeout.
func (m *Endpoint) Recv(b []byte) (int, error) {
	select {
	case frame := <-m.rx:
		return copy(b, frame), nil
	case <-m.pipe.done:
		return 0, ErrClosed
	default:
	}

	if m.timeout <= 0 {
		return 0, nil
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case frame := <-m.rx:
		return copy(b, frame), nil
	case <-m.pipe.done:
		return 0, ErrClosed
	case <-timer.C:
		return 0, nil
	}
}

// Close closes both endpoints.
func (m *Endpoint) Close() error {
	m.pipe.close()
	return nil
}
