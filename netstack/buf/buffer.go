// Package buf implements the packet buffer passed between layers.
//
// A Buffer is a window into a larger backing array. Headers are prepended by
// moving the window start backwards and removed by moving it forward, so a
// removed header can be restored with AddHeader as long as nobody wrote into
// the headroom in between.
package buf

import "fmt"

// DefaultHeadroom is reserved in front of the payload by New, enough for the
// IPv4 and Ethernet headers.
const DefaultHeadroom = 64

// Buffer is a growable byte region.
type Buffer struct {
	storage []byte
	head    int
	tail    int
}

// New returns a zero-filled buffer of the given length with DefaultHeadroom
// bytes reserved for headers.
func New(size int) *Buffer {
	return NewWithHeadroom(size, DefaultHeadroom)
}

// NewWithHeadroom returns a zero-filled buffer of the given length with the
// specified number of bytes reserved for headers.
func NewWithHeadroom(size int, headroom int) *Buffer {
	if size < 0 || headroom < 0 {
		panic(fmt.Sprintf("invalid buffer geometry: size=%d headroom=%d", size, headroom))
	}

	return &Buffer{
		storage: make([]byte, headroom+size),
		head:    headroom,
		tail:    headroom + size,
	}
}

// From returns a buffer holding a copy of data.
func From(data []byte) *Buffer {
	b := New(len(data))
	copy(b.Bytes(), data)
	return b
}

// Bytes returns the current contents. The slice aliases the buffer and is
// invalidated by the next AddHeader or AddPadding.
func (m *Buffer) Bytes() []byte {
	return m.storage[m.head:m.tail]
}

// Len returns the number of bytes in the buffer.
func (m *Buffer) Len() int {
	return m.tail - m.head
}

// AddHeader grows the buffer at the front by n bytes and returns the new
// header region.
func (m *Buffer) AddHeader(n int) []byte {
	if n < 0 {
		panic(fmt.Sprintf("negative header length %d", n))
	}

	if n > m.head {
		m.grow(n-m.head, 0)
	}
	m.head -= n

	return m.storage[m.head : m.head+n]
}

// RemoveHeader drops n bytes from the front.
func (m *Buffer) RemoveHeader(n int) {
	if n < 0 || n > m.Len() {
		panic(fmt.Sprintf("cannot remove %d header bytes from a %d byte buffer", n, m.Len()))
	}

	m.head += n
}

// AddPadding appends n zero bytes.
func (m *Buffer) AddPadding(n int) {
	if n < 0 {
		panic(fmt.Sprintf("negative padding length %d", n))
	}

	if m.tail+n > len(m.storage) {
		m.grow(0, m.tail+n-len(m.storage))
	}
	clear(m.storage[m.tail : m.tail+n])
	m.tail += n
}

// RemovePadding drops n bytes from the end.
func (m *Buffer) RemovePadding(n int) {
	if n < 0 || n > m.Len() {
		panic(fmt.Sprintf("cannot remove %d padding bytes from a %d byte buffer", n, m.Len()))
	}

	m.tail -= n
}

// Clone returns a deep copy with the same headroom.
func (m *Buffer) Clone() *Buffer {
	storage := make([]byte, len(m.storage))
	copy(storage, m.storage)

	return &Buffer{
		storage: storage,
		head:    m.head,
		tail:    m.tail,
	}
}

func (m *Buffer) grow(front int, back int) {
	storage := make([]byte, front+len(m.storage)+back)
	copy(storage[front:], m.storage)

	m.storage = storage
	m.head += front
	m.tail += front
}
