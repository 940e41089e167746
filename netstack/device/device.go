// Package device provides frame drivers for the Ethernet layer.
package device

import (
	"errors"
	"net/netip"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by operations on a closed driver.
	ErrClosed = errors.New("device is closed")
	// ErrQueueFull is returned when a pipe endpoint cannot accept more
	// frames.
	ErrQueueFull = errors.New("device queue is full")
)

// Driver moves raw Ethernet frames to and from the wire.
type Driver interface {
	// Send transmits a complete frame.
	Send(frame []byte) error
	// Recv reads a single frame into b and returns its length. Frames
	// longer than b are truncated. It returns zero without an error when
	// no frame arrived within the driver's poll timeout.
	Recv(b []byte) (int, error)
	// Close releases the driver.
	Close() error
}

// Config is the device configuration.
type Config struct {
	// Name is the TAP interface name.
	Name string `yaml:"name"`
	// HostPrefix is assigned to the kernel side of the TAP interface. The
	// zero prefix leaves the interface unaddressed.
	HostPrefix netip.Prefix `yaml:"host_prefix"`
	// RxBufferSize is the size of the receive buffer.
	RxBufferSize datasize.ByteSize `yaml:"rx_buffer_size"`
	// PollTimeout bounds how long Recv waits for a frame.
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// DefaultConfig returns the default device configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:         "ylink0",
		HostPrefix:   netip.MustParsePrefix("10.42.0.1/24"),
		RxBufferSize: 1514 * datasize.B,
		PollTimeout:  10 * time.Millisecond,
	}
}

// Option is a function that configures device helpers.
type Option func(*options)

// WithLog configures the device with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithRecvTimeout configures how long a pipe endpoint waits for a frame.
func WithRecvTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.RecvTimeout = timeout
	}
}

// WithQueueSize configures the number of frames a pipe endpoint buffers.
func WithQueueSize(size int) Option {
	return func(o *options) {
		o.QueueSize = size
	}
}

// WithRetryInterval configures the backoff bounds of OpenWithRetry.
func WithRetryInterval(initial time.Duration, maxInterval time.Duration) Option {
	return func(o *options) {
		o.InitialInterval = initial
		o.MaxInterval = maxInterval
	}
}

type options struct {
	Log             *zap.SugaredLogger
	RecvTimeout     time.Duration
	QueueSize       int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func newOptions() *options {
	return &options{
		Log:             zap.NewNop().Sugar(),
		QueueSize:       256,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}
