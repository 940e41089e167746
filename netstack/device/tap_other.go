//go:build !linux

package device

import (
	"errors"
)

// TAP is a Linux TAP interface.
type TAP struct{}

// OpenTAP is only supported on Linux.
func OpenTAP(*Config, ...Option) (*TAP, error) {
	return nil, errors.ErrUnsupported
}

// Name returns an empty string.
func (m *TAP) Name() string {
	return ""
}

// Send is not supported.
func (m *TAP) Send([]byte) error {
	return errors.ErrUnsupported
}

// Recv is not supported.
func (m *TAP) Recv([]byte) (int, error) {
	return 0, errors.ErrUnsupported
}

// Close is a no-op.
func (m *TAP) Close() error {
	return nil
}
