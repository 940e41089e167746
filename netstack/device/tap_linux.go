//go:build linux

package device

import (
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const tunPath = "/dev/net/tun"

// TAP is a Linux TAP interface.
type TAP struct {
	fd      int
	name    string
	timeout int
	log     *zap.SugaredLogger
}

// OpenTAP creates or attaches to the TAP interface named in cfg, brings the
// link up and assigns cfg.HostPrefix to the kernel side.
func OpenTAP(cfg *Config, options ...Option) (*TAP, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	fd, err := unix.Open(tunPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", tunPath, err)
	}

	tap, err := setupTAP(fd, cfg, opts.Log)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return tap, nil
}

func setupTAP(fd int, cfg *Config, log *zap.SugaredLogger) (*TAP, error) {
	ifr, err := unix.NewIfreq(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("invalid interface name %q: %w", cfg.Name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		return nil, fmt.Errorf("failed to create TAP interface %q: %w", cfg.Name, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set non-blocking mode: %w", err)
	}

	name := ifr.Name()
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to find link %q: %w", name, err)
	}

	if cfg.HostPrefix.IsValid() {
		addr, err := netlink.ParseAddr(cfg.HostPrefix.String())
		if err != nil {
			return nil, fmt.Errorf("failed to parse host prefix %s: %w", cfg.HostPrefix, err)
		}
		if err := netlink.AddrReplace(link, addr); err != nil {
			return nil, fmt.Errorf("failed to assign %s to %q: %w", cfg.HostPrefix, name, err)
		}
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return nil, fmt.Errorf("failed to bring %q up: %w", name, err)
	}

	log.Infow("opened TAP interface",
		zap.String("name", name),
		zap.Int("index", link.Attrs().Index),
		zap.Stringer("host_prefix", cfg.HostPrefix),
	)

	return &TAP{
		fd:      fd,
		name:    name,
		timeout: int(cfg.PollTimeout.Milliseconds()),
		log:     log,
	}, nil
}

// Name returns the kernel name of the interface.
func (m *TAP) Name() string {
	return m.name
}

// Send writes a frame to the interface.
func (m *TAP) Send(frame []byte) error {
	if _, err := unix.Write(m.fd, frame); err != nil {
		return fmt.Errorf("failed to write to %q: %w", m.name, err)
	}
	return nil
}

// Recv waits up to the poll timeout for a frame and reads it into b.
func (m *TAP) Recv(b []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, m.timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to poll %q: %w", m.name, err)
	}
	if n == 0 {
		return 0, nil
	}

	n, err = unix.Read(m.fd, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read from %q: %w", m.name, err)
	}
	return n, nil
}

// Close closes the interface file descriptor. A non-persistent TAP
// interface disappears with it.
func (m *TAP) Close() error {
	return unix.Close(m.fd)
}
