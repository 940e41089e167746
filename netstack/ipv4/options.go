package ipv4

import "go.uber.org/zap"

// Option is a function that configures the fragmenter or the receiver.
type Option func(*options)

// WithLog configures a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithMTU configures the largest datagram handed to the link layer.
func WithMTU(mtu int) Option {
	return func(o *options) {
		o.MTU = mtu
	}
}

// WithTTL configures the time-to-live of outbound datagrams.
func WithTTL(ttl uint8) Option {
	return func(o *options) {
		o.TTL = ttl
	}
}

type options struct {
	Log *zap.SugaredLogger
	MTU int
	TTL uint8
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
		MTU: DefaultMTU,
		TTL: DefaultTTL,
	}
}
