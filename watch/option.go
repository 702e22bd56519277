package watch

// defaultBuffer is the per-subscriber channel capacity.
const defaultBuffer = 64

// watchOptions contains configuration options for watch operations.
type watchOptions struct {
	prefix bool // Match keys by prefix instead of exact key.
	buffer int  // Subscriber channel capacity.
}

// Option is a function that configures watch operation options.
type Option func(*watchOptions)

// WithPrefix makes the watched key a prefix filter.
func WithPrefix() Option {
	return func(o *watchOptions) {
		o.prefix = true
	}
}

// WithBuffer sets the subscriber channel capacity. Events that do not fit
// are dropped, so subscribers must treat events as hints and re-read.
func WithBuffer(n int) Option {
	return func(o *watchOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}
