package composite

import (
	"go.uber.org/zap"

	"github.com/reprisedb/go-reprise/internal/options"
)

type compositeOptions struct {
	primary string
	logger  *zap.Logger
}

// Option configures a Store.
type Option = options.OptionCallback[compositeOptions]

func defaultOptions() compositeOptions {
	return compositeOptions{
		primary: "",
		logger:  zap.NewNop(),
	}
}

// WithPrimary names the member that receives writes. By default the first
// member is the primary when it accepts writes.
func WithPrimary(name string) Option {
	return func(o *compositeOptions) {
		o.primary = name
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *compositeOptions) {
		o.logger = l
	}
}
