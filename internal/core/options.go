package core

import "go.uber.org/zap"

// Option configures an adapter.
type Option func(*options)

type options struct {
	logger *zap.Logger
	group  string
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for listener lifecycle and skipped documents.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithGroup attaches an opaque grouping key. The adapters only hand it back
// through Group.
func WithGroup(group string) Option {
	return func(o *options) {
		o.group = group
	}
}
