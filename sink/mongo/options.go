package mongo

import (
	"github.com/pickme-go/log/v2"
)

type sinkOptions struct {
	upsert bool
	many   bool
	logger log.Logger
}

type Option func(options *sinkOptions)

func (o *sinkOptions) apply(options ...Option) {
	o.logger = log.NewNoopLogger()

	for _, opt := range options {
		opt(o)
	}
}

// WithUpsert inserts a document when the filter matches none.
func WithUpsert(upsert bool) Option {
	return func(options *sinkOptions) {
		options.upsert = upsert
	}
}

// WithMany applies the update to every matching document instead of the first.
func WithMany(many bool) Option {
	return func(options *sinkOptions) {
		options.many = many
	}
}

func WithLogger(logger log.Logger) Option {
	return func(options *sinkOptions) {
		options.logger = logger
	}
}
