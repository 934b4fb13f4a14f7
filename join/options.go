package join

import (
	"time"

	"github.com/pickme-go/log/v2"
)

type joinerOptions struct {
	logger        log.Logger
	metrics       *Metrics
	maxPending    int
	maxPendingAge time.Duration
	clock         func() time.Time
}

type Option func(options *joinerOptions)

func (o *joinerOptions) apply(options ...Option) {
	o.logger = log.NewNoopLogger()
	o.metrics = noopMetrics
	o.clock = time.Now

	for _, opt := range options {
		opt(o)
	}
}

func WithLogger(logger log.Logger) Option {
	return func(options *joinerOptions) {
		options.logger = logger
	}
}

// WithMetrics shares one set of collectors between joiners, build it once per
// reporter with NewMetrics.
func WithMetrics(m *Metrics) Option {
	return func(options *joinerOptions) {
		options.metrics = m
	}
}

// WithMaxPending bounds the number of unmatched records kept per side. When
// the bound is exceeded the oldest record of that side is failed with
// ErrPendingExpired.
func WithMaxPending(n int) Option {
	return func(options *joinerOptions) {
		options.maxPending = n
	}
}

// WithMaxPendingAge fails unmatched records older than d on the next Evict call.
func WithMaxPendingAge(d time.Duration) Option {
	return func(options *joinerOptions) {
		options.maxPendingAge = d
	}
}

func withClock(clock func() time.Time) Option {
	return func(options *joinerOptions) {
		options.clock = clock
	}
}
