package storage

import (
	"io"
	"log/slog"
)

type options struct {
	cacheCapacity int
	logger        *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithCacheCapacity sets how many pages the heap file keeps in memory.
func WithCacheCapacity(n int) Option {
	return func(o *options) {
		o.cacheCapacity = n
	}
}

// WithLogger sets the logger for allocation, eviction and recovery events.
// By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		cacheCapacity: DefaultCacheCapacity,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
