package descriptor

import (
	"go.uber.org/zap"

	"github.com/wippyai/vfd/errors"
)

// Options configures a Registry.
type Options struct {
	// Logger receives debug records for sentinel paths. Defaults to a no-op logger.
	Logger *zap.Logger
	// Capacity presizes the tables for the expected number of live descriptors.
	Capacity int
}

// DefaultOptions returns default registry configuration.
func DefaultOptions() Options {
	return Options{
		Logger:   zap.NewNop(),
		Capacity: 64,
	}
}

// Validate reports option values New would have to correct.
func (o Options) Validate() error {
	if o.Capacity < 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("capacity").
			Value(o.Capacity).
			Detail("capacity cannot be negative, got %d", o.Capacity).
			Build()
	}
	return nil
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithCapacity presizes the registry tables.
func WithCapacity(n int) Option {
	return func(o *Options) {
		o.Capacity = n
	}
}
