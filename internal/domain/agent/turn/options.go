package turn

import (
	"time"

	"sourcer/internal/shared/logging"
)

// Option configures optional controller dependencies.
type Option func(*Controller)

// WithLogger overrides the default controller logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Controller) {
		if !logging.IsNil(logger) {
			c.logger = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics reports turn and tool observations to m.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithIDGenerator overrides turn id generation.
func WithIDGenerator(next func() string) Option {
	return func(c *Controller) {
		if next != nil {
			c.newID = next
		}
	}
}
