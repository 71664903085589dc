package controller

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"loanflow/internal/logging"
)

// Defaults used when no option overrides them.
const (
	DefaultStepTimeout     = 2 * time.Minute
	DefaultApprovalTimeout = 30 * time.Minute
	DefaultConcurrency     = 4
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStepTimeout bounds each ordinary capability call and each status
// write. Zero disables the bound.
func WithStepTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.stepTimeout = d
	}
}

// WithApprovalTimeout bounds long-running capability calls such as human
// approval. Zero disables the bound.
func WithApprovalTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.approvalTimeout = d
	}
}

// WithInProgress controls whether the record is moved to InProgress before
// the first step runs.
func WithInProgress(enabled bool) Option {
	return func(c *Controller) {
		c.markInProgress = enabled
	}
}

// WithConcurrency bounds how many workflows RunMany executes at once.
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithTracerProvider sets the tracer provider. The global provider is used
// by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Controller) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider. The global provider is used by
// default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Controller) {
		c.meterProvider = mp
	}
}
