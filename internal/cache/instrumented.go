package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/clinicops/clinic-portal/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations by outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Cache, recording an OpenTelemetry counter and
// histogram for every operation and annotating the active span.
type Instrumented[T any] struct {
	wrapped Cache[T]
	backend string
}

// NewInstrumented creates an instrumented cache wrapper. The backend name is
// attached to every measurement as "cache.type".
func NewInstrumented[T any](cache Cache[T], backend string) *Instrumented[T] {
	initMetrics()
	return &Instrumented[T]{
		wrapped: cache,
		backend: backend,
	}
}

func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool, error) {
	start := time.Now()
	value, found, err := i.wrapped.Get(ctx, key)

	outcome := "miss"
	switch {
	case err != nil:
		outcome = "error"
	case found:
		outcome = "hit"
	}
	i.observe(ctx, "get", outcome, start)

	return value, found, err
}

func (i *Instrumented[T]) Set(ctx context.Context, key string, value T) error {
	start := time.Now()
	err := i.wrapped.Set(ctx, key, value)
	i.observe(ctx, "set", outcomeOf(err), start)
	return err
}

func (i *Instrumented[T]) Invalidate(ctx context.Context, key string) error {
	start := time.Now()
	err := i.wrapped.Invalidate(ctx, key)
	i.observe(ctx, "invalidate", outcomeOf(err), start)
	return err
}

func (i *Instrumented[T]) Close() error {
	return i.wrapped.Close()
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (i *Instrumented[T]) observe(ctx context.Context, operation, outcome string, start time.Time) {
	elapsed := time.Since(start).Seconds()

	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("cache.type", i.backend),
				attribute.String("cache.operation", operation),
				attribute.String("cache.status", outcome),
			),
		)
	}

	if cacheDuration != nil {
		cacheDuration.Record(ctx, elapsed,
			metric.WithAttributes(
				attribute.String("cache.type", i.backend),
				attribute.String("cache.operation", operation),
			),
		)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("cache.type", i.backend),
		attribute.String("cache."+operation+".status", outcome),
		attribute.Float64("cache."+operation+".duration", elapsed),
	)
}
