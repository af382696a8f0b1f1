// Package traced wraps an engine.Engine so every call becomes a span.
package traced

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mriatlas/pkg/engine"
)

// Engine decorates another engine with tracing.
type Engine struct {
	next   engine.Engine
	tracer trace.Tracer
}

// Wrap returns next decorated with spans from tracer.
func Wrap(next engine.Engine, tracer trace.Tracer) *Engine {
	return &Engine{next: next, tracer: tracer}
}

func (e *Engine) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) ReadImage(ctx context.Context, path string) (engine.Image, error) {
	ctx, span := e.start(ctx, "ReadImage", attribute.String("image.path", path))
	img, err := e.next.ReadImage(ctx, path)
	finish(span, err)
	return img, err
}

func (e *Engine) WriteImage(ctx context.Context, img engine.Image, path string) error {
	ctx, span := e.start(ctx, "WriteImage",
		attribute.String("image.source", img.Source()),
		attribute.String("image.path", path))
	err := e.next.WriteImage(ctx, img, path)
	finish(span, err)
	return err
}

func (e *Engine) Add(ctx context.Context, a, b engine.Image) (engine.Image, error) {
	ctx, span := e.start(ctx, "Add")
	img, err := e.next.Add(ctx, a, b)
	finish(span, err)
	return img, err
}

func (e *Engine) Divide(ctx context.Context, img engine.Image, divisor float64) (engine.Image, error) {
	ctx, span := e.start(ctx, "Divide", attribute.Float64("divisor", divisor))
	out, err := e.next.Divide(ctx, img, divisor)
	finish(span, err)
	return out, err
}

func (e *Engine) Register(ctx context.Context, fixed, moving engine.Image, kind engine.TransformKind, iterations []int) (engine.TransformSet, error) {
	ctx, span := e.start(ctx, "Register",
		attribute.String("registration.kind", kind.String()),
		attribute.String("image.fixed", fixed.Source()),
		attribute.String("image.moving", moving.Source()),
		attribute.IntSlice("registration.iterations", iterations))
	ts, err := e.next.Register(ctx, fixed, moving, kind, iterations)
	finish(span, err)
	return ts, err
}

func (e *Engine) ApplyTransforms(ctx context.Context, fixed, moving engine.Image, ts engine.TransformSet) (engine.Image, error) {
	ctx, span := e.start(ctx, "ApplyTransforms",
		attribute.String("registration.kind", ts.Kind.String()),
		attribute.StringSlice("transforms", ts.Forward))
	img, err := e.next.ApplyTransforms(ctx, fixed, moving, ts)
	finish(span, err)
	return img, err
}

// Summarize forwards to the wrapped engine when it is an engine.Summarizer.
func (e *Engine) Summarize(ctx context.Context, img engine.Image) (engine.Stats, error) {
	ctx, span := e.start(ctx, "Summarize", attribute.String("image.source", img.Source()))
	stats, err := engine.Summarize(ctx, e.next, img)
	if err == nil {
		span.SetAttributes(attribute.Float64("image.mean", stats.Mean), attribute.Float64("image.stddev", stats.StdDev))
	}
	finish(span, err)
	return stats, err
}

func (e *Engine) Close() error {
	return e.next.Close()
}

var (
	_ engine.Engine     = (*Engine)(nil)
	_ engine.Summarizer = (*Engine)(nil)
)
