package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StoreOp represents the type of store operation being traced.
type StoreOp string

const (
	// StoreOpAppend represents an append of a new record.
	StoreOpAppend StoreOp = "append"
	// StoreOpUpsert represents a create-or-merge write.
	StoreOpUpsert StoreOp = "upsert"
	// StoreOpQuery represents a point or latest-record read.
	StoreOpQuery StoreOp = "query"
	// StoreOpCommit represents an atomic multi-write commit.
	StoreOpCommit StoreOp = "commit"
)

// StartStoreSpan creates a span for a remote store operation.
// Returns the new context and a function to end the span.
//
// Example usage:
//
//	ctx, endSpan := tracing.StartStoreSpan(ctx, store.CollectionEvents, tracing.StoreOpAppend)
//	defer func() { endSpan(err) }()
func StartStoreSpan(ctx context.Context, collection string, op StoreOp) (context.Context, func(error)) {
	tracer := otel.Tracer("readpulse/store")

	ctx, span := tracer.Start(ctx, string(op)+" "+collection,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.collection", collection),
			attribute.String("store.operation", string(op)),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// StartFlushSpan creates a span for a flush cycle, recording the number of
// drained events and whether the flush was forced.
func StartFlushSpan(ctx context.Context, batchSize int, forced bool) (context.Context, func(error)) {
	tracer := otel.Tracer("readpulse/flush")

	ctx, span := tracer.Start(ctx, "flush",
		trace.WithAttributes(
			attribute.Int("flush.batch_size", batchSize),
			attribute.Bool("flush.forced", forced),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
