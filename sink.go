package main

import (
	"context"
)

// SpanInfo describes a span about to be started.
type SpanInfo struct {
	Service string
	Name    string
	// Depth is 0 for the root span of a loop iteration.
	Depth int
	// Count is the iteration number, set on root spans only.
	Count  int64
	Fields map[string]any
}

// LogRecord is one line printed by a simulated service.
type LogRecord struct {
	Service string
	Channel Channel
	Message string
}

// Sendable is an open span; Send ends it.
type Sendable interface {
	RecordError(err error)
	Send()
}

// A Sink receives everything the simulated services produce. Sinks are
// called from every execution unit at once and must be safe for concurrent
// use. The span to parent to, or to correlate a log record with, travels in
// ctx.
type Sink interface {
	// StartTrace starts the root span of a new trace.
	StartTrace(ctx context.Context, info SpanInfo) (context.Context, Sendable)
	// StartSpan starts a child of the span carried by ctx.
	StartSpan(ctx context.Context, info SpanInfo) (context.Context, Sendable)
	EmitLog(ctx context.Context, rec LogRecord)
	Close()
}
