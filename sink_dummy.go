package main

import (
	"context"
	"sync/atomic"
)

type DummySendable struct{}

func (s DummySendable) RecordError(err error) {}

func (s DummySendable) Send() {}

// SinkDummy only counts what it is given.
type SinkDummy struct {
	tracecount atomic.Int64
	spancount  atomic.Int64
	logcount   atomic.Int64
	log        Logger
}

// make sure it implements Sink
var _ Sink = (*SinkDummy)(nil)

func NewSinkDummy(log Logger) *SinkDummy {
	return &SinkDummy{log: log}
}

func (t *SinkDummy) Close() {
	t.log.Info("sink received %d traces with %d spans and %d log records\n", t.tracecount.Load(), t.spancount.Load(), t.logcount.Load())
}

func (t *SinkDummy) StartTrace(ctx context.Context, info SpanInfo) (context.Context, Sendable) {
	t.tracecount.Add(1)
	t.spancount.Add(1)
	return ctx, DummySendable{}
}

func (t *SinkDummy) StartSpan(ctx context.Context, info SpanInfo) (context.Context, Sendable) {
	t.spancount.Add(1)
	return ctx, DummySendable{}
}

func (t *SinkDummy) EmitLog(ctx context.Context, rec LogRecord) {
	t.logcount.Add(1)
}

// Counts returns the number of traces, spans and log records seen so far.
func (t *SinkDummy) Counts() (traces, spans, logs int64) {
	return t.tracecount.Load(), t.spancount.Load(), t.logcount.Load()
}
