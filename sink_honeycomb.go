package main

import (
	"context"

	"github.com/honeycombio/beeline-go"
	"github.com/honeycombio/beeline-go/trace"
)

// SinkHoneycomb sends Honeycomb events through the beeline. Log records
// become span events on the active span.
type SinkHoneycomb struct{}

// make sure it implements Sink
var _ Sink = (*SinkHoneycomb)(nil)

type HoneycombSendable struct {
	*trace.Span
}

func (s HoneycombSendable) RecordError(err error) {
	s.Span.AddField("error", err.Error())
}

func NewSinkHoneycomb(opts *Options) *SinkHoneycomb {
	return newSinkHoneycomb(beeline.Config{
		WriteKey:    opts.Telemetry.APIKey,
		APIHost:     opts.apihost.String(),
		ServiceName: opts.Telemetry.Dataset,
		Dataset:     opts.Telemetry.Dataset,
		Debug:       opts.DebugLevel() > 2,
	})
}

// newSinkHoneycomb initializes the global beeline with cfg; tests pass a
// Client with their own transmission.
func newSinkHoneycomb(cfg beeline.Config) *SinkHoneycomb {
	beeline.Init(cfg)
	return &SinkHoneycomb{}
}

func (t *SinkHoneycomb) Close() {
	beeline.Close()
}

func addHoneycombFields(span *trace.Span, info SpanInfo) {
	span.AddField("service.name", info.Service)
	span.AddField("svcgen.depth", info.Depth)
	for k, v := range info.Fields {
		span.AddField(k, v)
	}
}

func (t *SinkHoneycomb) StartTrace(ctx context.Context, info SpanInfo) (context.Context, Sendable) {
	// a beeline span is already a Sendable once it can record errors
	ctx, root := beeline.StartSpan(ctx, info.Name)
	addHoneycombFields(root, info)
	root.AddField("count", info.Count)
	return ctx, HoneycombSendable{root}
}

func (t *SinkHoneycomb) StartSpan(ctx context.Context, info SpanInfo) (context.Context, Sendable) {
	ctx, span := beeline.StartSpan(ctx, info.Name)
	addHoneycombFields(span, info)
	return ctx, HoneycombSendable{span}
}

func (t *SinkHoneycomb) EmitLog(ctx context.Context, rec LogRecord) {
	_, ev := beeline.StartSpan(ctx, "log")
	ev.AddField("meta.annotation_type", "span_event")
	ev.AddField("service.name", rec.Service)
	ev.AddField("log.channel", rec.Channel.String())
	ev.AddField("message", rec.Message)
	if rec.Channel == Stderr {
		ev.AddField("severity", "error")
	} else {
		ev.AddField("severity", "info")
	}
	ev.Send()
}
