package main

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	spanLinePat = regexp.MustCompile(`^(\S+) - T:(\w+)\s* S:(\w+)\s* P:(\w*)\s* start:`)
	logLinePat  = regexp.MustCompile(`^\S+ (\S+) \[(\w+)\] T:(\w*)\s* S:(\w*)\s* (.*)$`)
)

func TestSinkPrint_Lines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSinkPrint(NewNopLogger(), &buf)

	ctx, root := sink.StartTrace(context.Background(), SpanInfo{
		Service: "web", Name: "web/loop", Count: 3, Fields: map[string]any{"tier": "gold"},
	})
	childCtx, child := sink.StartSpan(ctx, SpanInfo{Service: "db", Name: "db/query", Depth: 1})
	sink.EmitLog(childCtx, LogRecord{Service: "db", Channel: Stderr, Message: "slow query"})
	child.RecordError(errors.New("boom"))
	child.Send()
	root.Send()
	sink.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	logm := logLinePat.FindStringSubmatch(lines[0])
	require.NotNil(t, logm, lines[0])
	assert.Equal(t, "db", logm[1])
	assert.Equal(t, "stderr", logm[2])
	assert.Equal(t, "slow query", logm[5])

	childm := spanLinePat.FindStringSubmatch(lines[1])
	require.NotNil(t, childm, lines[1])
	assert.Equal(t, "db/query", childm[1])
	assert.Contains(t, lines[1], `error="boom"`)

	rootm := spanLinePat.FindStringSubmatch(lines[2])
	require.NotNil(t, rootm, lines[2])
	assert.Equal(t, "web/loop", rootm[1])
	assert.Equal(t, "", rootm[4])
	assert.Contains(t, lines[2], "count=3")
	assert.Contains(t, lines[2], "tier=gold")

	// same trace, child points at root, log points at child
	assert.Equal(t, rootm[2], childm[2])
	assert.Equal(t, rootm[3], childm[4])
	assert.Equal(t, rootm[2][:6], logm[3])
	assert.Equal(t, childm[3], logm[4])
}

func TestSinkPrint_SpanWithoutParent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSinkPrint(NewNopLogger(), &buf)
	_, span := sink.StartSpan(context.Background(), SpanInfo{Service: "a", Name: "a/m"})
	span.Send()
	assert.Equal(t, int64(1), sink.tracecount.Load())
}

func TestSinkDummy_Counts(t *testing.T) {
	sink := NewSinkDummy(NewNopLogger())
	ctx, root := sink.StartTrace(context.Background(), SpanInfo{Name: "a/loop"})
	_, child := sink.StartSpan(ctx, SpanInfo{Name: "a/m"})
	sink.EmitLog(ctx, LogRecord{Message: "x"})
	child.Send()
	root.Send()
	sink.Close()

	traces, spans, logs := sink.Counts()
	assert.Equal(t, int64(1), traces)
	assert.Equal(t, int64(2), spans)
	assert.Equal(t, int64(1), logs)
}

func TestFormatFields(t *testing.T) {
	assert.Equal(t, "", formatFields(nil))
	assert.Equal(t, " a=1 b=x", formatFields(map[string]any{"b": "x", "a": 1}))
}
