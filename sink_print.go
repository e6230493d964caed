package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pgregory.net/rand"
)

// make sure it implements Sink
var _ Sink = (*SinkPrint)(nil)

func ft(ts time.Time) string {
	return ts.Format("15:04:05.000")
}

// randID creates a random byte array of length l and returns it as a hex string.
func randID(l int) string {
	id := make([]byte, l)
	for i := 0; i < l; i++ {
		id[i] = byte(rand.Intn(256))
	}
	return fmt.Sprintf("%x", id)
}

type traceInfo struct {
	TraceId  string
	SpanId   string
	ParentId string
}

func (t *traceInfo) child() *traceInfo {
	return &traceInfo{
		TraceId:  t.TraceId,
		SpanId:   randID(4),
		ParentId: t.SpanId,
	}
}

type printKey struct{}

func traceInfoFrom(ctx context.Context) *traceInfo {
	tinfo, _ := ctx.Value(printKey{}).(*traceInfo)
	return tinfo
}

type PrintSendable struct {
	TInfo     *traceInfo
	Name      string
	StartTime time.Time
	Fields    map[string]any
	err       error
	sink      *SinkPrint
}

func (s *PrintSendable) RecordError(err error) {
	s.err = err
}

func (s *PrintSendable) Send() {
	endTime := time.Now()
	status := ""
	if s.err != nil {
		status = fmt.Sprintf(" error=%q", s.err.Error())
	}
	s.sink.printf("%s - T:%6.6s S:%4.4s P:%4.4s start:%v end:%v%s%s\n", s.Name, s.TInfo.TraceId, s.TInfo.SpanId, s.TInfo.ParentId, ft(s.StartTime), ft(endTime), formatFields(s.Fields), status)
}

// SinkPrint writes one line per finished span and one per log record.
type SinkPrint struct {
	mut        sync.Mutex
	out        io.Writer
	tracecount atomic.Int64
	nspans     atomic.Int64
	nlogs      atomic.Int64
	log        Logger
}

func NewSinkPrint(log Logger, out io.Writer) *SinkPrint {
	return &SinkPrint{
		log: log,
		out: out,
	}
}

func (t *SinkPrint) printf(format string, args ...any) {
	t.mut.Lock()
	defer t.mut.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *SinkPrint) Close() {
	t.log.Warn("sink printed %d traces with %d spans and %d log records\n", t.tracecount.Load(), t.nspans.Load(), t.nlogs.Load())
}

func (t *SinkPrint) StartTrace(ctx context.Context, info SpanInfo) (context.Context, Sendable) {
	t.tracecount.Add(1)
	t.nspans.Add(1)
	tinfo := &traceInfo{
		TraceId: randID(6),
		SpanId:  randID(4),
	}
	fields := withCount(info.Fields, info.Count)
	return context.WithValue(ctx, printKey{}, tinfo), &PrintSendable{
		Name:      info.Name,
		TInfo:     tinfo,
		StartTime: time.Now(),
		Fields:    fields,
		sink:      t,
	}
}

func (t *SinkPrint) StartSpan(ctx context.Context, info SpanInfo) (context.Context, Sendable) {
	parent := traceInfoFrom(ctx)
	if parent == nil {
		return t.StartTrace(ctx, info)
	}
	t.nspans.Add(1)
	tinfo := parent.child()
	return context.WithValue(ctx, printKey{}, tinfo), &PrintSendable{
		Name:      info.Name,
		TInfo:     tinfo,
		StartTime: time.Now(),
		Fields:    info.Fields,
		sink:      t,
	}
}

func (t *SinkPrint) EmitLog(ctx context.Context, rec LogRecord) {
	t.nlogs.Add(1)
	tinfo := traceInfoFrom(ctx)
	if tinfo == nil {
		tinfo = &traceInfo{}
	}
	t.printf("%s %s [%s] T:%6.6s S:%4.4s %s\n", ft(time.Now()), rec.Service, rec.Channel, tinfo.TraceId, tinfo.SpanId, rec.Message)
}

func withCount(fields map[string]any, count int64) map[string]any {
	if count == 0 {
		return fields
	}
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["count"] = count
	return out
}

// formatFields renders fields in key order so output is stable.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}
