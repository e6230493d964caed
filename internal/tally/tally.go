// Package tally counts what an OTLP receiver has been sent: distinct traces
// and spans, log records, and how much of each came from every service.
package tally

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	cuckoo "github.com/panmari/cuckoofilter"
	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

const unknownService = "unknown_service"

// ServiceCounts is the share of one service.
type ServiceCounts struct {
	Spans      int
	LogRecords int
	Errors     int
}

// Tally is safe for concurrent use; receivers call it from every request.
type Tally struct {
	mu         sync.Mutex
	traces     *cuckoo.Filter
	spans      *cuckoo.Filter
	traceCount int
	spanCount  int
	logCount   int
	// log records that carried a trace id
	correlated int
	services   map[string]*ServiceCounts
	rate       *RateTracker
}

func New(capacity uint) *Tally {
	return &Tally{
		traces:   cuckoo.NewFilter(capacity),
		spans:    cuckoo.NewFilter(capacity),
		services: make(map[string]*ServiceCounts),
		rate:     NewRateTracker(),
	}
}

func serviceName(res *resourcepb.Resource) string {
	for _, kv := range res.GetAttributes() {
		if kv.GetKey() == "service.name" {
			return kv.GetValue().GetStringValue()
		}
	}
	return unknownService
}

func (t *Tally) service(name string) *ServiceCounts {
	sc, ok := t.services[name]
	if !ok {
		sc = &ServiceCounts{}
		t.services[name] = sc
	}
	return sc
}

// AddTraces counts the spans in req. Spans and traces already seen are not
// counted again.
func (t *Tally) AddTraces(req *collectortrace.ExportTraceServiceRequest) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, rs := range req.GetResourceSpans() {
		sc := t.service(serviceName(rs.GetResource()))
		for _, scope := range rs.GetScopeSpans() {
			for _, span := range scope.GetSpans() {
				n++
				if traceID := span.GetTraceId(); !t.traces.Lookup(traceID) {
					t.traces.Insert(traceID)
					t.traceCount++
				}
				if spanID := span.GetSpanId(); !t.spans.Lookup(spanID) {
					t.spans.Insert(spanID)
					t.spanCount++
					sc.Spans++
					if span.GetStatus().GetCode() == tracepb.Status_STATUS_CODE_ERROR {
						sc.Errors++
					}
				}
			}
		}
	}
	t.rate.Track(n)
	return n
}

// AddLogs counts the log records in req.
func (t *Tally) AddLogs(req *collectorlogs.ExportLogsServiceRequest) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, rl := range req.GetResourceLogs() {
		sc := t.service(serviceName(rl.GetResource()))
		for _, scope := range rl.GetScopeLogs() {
			for _, rec := range scope.GetLogRecords() {
				n++
				sc.LogRecords++
				if len(rec.GetTraceId()) > 0 {
					t.correlated++
				}
			}
		}
	}
	t.logCount += n
	t.rate.Track(n)
	return n
}

// Totals returns distinct traces, distinct spans and log records.
func (t *Tally) Totals() (traces, spans, logs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.traceCount, t.spanCount, t.logCount
}

// Services returns a copy of the per-service counts.
func (t *Tally) Services() map[string]ServiceCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]ServiceCounts, len(t.services))
	for name, sc := range t.services {
		out[name] = *sc
	}
	return out
}

// Rate is the number of spans and log records per second over the last
// seconds.
func (t *Tally) Rate(seconds int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate.Rate(seconds)
}

// Summary is the report printed when a receiver exits.
func (t *Tally) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "%d traces, %d spans, %d log records (%d with a trace id) received this session\n",
		t.traceCount, t.spanCount, t.logCount, t.correlated)
	names := make([]string, 0, len(t.services))
	for name := range t.services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := t.services[name]
		fmt.Fprintf(&b, "  %-20s %8d spans %8d logs %6d errors\n", name, sc.Spans, sc.LogRecords, sc.Errors)
	}
	return b.String()
}
