package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multiService = "examples/multi_service.svc"

func loadExample(t *testing.T) *Registry {
	t.Helper()
	prog, err := ParseFile(multiService)
	require.NoError(t, err)
	reg, err := BuildRegistry(prog)
	require.NoError(t, err)
	return reg
}

func TestMultiService_Loads(t *testing.T) {
	reg := loadExample(t)
	var names []string
	for _, svc := range reg.Services() {
		names = append(names, svc.Name)
	}
	assert.Equal(t, []string{"frontend", "features", "products", "payments"}, names)

	var looping []string
	for _, svc := range reg.Looping() {
		looping = append(looping, svc.Name)
	}
	assert.Equal(t, []string{"frontend", "payments"}, looping)
}

func TestMultiService_Runs(t *testing.T) {
	reg := loadExample(t)
	sink := &recordingSink{}
	in := NewInterpreter(reg, sink, NewNopLogger(), nil, 0)
	s, err := NewScheduler(reg, in, sink, NewNopLogger(), nil, SchedulerConfig{Seed: "example"})
	require.NoError(t, err)

	runFor(t, s, 300*time.Millisecond)

	perService := map[string]int{}
	for _, l := range sink.logList() {
		perService[l.rec.Service]++
	}
	for _, name := range []string{"frontend", "features", "products", "payments"} {
		assert.Greater(t, perService[name], 0, name)
	}
	for _, st := range s.Stats() {
		assert.Zero(t, st.Failures, st.Service)
		assert.Equal(t, Stopped, st.State)
	}
}

// With a call depth of 2, every frontend iteration fails when
// products.details calls features.is_enabled at depth 3. Everything it did
// before that still counts, and payments is not affected at all.
func TestMultiService_FailureIsIsolated(t *testing.T) {
	reg := loadExample(t)
	sink := &recordingSink{}
	in := NewInterpreter(reg, sink, NewNopLogger(), nil, 2)
	s, err := NewScheduler(reg, in, sink, NewNopLogger(), nil, SchedulerConfig{Seed: "example"})
	require.NoError(t, err)

	runFor(t, s, 300*time.Millisecond)

	stats := map[string]UnitStats{}
	for _, st := range s.Stats() {
		stats[st.Service] = st
	}
	require.Greater(t, stats["frontend"].Iterations, int64(1))
	assert.Equal(t, stats["frontend"].Iterations, stats["frontend"].Failures)
	require.Greater(t, stats["payments"].Iterations, int64(1))
	assert.Zero(t, stats["payments"].Failures)

	// find when the first failure was recorded
	firstFailure := -1
	for _, sp := range sink.spanList() {
		if sp.parent == 0 && sp.err != nil && (firstFailure < 0 || sp.endSeq < firstFailure) {
			firstFailure = sp.endSeq
		}
	}
	require.Greater(t, firstFailure, 0)

	after := map[string]int{}
	for _, l := range sink.logList() {
		if l.seq > firstFailure {
			after[l.rec.Service]++
		}
	}
	for _, name := range []string{"frontend", "features", "products", "payments"} {
		assert.Greater(t, after[name], 0, "%s stopped producing records", name)
	}
}

func TestDumpProgram(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, DumpProgram(&buf, loadExample(t)))
	out := buf.String()
	for _, want := range []string{
		"SERVICE", "frontend", "payments", loopBlock,
		"features/is_enabled", "payments/authorize",
		`print "user %s logged in" with ["ann", "bob", "carol", "dave"]`,
		"4 services, 2 with a loop",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRun_PrintProgram(t *testing.T) {
	opts := newOptions()
	opts.Program.File = multiService
	opts.Program.PrintProgram = true
	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), NewNopLogger(), opts, &buf))
	assert.Contains(t, buf.String(), "products/details")
}

func TestRun_MaxIterations(t *testing.T) {
	opts := newOptions()
	opts.Program.File = multiService
	opts.Program.MaxDepth = DefaultMaxDepth
	opts.Telemetry.Host = "local"
	opts.Output.Sender = "print"
	opts.Output.Protocol = "grpc"
	opts.Quantity.MaxIterations = 4
	opts.Global.DebugPort = -1

	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, run(ctx, NewNopLogger(), opts, &buf))
	assert.NoError(t, ctx.Err(), "run only stopped because of the timeout")
	assert.Contains(t, buf.String(), "frontend/loop")
}

func TestRun_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.svc")
	require.NoError(t, os.WriteFile(bad, []byte(`service a { loop { call b.m; call nope } }`), 0o644))

	opts := newOptions()
	opts.Program.File = bad
	err := run(context.Background(), NewNopLogger(), opts, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined service "b"`)
	assert.Contains(t, err.Error(), `undefined method "nope"`)

	opts.Program.File = ""
	assert.Error(t, run(context.Background(), NewNopLogger(), opts, &bytes.Buffer{}))
}
