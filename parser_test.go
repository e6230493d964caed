package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Parse("test.svc", strings.NewReader(src))
	require.NoError(t, err)
	return prog
}

func TestParse_Statements(t *testing.T) {
	prog := mustParse(t, `
// a comment before anything
service frontend {
	method login {
		print "user %s logged in" with ["ann", "bob"];
		stderr "slow login"
		sleep 250ms;
		sleep 2s
		call features.is_enabled;
		call render
	}
	method render {}
	loop {
		call login; // trailing comment
	}
}
`)
	require.Len(t, prog.Services, 1)
	svc := prog.Services[0]
	assert.Equal(t, "frontend", svc.Name)
	require.Len(t, svc.Methods, 2)
	require.Len(t, svc.Loops, 1)

	login := svc.Methods[0]
	assert.Equal(t, "login", login.Name)
	require.Len(t, login.Statements, 6)

	p0, ok := login.Statements[0].(*PrintStatement)
	require.True(t, ok)
	assert.Equal(t, Stdout, p0.Channel)
	assert.Equal(t, "user %s logged in", p0.Template)
	assert.Equal(t, []string{"ann", "bob"}, p0.Vars)

	p1, ok := login.Statements[1].(*PrintStatement)
	require.True(t, ok)
	assert.Equal(t, Stderr, p1.Channel)
	assert.Nil(t, p1.Vars)

	s2, ok := login.Statements[2].(*SleepStatement)
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, s2.Duration)
	s3, ok := login.Statements[3].(*SleepStatement)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, s3.Duration)

	c4, ok := login.Statements[4].(*CallStatement)
	require.True(t, ok)
	assert.Equal(t, "features", c4.Service)
	assert.Equal(t, "is_enabled", c4.Method)
	c5, ok := login.Statements[5].(*CallStatement)
	require.True(t, ok)
	assert.Equal(t, "", c5.Service)
	assert.Equal(t, "render", c5.Method)

	assert.Empty(t, svc.Methods[1].Statements)
	require.Len(t, svc.Loops[0].Statements, 1)
	assert.Equal(t, "call login", svc.Loops[0].Statements[0].String())
}

func TestParse_EmptyWith(t *testing.T) {
	prog := mustParse(t, `service a { method m { print "left %s alone" with [] } }`)
	p := prog.Services[0].Methods[0].Statements[0].(*PrintStatement)
	assert.NotNil(t, p.Vars)
	assert.Empty(t, p.Vars)
}

func TestParse_Positions(t *testing.T) {
	prog := mustParse(t, "service a {\n  method m {\n    sleep 1ms\n  }\n}\n")
	m := prog.Services[0].Methods[0]
	assert.Equal(t, 2, m.Pos.Line)
	assert.Equal(t, 3, m.Statements[0].Position().Line)
	assert.Equal(t, "test.svc", m.Statements[0].Position().Filename)
}

func TestStatement_StringRoundTrip(t *testing.T) {
	src := `service a {
	method m {
		print "x %s" with ["1", "2"]
		stderr "oops"
		sleep 15ms
		sleep 3s
		call b.n
		call m
	}
}`
	prog := mustParse(t, src)
	stmts := prog.Services[0].Methods[0].Statements
	var lines []string
	for _, s := range stmts {
		lines = append(lines, s.String())
	}
	again := mustParse(t, "service a { method m { "+strings.Join(lines, "; ")+" } }")
	require.Len(t, again.Services[0].Methods[0].Statements, len(stmts))
	for i, s := range again.Services[0].Methods[0].Statements {
		assert.Equal(t, stmts[i].String(), s.String())
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"missing service keyword", `svc a {}`, 1, `expected "service"`},
		{"missing brace", `service a method m {}`, 1, `expected "{"`},
		{"unknown statement", "service a {\n method m {\n  jump 3\n }\n}", 3, "unknown statement"},
		{"bad unit", "service a { method m { sleep 3 minutes } }", 1, "invalid time unit"},
		{"missing duration", "service a { method m { sleep ms } }", 1, "expected duration"},
		{"duration overflows", "service a { method m { sleep 10000000000s } }", 1, "invalid duration"},
		{"unterminated block", "service a { method m { sleep 1ms ", 1, "end of file"},
		{"print without string", "service a { method m { print hello } }", 1, "expected string literal"},
		{"junk in service", "service a { sleep 1ms }", 1, `expected "method", "loop" or "}"`},
		{"unclosed vars", `service a { method m { print "x" with ["a" "b"] } }`, 1, `expected "]"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.svc", strings.NewReader(tt.src))
			require.Error(t, err)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %T", err)
			assert.Equal(t, tt.line, perr.Pos.Line)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Contains(t, err.Error(), "bad.svc:")
		})
	}
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile("testdata/does-not-exist.svc")
	require.Error(t, err)
}
