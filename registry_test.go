package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func mustRegistry(t *testing.T, src string) *Registry {
	t.Helper()
	reg, err := BuildRegistry(mustParse(t, src))
	require.NoError(t, err)
	return reg
}

func TestBuildRegistry_Resolves(t *testing.T) {
	reg := mustRegistry(t, `
service frontend {
	method login {
		call features.is_enabled
		call render
	}
	method render { sleep 1ms }
	loop { call login }
}
service features {
	method is_enabled { print "checking" }
}
`)
	require.Len(t, reg.Services(), 2)
	looping := reg.Looping()
	require.Len(t, looping, 1)
	assert.Equal(t, "frontend", looping[0].Name)

	login, ok := reg.Method("frontend", "login")
	require.True(t, ok)
	require.Len(t, login.Body, 2)

	enabled, ok := reg.Method("features", "is_enabled")
	require.True(t, ok)
	render, ok := reg.Method("frontend", "render")
	require.True(t, ok)

	assert.Equal(t, OpCall, login.Body[0].Kind)
	assert.Same(t, enabled, login.Body[0].Target)
	assert.Same(t, render, login.Body[1].Target)
	assert.Equal(t, "features/is_enabled", login.Body[0].Target.SpanName())

	fe, ok := reg.Service("frontend")
	require.True(t, ok)
	assert.True(t, fe.HasLoop)
	require.Len(t, fe.Loop, 1)
	assert.Same(t, login, fe.Loop[0].Target)

	features, ok := reg.Service("features")
	require.True(t, ok)
	assert.False(t, features.HasLoop)

	_, ok = reg.Service("nope")
	assert.False(t, ok)
	_, ok = reg.Method("features", "nope")
	assert.False(t, ok)
}

func TestBuildRegistry_SelfRecursionIsAllowed(t *testing.T) {
	// cycles are bounded at run time, not rejected
	reg := mustRegistry(t, `service a { method m { call m } loop { call m } }`)
	m, ok := reg.Method("a", "m")
	require.True(t, ok)
	assert.Same(t, m, m.Body[0].Target)
}

func TestBuildRegistry_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		check func(t *testing.T, err error)
	}{
		{"undefined service", `service a { loop { call b.m } }`, func(t *testing.T, err error) {
			var e *UndefinedServiceError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "b", e.Name)
		}},
		{"undefined method on other service", `service a { loop { call b.x } } service b { method m {} }`, func(t *testing.T, err error) {
			var e *UndefinedMethodError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "b", e.Service)
			assert.Equal(t, "x", e.Method)
		}},
		{"unqualified call only looks at own service", `service a { loop { call m } } service b { method m {} }`, func(t *testing.T, err error) {
			var e *UndefinedMethodError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "a", e.Service)
		}},
		{"duplicate service", `service a {} service a {}`, func(t *testing.T, err error) {
			var e *DuplicateServiceError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "a", e.Name)
		}},
		{"duplicate method", `service a { method m {} method m {} }`, func(t *testing.T, err error) {
			var e *DuplicateMethodError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "m", e.Method)
		}},
		{"duplicate loop", `service a { loop {} loop {} }`, func(t *testing.T, err error) {
			var e *DuplicateLoopError
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "a", e.Service)
		}},
		{"names are case sensitive", `service a { method m {} loop { call M } }`, func(t *testing.T, err error) {
			var e *UndefinedMethodError
			require.True(t, errors.As(err, &e))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := BuildRegistry(mustParse(t, tt.src))
			require.Error(t, err)
			assert.Nil(t, reg)
			tt.check(t, err)
		})
	}
}

func TestBuildRegistry_ReportsEveryProblem(t *testing.T) {
	_, err := BuildRegistry(mustParse(t, `
service a {
	method m { call nope }
	loop { call ghost.m; call m }
}
service a {}
`))
	require.Error(t, err)
	errs := multierr.Errors(err)
	assert.Len(t, errs, 3)
	msg := err.Error()
	for _, want := range []string{`undefined method "nope"`, `undefined service "ghost"`, `duplicate service "a"`} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}
