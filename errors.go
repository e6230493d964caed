package main

import (
	"fmt"
	"text/scanner"
)

// Load-time errors. BuildRegistry collects every one it finds and returns
// them combined; use errors.As to pick out a specific kind.

type DuplicateServiceError struct {
	Name string
	Pos  scanner.Position
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("%s: duplicate service %q", e.Pos, e.Name)
}

type DuplicateMethodError struct {
	Service string
	Method  string
	Pos     scanner.Position
}

func (e *DuplicateMethodError) Error() string {
	return fmt.Sprintf("%s: duplicate method %q in service %q", e.Pos, e.Method, e.Service)
}

// DuplicateLoopError is returned for a service with more than one loop
// block. Running several loops per service is not defined.
type DuplicateLoopError struct {
	Service string
	Pos     scanner.Position
}

func (e *DuplicateLoopError) Error() string {
	return fmt.Sprintf("%s: service %q declares more than one loop", e.Pos, e.Service)
}

type UndefinedServiceError struct {
	Name string
	Pos  scanner.Position
}

func (e *UndefinedServiceError) Error() string {
	return fmt.Sprintf("%s: call to undefined service %q", e.Pos, e.Name)
}

type UndefinedMethodError struct {
	Service string
	Method  string
	Pos     scanner.Position
}

func (e *UndefinedMethodError) Error() string {
	return fmt.Sprintf("%s: call to undefined method %q on service %q", e.Pos, e.Method, e.Service)
}

// Run-time errors. These abort one loop iteration of one service and are
// never fatal to the process.

// CallDepthExceededError is returned when a call chain nests deeper than the
// interpreter's maximum depth.
type CallDepthExceededError struct {
	Service string
	Method  string
	Depth   int
	Max     int
}

func (e *CallDepthExceededError) Error() string {
	return fmt.Sprintf("call to %s.%s exceeds maximum call depth %d", e.Service, e.Method, e.Max)
}

// IterationPanicError wraps a panic recovered from a loop iteration.
type IterationPanicError struct {
	Service string
	Value   any
}

func (e *IterationPanicError) Error() string {
	return fmt.Sprintf("panic in %s loop: %v", e.Service, e.Value)
}
