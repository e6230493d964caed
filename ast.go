package main

import (
	"fmt"
	"strings"
	"text/scanner"
	"time"
)

// Program is a parsed service description, in declaration order.
type Program struct {
	Services []*ServiceDefinition
}

type ServiceDefinition struct {
	Name    string
	Methods []*MethodDefinition
	// Loops holds every loop block as written; the registry only accepts one.
	Loops []*LoopBody
	Pos   scanner.Position
}

type MethodDefinition struct {
	Name       string
	Statements []Statement
	Pos        scanner.Position
}

type LoopBody struct {
	Statements []Statement
	Pos        scanner.Position
}

// Statement is one of PrintStatement, SleepStatement or CallStatement.
type Statement interface {
	fmt.Stringer
	Position() scanner.Position
}

// Channel is the destination hint of a print statement. Sinks decide what
// it means; it is not an OS stream.
type Channel int

const (
	Stdout Channel = iota
	Stderr
)

func (c Channel) String() string {
	switch c {
	case Stderr:
		return "stderr"
	default:
		return "stdout"
	}
}

type PrintStatement struct {
	Channel  Channel
	Template string
	Vars     []string
	Pos      scanner.Position
}

func (s *PrintStatement) Position() scanner.Position { return s.Pos }

func (s *PrintStatement) String() string {
	kw := "print"
	if s.Channel == Stderr {
		kw = "stderr"
	}
	if len(s.Vars) == 0 {
		return fmt.Sprintf("%s %q", kw, s.Template)
	}
	quoted := make([]string, len(s.Vars))
	for i, v := range s.Vars {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return fmt.Sprintf("%s %q with [%s]", kw, s.Template, strings.Join(quoted, ", "))
}

type SleepStatement struct {
	Duration time.Duration
	Pos      scanner.Position
}

func (s *SleepStatement) Position() scanner.Position { return s.Pos }

func (s *SleepStatement) String() string {
	if s.Duration%time.Second == 0 {
		return fmt.Sprintf("sleep %ds", s.Duration/time.Second)
	}
	return fmt.Sprintf("sleep %dms", s.Duration.Milliseconds())
}

// CallStatement invokes Method on Service, or on the calling service when
// Service is empty.
type CallStatement struct {
	Service string
	Method  string
	Pos     scanner.Position
}

func (s *CallStatement) Position() scanner.Position { return s.Pos }

func (s *CallStatement) String() string {
	if s.Service == "" {
		return "call " + s.Method
	}
	return "call " + s.Service + "." + s.Method
}
