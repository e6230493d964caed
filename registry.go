package main

import (
	"time"

	"go.uber.org/multierr"
)

type OpKind int

const (
	OpPrint OpKind = iota
	OpSleep
	OpCall
)

// Op is a resolved statement. Call ops hold the target method itself, so
// nothing is looked up by name while the program runs.
type Op struct {
	Kind   OpKind
	Print  *PrintStatement
	Sleep  time.Duration
	Target *Method
	Source Statement
}

type Service struct {
	Name    string
	Methods []*Method
	// Loop is nil for dormant services, which only run when called.
	Loop    []Op
	HasLoop bool

	methods map[string]*Method
}

type Method struct {
	Service *Service
	Name    string
	Body    []Op
}

// SpanName is the name used for spans of calls to this method.
func (m *Method) SpanName() string {
	return m.Service.Name + "/" + m.Name
}

// Registry is the resolved, read-only form of a Program. It is safe for
// concurrent use once built.
type Registry struct {
	services []*Service
	byName   map[string]*Service
}

// BuildRegistry indexes and resolves prog. Every problem found is reported;
// the returned error combines them.
func BuildRegistry(prog *Program) (*Registry, error) {
	reg := &Registry{byName: make(map[string]*Service)}
	var errs error

	// first pass: names
	defs := make(map[*Service]*ServiceDefinition)
	for _, sd := range prog.Services {
		if _, ok := reg.byName[sd.Name]; ok {
			errs = multierr.Append(errs, &DuplicateServiceError{Name: sd.Name, Pos: sd.Pos})
			continue
		}
		svc := &Service{Name: sd.Name, methods: make(map[string]*Method)}
		for _, md := range sd.Methods {
			if _, ok := svc.methods[md.Name]; ok {
				errs = multierr.Append(errs, &DuplicateMethodError{Service: sd.Name, Method: md.Name, Pos: md.Pos})
				continue
			}
			m := &Method{Service: svc, Name: md.Name}
			svc.methods[md.Name] = m
			svc.Methods = append(svc.Methods, m)
		}
		if len(sd.Loops) > 1 {
			errs = multierr.Append(errs, &DuplicateLoopError{Service: sd.Name, Pos: sd.Loops[1].Pos})
		}
		reg.byName[sd.Name] = svc
		reg.services = append(reg.services, svc)
		defs[svc] = sd
	}

	// second pass: bodies and call targets
	resolved := make(map[*Method]bool)
	for _, svc := range reg.services {
		sd := defs[svc]
		for _, md := range sd.Methods {
			m := svc.methods[md.Name]
			if resolved[m] {
				// a duplicate definition; already reported
				continue
			}
			resolved[m] = true
			body, err := reg.resolve(svc, md.Statements)
			errs = multierr.Append(errs, err)
			m.Body = body
		}
		if len(sd.Loops) > 0 {
			body, err := reg.resolve(svc, sd.Loops[0].Statements)
			errs = multierr.Append(errs, err)
			svc.Loop = body
			svc.HasLoop = true
		}
	}

	if errs != nil {
		return nil, errs
	}
	return reg, nil
}

func (r *Registry) resolve(owner *Service, stmts []Statement) ([]Op, error) {
	var errs error
	ops := make([]Op, 0, len(stmts))
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *PrintStatement:
			ops = append(ops, Op{Kind: OpPrint, Print: s, Source: s})
		case *SleepStatement:
			ops = append(ops, Op{Kind: OpSleep, Sleep: s.Duration, Source: s})
		case *CallStatement:
			target, err := r.resolveCall(owner, s)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			ops = append(ops, Op{Kind: OpCall, Target: target, Source: s})
		}
	}
	return ops, errs
}

func (r *Registry) resolveCall(owner *Service, call *CallStatement) (*Method, error) {
	svc := owner
	if call.Service != "" {
		var ok bool
		svc, ok = r.byName[call.Service]
		if !ok {
			return nil, &UndefinedServiceError{Name: call.Service, Pos: call.Pos}
		}
	}
	m, ok := svc.methods[call.Method]
	if !ok {
		return nil, &UndefinedMethodError{Service: svc.Name, Method: call.Method, Pos: call.Pos}
	}
	return m, nil
}

// Services returns every service in declaration order.
func (r *Registry) Services() []*Service {
	return r.services
}

// Looping returns the services that declare a loop, in declaration order.
func (r *Registry) Looping() []*Service {
	var out []*Service
	for _, svc := range r.services {
		if svc.HasLoop {
			out = append(out, svc)
		}
	}
	return out
}

func (r *Registry) Service(name string) (*Service, bool) {
	svc, ok := r.byName[name]
	return svc, ok
}

func (r *Registry) Method(service, method string) (*Method, bool) {
	svc, ok := r.byName[service]
	if !ok {
		return nil, false
	}
	m, ok := svc.methods[method]
	return m, ok
}
