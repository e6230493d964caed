package main

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// placeholder is replaced in a print template by the chosen value.
const placeholder = "%s"

// DefaultMaxDepth bounds call chains when no other limit is configured.
const DefaultMaxDepth = 32

// callContext is owned by one execution unit and passed by value, so a
// callee works on its own copy and the caller's service, span and depth
// are back in place when the call returns.
type callContext struct {
	// ctx carries the active span and the shutdown signal.
	ctx     context.Context
	service *Service
	depth   int
	chooser Chooser
	fielder *Fielder
}

func newCallContext(ctx context.Context, svc *Service, chooser Chooser, fielder *Fielder) callContext {
	return callContext{
		ctx:     ctx,
		service: svc,
		chooser: chooser,
		fielder: fielder,
	}
}

func (cc callContext) fields(level int) map[string]any {
	if cc.fielder == nil {
		return nil
	}
	return cc.fielder.GetFields(level)
}

// Interpreter runs resolved statement sequences against a Sink. It keeps
// no per-call state, so one Interpreter serves every execution unit.
type Interpreter struct {
	registry *Registry
	sink     Sink
	maxDepth int
	log      Logger
	metrics  *Metrics
}

func NewInterpreter(reg *Registry, sink Sink, log Logger, metrics *Metrics, maxDepth int) *Interpreter {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	if log == nil {
		log = NewNopLogger()
	}
	return &Interpreter{
		registry: reg,
		sink:     sink,
		maxDepth: maxDepth,
		log:      log,
		metrics:  metrics,
	}
}

func (in *Interpreter) MaxDepth() int {
	return in.maxDepth
}

// Execute calls service.method as a child of the span in ctx, the same way
// a call statement would from depth 0. A nil chooser picks print values
// with an Rng seeded from the method name.
func (in *Interpreter) Execute(ctx context.Context, service, method string, chooser Chooser) error {
	target, ok := in.registry.Method(service, method)
	if !ok {
		return &UndefinedMethodError{Service: service, Method: method}
	}
	if chooser == nil {
		chooser = NewRng(target.SpanName())
	}
	return in.call(newCallContext(ctx, target.Service, chooser, nil), target)
}

// RunLoop runs one pass over the loop body of cc's service. The caller has
// already started the root span and put it in cc.ctx.
func (in *Interpreter) RunLoop(cc callContext) error {
	if !cc.service.HasLoop {
		return fmt.Errorf("service %s has no loop", cc.service.Name)
	}
	return in.runBody(cc, cc.service.Loop)
}

func (in *Interpreter) runBody(cc callContext, body []Op) error {
	for _, op := range body {
		switch op.Kind {
		case OpPrint:
			in.print(cc, op.Print)
		case OpSleep:
			sleep(cc.ctx, op.Sleep)
		case OpCall:
			if err := in.call(cc, op.Target); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in *Interpreter) print(cc callContext, stmt *PrintStatement) {
	msg := stmt.Template
	if len(stmt.Vars) > 0 {
		msg = strings.ReplaceAll(msg, placeholder, cc.chooser.Choice(stmt.Vars))
	}
	in.sink.EmitLog(cc.ctx, LogRecord{
		Service: cc.service.Name,
		Channel: stmt.Channel,
		Message: msg,
	})
	in.metrics.RecordLog(cc.ctx, cc.service.Name, stmt.Channel)
}

// sleep waits for d or until ctx is done. Once ctx is done every sleep
// returns at once.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 || ctx.Err() != nil {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// call runs target in a child span. The span is ended however the body
// finishes; an error is recorded on it and passed up unchanged.
func (in *Interpreter) call(cc callContext, target *Method) (err error) {
	if cc.depth+1 > in.maxDepth {
		in.metrics.RecordDepthExceeded(cc.ctx, target.Service.Name)
		in.log.Debug("refusing call %s from %s at depth %d\n", target.SpanName(), cc.service.Name, cc.depth)
		return &CallDepthExceededError{
			Service: target.Service.Name,
			Method:  target.Name,
			Depth:   cc.depth + 1,
			Max:     in.maxDepth,
		}
	}
	in.metrics.RecordCall(cc.ctx, target)

	callee := cc
	callee.service = target.Service
	callee.depth++
	ctx, span := in.sink.StartSpan(cc.ctx, SpanInfo{
		Service: target.Service.Name,
		Name:    target.SpanName(),
		Depth:   callee.depth,
		Fields:  cc.fields(callee.depth),
	})
	callee.ctx = ctx
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.Send()
	}()

	return in.runBody(callee, target.Body)
}
