package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// UnitState is the lifecycle state of one execution unit.
type UnitState int32

const (
	Idle UnitState = iota
	Running
	Draining
	Stopped
)

func (s UnitState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// unit is the execution unit of one looping service. Only its own goroutine
// touches rng and fielder.
type unit struct {
	service *Service
	rng     Rng
	fielder *Fielder

	state      atomic.Int32
	iterations atomic.Int64
	failures   atomic.Int64
}

func (u *unit) setState(s UnitState) {
	u.state.Store(int32(s))
}

func (u *unit) getState() UnitState {
	return UnitState(u.state.Load())
}

// UnitStats is a snapshot of one unit.
type UnitStats struct {
	Service    string
	State      UnitState
	Iterations int64
	Failures   int64
}

type SchedulerConfig struct {
	// RampTime spreads the start of the units evenly over this duration.
	RampTime time.Duration
	// Seed makes field names, field values and print choices repeatable.
	// Each unit derives its own seed from it and its service name.
	Seed string
	// Fields are user field specifications added to every span.
	Fields map[string]string
	// ExtraFields adds that many randomly named fields to every span.
	ExtraFields int
	// Counter, if set, hands out iteration numbers shared by all units.
	// A unit stops when it is closed.
	Counter <-chan int64
}

// Scheduler runs one execution unit per service that declares a loop.
type Scheduler struct {
	interp   *Interpreter
	sink     Sink
	log      Logger
	metrics  *Metrics
	rampTime time.Duration
	counter  <-chan int64
	units    []*unit
	started  atomic.Bool
}

func NewScheduler(reg *Registry, interp *Interpreter, sink Sink, log Logger, metrics *Metrics, cfg SchedulerConfig) (*Scheduler, error) {
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	s := &Scheduler{
		interp:   interp,
		sink:     sink,
		log:      log,
		metrics:  metrics,
		rampTime: cfg.RampTime,
		counter:  cfg.Counter,
	}
	for _, svc := range reg.Looping() {
		seed := cfg.Seed + "/" + svc.Name
		fielder, err := NewFielder(seed, cfg.Fields, cfg.ExtraFields)
		if err != nil {
			return nil, err
		}
		s.units = append(s.units, &unit{
			service: svc,
			rng:     NewRng(seed + "/print"),
			fielder: fielder,
		})
	}
	return s, nil
}

// States returns the current state of every unit by service name.
func (s *Scheduler) States() map[string]UnitState {
	states := make(map[string]UnitState, len(s.units))
	for _, u := range s.units {
		states[u.service.Name] = u.getState()
	}
	return states
}

// Stats returns a snapshot of every unit in declaration order.
func (s *Scheduler) Stats() []UnitStats {
	stats := make([]UnitStats, 0, len(s.units))
	for _, u := range s.units {
		stats = append(stats, UnitStats{
			Service:    u.service.Name,
			State:      u.getState(),
			Iterations: u.iterations.Load(),
			Failures:   u.failures.Load(),
		})
	}
	return stats
}

// Run starts every unit and blocks until all of them are stopped. Units
// stop when ctx is done or the counter is closed; an iteration already
// under way is finished first.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler can only be run once")
	}
	if len(s.units) == 0 {
		s.log.Warn("no service declares a loop, nothing to run\n")
		return nil
	}

	var interval time.Duration
	if s.rampTime > 0 {
		interval = s.rampTime / time.Duration(len(s.units))
	}
	s.log.Info("starting %d units, interval: %s\n", len(s.units), interval)

	wg := &sync.WaitGroup{}
	for i, u := range s.units {
		if i > 0 && interval > 0 && !waitFor(ctx, interval) {
			for _, rest := range s.units[i:] {
				rest.setState(Stopped)
			}
			break
		}
		wg.Add(1)
		go s.runUnit(ctx, wg, u)
	}
	wg.Wait()
	s.log.Info("all units stopped\n")
	return nil
}

// waitFor reports whether d elapsed before ctx was done.
func waitFor(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) runUnit(ctx context.Context, wg *sync.WaitGroup, u *unit) {
	defer wg.Done()
	name := u.service.Name
	s.metrics.UnitStarted(ctx, name)
	defer s.metrics.UnitStopped(context.WithoutCancel(ctx), name)

	// a unit caught mid-iteration by the shutdown signal is draining
	stopDrain := context.AfterFunc(ctx, func() {
		u.state.CompareAndSwap(int32(Running), int32(Draining))
	})
	defer stopDrain()

	s.log.Debug("unit %s started\n", name)
	var local int64
	for {
		if ctx.Err() != nil {
			break
		}
		count, ok := s.nextCount(ctx, &local)
		// select picks at random when a ticket and the shutdown are both ready
		if !ok || ctx.Err() != nil {
			break
		}
		u.setState(Running)
		s.iterate(ctx, u, count)
		u.state.CompareAndSwap(int32(Running), int32(Idle))
	}
	u.setState(Draining)
	u.setState(Stopped)
	s.log.Debug("unit %s stopped after %d iterations\n", name, u.iterations.Load())
}

// nextCount returns the number of the next iteration, or false when the
// unit should stop.
func (s *Scheduler) nextCount(ctx context.Context, local *int64) (int64, bool) {
	if s.counter == nil {
		*local++
		return *local, true
	}
	select {
	case count, ok := <-s.counter:
		return count, ok
	case <-ctx.Done():
		return 0, false
	}
}

// iterate runs one loop iteration under a fresh root span. Nothing that
// goes wrong in here reaches the unit's loop.
func (s *Scheduler) iterate(ctx context.Context, u *unit, count int64) {
	name := u.service.Name
	start := time.Now()
	rootCtx, root := s.sink.StartTrace(ctx, SpanInfo{
		Service: name,
		Name:    name + "/loop",
		Count:   count,
		Fields:  u.fielder.GetFields(0),
	})

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &IterationPanicError{Service: name, Value: r}
		}
		if err != nil {
			root.RecordError(err)
			u.failures.Add(1)
			s.log.Error("service %s: iteration %d failed: %v\n", name, count, err)
		}
		root.Send()
		u.iterations.Add(1)
		s.metrics.RecordIteration(context.WithoutCancel(ctx), name, time.Since(start), err)
	}()

	err = s.interp.RunLoop(newCallContext(rootCtx, u.service, u.rng, u.fielder))
}
