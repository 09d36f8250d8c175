/*Package scheduler contains the timed sampling/actuation loop at the
heart of a treatment run.

The loop owns a single logical timeline: one tick at a time, and within a
tick the setpoint is applied before any sensor is read.  Tick boundaries
are anchored to the run start (start + i*period) rather than accumulated
sleeps, so per-tick processing latency cannot drift a long run.  Sensors
with cadences slower than the base tick are polled on the tick nearest
each multiple of their own period.

Transient instrument failures land in the tick's Record and the
instrument is retried when next due; a fatal failure aborts the run.
Records reach the Recorder strictly in tick order, exactly one per tick.
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/profile"
)

// State is the lifecycle state of the scheduler
type State int

const (
	// Idle - no adapters connected
	Idle State = iota

	// Armed - adapters connected and pipelines primed, timing not started
	Armed

	// Running - the tick loop is active
	Running

	// Completed - the treatment duration elapsed normally
	Completed

	// Aborted - a fatal error or an external interrupt ended the run
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// ErrInterrupted is returned by Run when the context is canceled by the
// operator rather than by an instrument failure
var ErrInterrupted = errors.New("scheduler: run interrupted")

// Result is one instrument's outcome within a tick: a sample or a
// classified error, never both
type Result struct {
	Sample instrument.Sample
	Err    *instrument.SampleError
}

// Record is the outcome of one tick.  Instruments that were not due this
// tick are absent from Results; instruments that were due and failed are
// present with Err set.  Records are immutable once emitted.
type Record struct {
	Tick     int
	Elapsed  time.Duration
	Setpoint instrument.Setpoint
	Results  map[string]Result
}

// Recorder accepts Records in tick order
type Recorder interface {
	Append(Record) error
}

// Discard is a Recorder that drops everything; used by the warm-up
// routine, which runs the same loop with no persistence requirement
type Discard struct{}

// Append implements Recorder
func (Discard) Append(Record) error { return nil }

// SensorSpec pairs a sensor with its own sampling cadence
type SensorSpec struct {
	Sensor instrument.Sensor

	// Period is the sensor's native cadence; zero means every tick
	Period time.Duration
}

// Config holds the loop timing parameters
type Config struct {
	// Period is the base tick period, the greatest common cadence of
	// the sensor set
	Period time.Duration

	// Duration is the treatment length; the loop emits
	// ceil(Duration/Period) records
	Duration time.Duration

	// OpTimeout bounds each apply and read; zero defaults to
	// 80% of Period
	OpTimeout time.Duration

	// Sequential issues reads one at a time instead of concurrently.
	// Concurrent reads are awaited before the tick's record is
	// assembled either way.
	Sequential bool
}

func (c Config) opTimeout() time.Duration {
	if c.OpTimeout > 0 {
		return c.OpTimeout
	}
	return c.Period * 8 / 10
}

// Ticks returns the number of records a full run will emit
func (c Config) Ticks() int {
	return int((c.Duration + c.Period - 1) / c.Period)
}

// Scheduler drives one treatment run.  Create with New; a Scheduler is
// single-use.
type Scheduler struct {
	cfg     Config
	prof    profile.Profile
	act     instrument.Actuator
	sensors []SensorSpec
	rec     Recorder

	mu    sync.Mutex
	state State
}

// New returns an Idle scheduler for one run
func New(cfg Config, prof profile.Profile, act instrument.Actuator, sensors []SensorSpec, rec Recorder) *Scheduler {
	return &Scheduler{cfg: cfg, prof: prof, act: act, sensors: sensors, rec: rec}
}

// State returns the current lifecycle state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Arm primes the measurement pipelines with one throwaway read round.
// The first acquisition from a cold spectrometer or camera is routinely
// stale; taking it before t=0 keeps it out of the session.  Errors here
// are discarded, the real loop classifies its own.
func (s *Scheduler) Arm(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range s.sensors {
		wg.Add(1)
		go func(spec SensorSpec) {
			defer wg.Done()
			readOne(ctx, spec.Sensor, s.cfg.opTimeout())
		}(s.sensors[i])
	}
	wg.Wait()
	s.setState(Armed)
}

// Run executes the loop to completion.  It returns nil when the treatment
// duration elapses, ErrInterrupted when ctx is canceled, a *SampleError
// for a fatal instrument failure, or the recorder's error if persistence
// breaks.  The caller owns disarming the actuator afterward.
func (s *Scheduler) Run(ctx context.Context) error {
	if st := s.State(); st != Armed {
		return fmt.Errorf("scheduler: cannot run from state %v", st)
	}
	s.setState(Running)

	nTicks := s.cfg.Ticks()
	start := time.Now()
	for i := 0; i < nTicks; i++ {
		select {
		case <-ctx.Done():
			s.setState(Aborted)
			return ErrInterrupted
		default:
		}

		elapsed := time.Duration(i) * s.cfg.Period
		sp := s.prof.SetpointAt(elapsed)
		rec := Record{
			Tick:     i,
			Elapsed:  elapsed,
			Setpoint: sp,
			Results:  make(map[string]Result, len(s.sensors)+1),
		}

		// actuate first so the sensors observe the tick's setpoint
		if serr := s.act.Apply(sp, s.cfg.opTimeout()); serr != nil {
			rec.Results[s.act.ID()] = Result{Err: serr}
			if !serr.Retryable() {
				s.setState(Aborted)
				if err := s.rec.Append(rec); err != nil {
					return fmt.Errorf("scheduler: recorder failed at tick %d: %v: %w", i, err, serr)
				}
				return serr
			}
		} else {
			rec.Results[s.act.ID()] = Result{Sample: instrument.ActuatorEcho{
				Header:  instrument.Header{ID: s.act.ID(), At: time.Now()},
				Applied: sp,
			}}
		}

		if fatal := s.readDue(ctx, elapsed, &rec); fatal != nil {
			s.setState(Aborted)
			if err := s.rec.Append(rec); err != nil {
				return fmt.Errorf("scheduler: recorder failed at tick %d: %v: %w", i, err, fatal)
			}
			return fatal
		}

		if err := s.rec.Append(rec); err != nil {
			s.setState(Aborted)
			return fmt.Errorf("scheduler: recorder failed at tick %d: %w", i, err)
		}

		if err := s.waitNextTick(ctx, start, i); err != nil {
			s.setState(Aborted)
			return err
		}
	}
	s.setState(Completed)
	return nil
}

// readDue polls every sensor due at this elapsed time and merges the
// results into the record, returning the first fatal error encountered
func (s *Scheduler) readDue(ctx context.Context, elapsed time.Duration, rec *Record) *instrument.SampleError {
	due := make([]SensorSpec, 0, len(s.sensors))
	for _, spec := range s.sensors {
		if dueAt(elapsed, spec.Period, s.cfg.Period) {
			due = append(due, spec)
		}
	}
	results := make([]Result, len(due))
	if s.cfg.Sequential {
		for i, spec := range due {
			results[i] = readOne(ctx, spec.Sensor, s.cfg.opTimeout())
		}
	} else {
		var wg sync.WaitGroup
		for i := range due {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = readOne(ctx, due[i].Sensor, s.cfg.opTimeout())
			}(i)
		}
		wg.Wait()
	}
	var fatal *instrument.SampleError
	for i, spec := range due {
		rec.Results[spec.Sensor.ID()] = results[i]
		if serr := results[i].Err; serr != nil && !serr.Retryable() && fatal == nil {
			fatal = serr
		}
	}
	return fatal
}

// readOne issues a read with the deadline enforced on this side of the
// adapter as well.  On cancellation the in-flight call gets one timeout's
// grace to return before it is abandoned as fatal.
func readOne(ctx context.Context, sensor instrument.Sensor, timeout time.Duration) Result {
	ch := make(chan Result, 1)
	go func() {
		smp, serr := sensor.Read(timeout)
		ch <- Result{Sample: smp, Err: serr}
	}()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case r := <-ch:
		return r
	case <-deadline.C:
		return Result{Err: instrument.Timeoutf(sensor.ID(), context.DeadlineExceeded)}
	case <-ctx.Done():
		grace := time.NewTimer(timeout)
		defer grace.Stop()
		select {
		case r := <-ch:
			return r
		case <-grace.C:
			return Result{Err: instrument.Fatalf(sensor.ID(), ctx.Err())}
		}
	}
}

// waitNextTick sleeps until the anchored boundary start + (i+1)*period
func (s *Scheduler) waitNextTick(ctx context.Context, start time.Time, tick int) error {
	next := start.Add(time.Duration(tick+1) * s.cfg.Period)
	wait := time.Until(next)
	if wait <= 0 {
		// the tick overran; start the next one immediately rather than
		// queueing up sleep debt
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ErrInterrupted
	}
}

// dueAt reports whether a sensor with the given period should be polled
// on the tick at elapsed.  Sensors are polled on the tick nearest each
// multiple of their period, within half a base tick's tolerance; this is
// the resolution chosen for cadences that do not evenly divide the base.
func dueAt(elapsed, period, base time.Duration) bool {
	if period <= base {
		return true
	}
	rem := elapsed % period
	return rem <= base/2 || period-rem < base-base/2
}
