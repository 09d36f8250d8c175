/*Package runctl owns the lifecycle of one treatment run: validate the
request, connect the rig, execute the sampling loop, and leave the
hardware disarmed no matter how the run ends.

The controller is deliberately thin.  Timing lives in scheduler,
persistence in session; this package sequences them and holds the one
rule the others cannot enforce alone: the jet is driven to the zero
setpoint on every exit path, exactly once, and a failure to disarm is
logged rather than allowed to mask the run's outcome.
*/
package runctl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/monitor"
	"github.com/mesbahlab/goappj/profile"
	"github.com/mesbahlab/goappj/scheduler"
	"github.com/mesbahlab/goappj/session"
)

// Hard actuation limits of the testbed.  Requests beyond these are
// rejected before any hardware is touched.
const (
	MaxPower = 5.5 // W
	MaxFlow  = 8.5 // SLM
)

// Exit codes reported by the appjrun binary
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitConfig      = 2
	ExitInterrupted = 130
)

// ConfigError is a rejected run request.  The run never starts; nothing
// was actuated.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is one validated run request
type Config struct {
	// SampleID labels the session directory
	SampleID string `koanf:"sample_id"`

	// Duration is the treatment length
	Duration time.Duration `koanf:"duration"`

	// Period is the base sampling period
	Period time.Duration `koanf:"period"`

	// Integration is the spectrometer integration time.  The sampling
	// period must exceed twice this value or the spectrometer cannot
	// finish inside a tick.
	Integration time.Duration `koanf:"integration"`

	// Power and Flow are the constant setpoint; ignored when Profile is set
	Power float64 `koanf:"power"`
	Flow  float64 `koanf:"flow"`

	// Profile, when non-empty, is a step profile overriding Power/Flow
	Profile []profile.Waypoint `koanf:"profile"`

	// SeparationMM is the jet-to-substrate separation, recorded in
	// metadata; the rig has no actuator for it
	SeparationMM float64 `koanf:"separation_mm"`

	// DataRoot is the directory sessions are created under
	DataRoot string `koanf:"data_root"`

	// FlushEvery overrides the recorder's record-count flush bound
	FlushEvery int `koanf:"flush_every"`

	// OpTimeout overrides the per-operation deadline; zero uses the
	// scheduler default
	OpTimeout time.Duration `koanf:"op_timeout"`

	// Sequential reads sensors one at a time instead of concurrently
	Sequential bool `koanf:"sequential"`
}

// Validate rejects requests the rig cannot or should not serve.  The
// first violation found is returned.
func (c Config) Validate() error {
	if c.SampleID == "" {
		return &ConfigError{"sample_id", "must not be empty"}
	}
	if c.Duration <= 0 {
		return &ConfigError{"duration", "must be positive"}
	}
	if c.Period <= 0 {
		return &ConfigError{"period", "must be positive"}
	}
	if c.Integration < 0 {
		return &ConfigError{"integration", "must not be negative"}
	}
	if c.Period <= 2*c.Integration {
		return &ConfigError{"period", fmt.Sprintf(
			"%v must exceed twice the integration time %v", c.Period, c.Integration)}
	}
	if c.OpTimeout < 0 {
		return &ConfigError{"op_timeout", "must not be negative"}
	}
	if c.OpTimeout > c.Period {
		return &ConfigError{"op_timeout", "must not exceed the sampling period"}
	}
	if c.DataRoot == "" {
		return &ConfigError{"data_root", "must not be empty"}
	}
	if len(c.Profile) > 0 {
		for i, w := range c.Profile {
			if err := checkSetpoint(w.Setpoint); err != nil {
				return &ConfigError{fmt.Sprintf("profile[%d]", i), err.Error()}
			}
		}
		if _, err := profile.Steps(c.Profile); err != nil {
			return &ConfigError{"profile", err.Error()}
		}
		return nil
	}
	if err := checkSetpoint(instrument.Setpoint{Power: c.Power, Flow: c.Flow}); err != nil {
		return &ConfigError{"setpoint", err.Error()}
	}
	return nil
}

func checkSetpoint(sp instrument.Setpoint) error {
	if sp.Power < 0 || sp.Power > MaxPower {
		return fmt.Errorf("power %.2f W outside [0, %.1f]", sp.Power, MaxPower)
	}
	if sp.Flow < 0 || sp.Flow > MaxFlow {
		return fmt.Errorf("flow %.2f SLM outside [0, %.1f]", sp.Flow, MaxFlow)
	}
	return nil
}

func (c Config) profile() profile.Profile {
	if len(c.Profile) > 0 {
		p, _ := profile.Steps(c.Profile) // validated already
		return p
	}
	return profile.Constant(instrument.Setpoint{Power: c.Power, Flow: c.Flow})
}

// Rig is the instrument set for a run: one actuator driving the jet and
// any number of sensors with their cadences
type Rig struct {
	Actuator instrument.Actuator
	Sensors  []scheduler.SensorSpec
}

// devices lists each physical device once.  The jet shows up as both
// actuator and telemetry sensor; its connection is still singular.
func (r Rig) devices() []instrument.Device {
	devs := []instrument.Device{r.Actuator}
	for _, s := range r.Sensors {
		if instrument.Device(s.Sensor) == instrument.Device(r.Actuator) {
			continue
		}
		devs = append(devs, s.Sensor)
	}
	return devs
}

// Controller executes runs against one rig.  Zero value is not usable;
// create with New.
type Controller struct {
	rig Rig
	mon *monitor.Monitor
	log *log.Logger
}

// New returns a controller for the given rig.  mon may be nil when no
// live monitor is wanted.
func New(rig Rig, mon *monitor.Monitor, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{rig: rig, mon: mon, log: logger}
}

// Connect opens every device in the rig.  On partial failure the devices
// already opened are closed again before the error is returned, so the
// rig is never left half-connected.
func (c *Controller) Connect() error {
	devs := c.rig.devices()
	for i, d := range devs {
		if err := d.Connect(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if derr := devs[j].Disconnect(); derr != nil {
					c.log.Printf("disconnect after failed connect: %v", derr)
				}
			}
			return err
		}
	}
	return nil
}

// Disconnect closes every device in the rig, returning the first error
// after attempting all of them
func (c *Controller) Disconnect() error {
	var first error
	for _, d := range c.rig.devices() {
		if err := d.Disconnect(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// disarm drives the jet to the zero setpoint.  Called exactly once per
// run on every exit path; a failure here is logged, not returned, so it
// cannot overwrite the run's actual outcome.
func (c *Controller) disarm(timeout time.Duration) {
	if serr := c.rig.Actuator.Apply(instrument.Zero, timeout); serr != nil {
		c.log.Printf("disarm failed: %v", serr)
		return
	}
	c.log.Printf("jet disarmed")
}

// Run executes one treatment run end to end: validate, open the session,
// arm, run the loop, disarm, finalize.  The rig must already be
// connected.  The returned error is nil on normal completion,
// a *ConfigError for a rejected request, scheduler.ErrInterrupted for an
// operator cancel, or the fatal instrument/persistence error otherwise.
func (c *Controller) Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	prof := cfg.profile()

	meta := session.Meta{
		SampleID:      cfg.SampleID,
		Start:         time.Now(),
		DurationS:     cfg.Duration.Seconds(),
		PeriodS:       cfg.Period.Seconds(),
		IntegrationUS: float64(cfg.Integration.Microseconds()),
		SeparationMM:  cfg.SeparationMM,
	}
	for _, w := range prof.Waypoints() {
		meta.Profile = append(meta.Profile, session.Step{
			OffsetS: w.Offset.Seconds(),
			PowerW:  w.Setpoint.Power,
			FlowSLM: w.Setpoint.Flow,
		})
	}
	rec, err := session.New(cfg.DataRoot, meta, session.Options{FlushEvery: cfg.FlushEvery})
	if err != nil {
		return fmt.Errorf("runctl: open session: %w", err)
	}
	c.log.Printf("session %s", rec.Dir())

	scfg := scheduler.Config{
		Period:     cfg.Period,
		Duration:   cfg.Duration,
		OpTimeout:  cfg.OpTimeout,
		Sequential: cfg.Sequential,
	}
	sched := scheduler.New(scfg, prof, c.rig.Actuator, c.rig.Sensors, c.tee(rec))

	c.observeState(sched)
	sched.Arm(ctx)
	c.observeState(sched)
	c.log.Printf("armed; starting %v run, %d ticks", cfg.Duration, scfg.Ticks())

	runErr := sched.Run(ctx)
	c.observeState(sched)
	c.disarm(opTimeout(cfg))

	st := session.StatusCompleted
	if runErr != nil {
		st = session.StatusAborted
	}
	if ferr := rec.Finalize(st); ferr != nil {
		c.log.Printf("finalize session: %v", ferr)
		if runErr == nil {
			runErr = ferr
		}
	}
	switch {
	case runErr == nil:
		c.log.Printf("run completed, %d records", rec.Persisted())
	case errors.Is(runErr, scheduler.ErrInterrupted):
		c.log.Printf("run interrupted, %d records persisted", rec.Persisted())
	default:
		c.log.Printf("run aborted: %v (%d records persisted)", runErr, rec.Persisted())
	}
	return runErr
}

// Warmup holds a fixed setpoint for d to let the jet reach steady state
// before a recorded run.  Same loop as a run, nothing persisted.  The
// jet is disarmed afterward unless the caller starts a run immediately.
func (c *Controller) Warmup(ctx context.Context, cfg Config, d time.Duration, disarmAfter bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Config{
		Period:    cfg.Period,
		Duration:  d,
		OpTimeout: cfg.OpTimeout,
	}, cfg.profile(), c.rig.Actuator, c.rig.Sensors, scheduler.Discard{})
	sched.Arm(ctx)
	c.log.Printf("warmup %v at %.2f W, %.2f SLM", d, cfg.Power, cfg.Flow)
	err := sched.Run(ctx)
	if disarmAfter || err != nil {
		c.disarm(opTimeout(cfg))
	}
	return err
}

func (c *Controller) tee(rec scheduler.Recorder) scheduler.Recorder {
	if c.mon == nil {
		return rec
	}
	return teeRecorder{rec: rec, mon: c.mon}
}

func (c *Controller) observeState(s *scheduler.Scheduler) {
	if c.mon != nil {
		c.mon.SetState(s.State())
	}
}

func opTimeout(cfg Config) time.Duration {
	if cfg.OpTimeout > 0 {
		return cfg.OpTimeout
	}
	return cfg.Period * 8 / 10
}

// teeRecorder forwards each record to the monitor before persisting it.
// The monitor never errors; persistence failures propagate unchanged.
type teeRecorder struct {
	rec scheduler.Recorder
	mon *monitor.Monitor
}

func (t teeRecorder) Append(r scheduler.Record) error {
	t.mon.Observe(r)
	return t.rec.Append(r)
}

// ExitCode maps a Run error to the process exit code: 0 for a completed
// run, 2 for a rejected request, 130 for an operator interrupt, 1 for
// everything else
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cerr *ConfigError
	if errors.As(err, &cerr) {
		return ExitConfig
	}
	if errors.Is(err, scheduler.ErrInterrupted) {
		return ExitInterrupted
	}
	return ExitFatal
}
