/*Package sim provides in-memory instruments for bench testing the
sampling core and for Mock-mode runs on machines with no hardware
attached.

Faults are scripted per call index, so a test can say "the thermal sensor
times out on reads 10 through 12" and nothing else changes.
*/
package sim

import (
	"sync"
	"time"

	"github.com/mesbahlab/goappj/instrument"
)

// Actuator is a simulated power/flow actuator that records every applied
// setpoint.  Concurrent safe.
type Actuator struct {
	mu sync.Mutex

	id        string
	applied   []instrument.Setpoint
	connected bool

	// FailApply, if non-nil, is consulted with the 0-based call index
	// before each apply; a non-nil return is surfaced to the caller and
	// the setpoint is not recorded
	FailApply func(call int) *instrument.SampleError

	calls int
}

// NewActuator returns a simulated actuator with the given instrument ID
func NewActuator(id string) *Actuator {
	return &Actuator{id: id}
}

func (a *Actuator) ID() string { return a.id }

// Connect marks the actuator connected.  Idempotent.
func (a *Actuator) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

// Disconnect marks the actuator disconnected
func (a *Actuator) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// Apply records the setpoint, honoring any scripted fault.  Repeated
// application of the current setpoint is collapsed, matching the real
// adapter's idempotency contract.
func (a *Actuator) Apply(sp instrument.Setpoint, timeout time.Duration) *instrument.SampleError {
	a.mu.Lock()
	defer a.mu.Unlock()
	call := a.calls
	a.calls++
	if a.FailApply != nil {
		if serr := a.FailApply(call); serr != nil {
			return serr
		}
	}
	if n := len(a.applied); n > 0 && a.applied[n-1] == sp {
		return nil
	}
	a.applied = append(a.applied, sp)
	return nil
}

// Applied returns a copy of the distinct setpoint history
func (a *Actuator) Applied() []instrument.Setpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	cpy := make([]instrument.Setpoint, len(a.applied))
	copy(cpy, a.applied)
	return cpy
}

// Last returns the setpoint currently in force
func (a *Actuator) Last() (instrument.Setpoint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.applied) == 0 {
		return instrument.Setpoint{}, false
	}
	return a.applied[len(a.applied)-1], true
}

// ZeroApplies counts how many times the zero (disarm) setpoint entered
// the history
func (a *Actuator) ZeroApplies() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, sp := range a.applied {
		if sp == instrument.Zero {
			n++
		}
	}
	return n
}

// Sensor is a simulated sensor emitting AuxSamples.  Concurrent safe.
type Sensor struct {
	mu sync.Mutex

	id        string
	reads     int
	connected bool

	// Latency, if nonzero, is slept inside Read to exercise timeout paths
	Latency time.Duration

	// Fault, if non-nil, is consulted with the 0-based read index; a
	// non-nil return replaces the sample
	Fault func(read int) *instrument.SampleError

	// Value, if non-nil, produces the reading for a given read index;
	// the default is the index itself
	Value func(read int) float64

	// Channel names the key the reading is published under in the
	// AuxSample's Values map; empty means "value"
	Channel string
}

// NewSensor returns a simulated sensor with the given instrument ID
func NewSensor(id string) *Sensor {
	return &Sensor{id: id}
}

func (s *Sensor) ID() string { return s.id }

// Connect marks the sensor connected.  Idempotent.
func (s *Sensor) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// Disconnect marks the sensor disconnected
func (s *Sensor) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Read produces one sample, honoring any scripted fault or latency
func (s *Sensor) Read(timeout time.Duration) (instrument.Sample, *instrument.SampleError) {
	s.mu.Lock()
	read := s.reads
	s.reads++
	latency := s.Latency
	fault := s.Fault
	value := s.Value
	key := s.Channel
	s.mu.Unlock()
	if key == "" {
		key = "value"
	}

	if latency > 0 {
		time.Sleep(latency)
	}
	if fault != nil {
		if serr := fault(read); serr != nil {
			return nil, serr
		}
	}
	v := float64(read)
	if value != nil {
		v = value(read)
	}
	return instrument.AuxSample{
		Header: instrument.Header{ID: s.id, At: time.Now()},
		Values: map[string]float64{key: v},
	}, nil
}

// Reads returns how many times Read has been called
func (s *Sensor) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
