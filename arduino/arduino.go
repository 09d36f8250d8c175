/*Package arduino adapts the jet's microcontroller to the instrument
capability interfaces.

The microcontroller owns the power supply and the mass flow controller, so
it is both the run's actuator (Apply pushes a power/flow setpoint down the
serial line) and a sensor (the firmware continuously streams a CRC-tagged
CSV line of embedded measurements: electrical, positional, and duty cycle
channels).

Writes are paced with a rate limiter; the firmware needs on the order of
150ms to settle after a setpoint line before the next one is honored.
*/
package arduino

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/mesbahlab/goappj/comm"
	"github.com/mesbahlab/goappj/instrument"
)

const (
	// Baud is the line rate of the jet firmware
	Baud = 38400

	// minWriteSpacing is the settle time between setpoint writes
	minWriteSpacing = 150 * time.Millisecond
)

// DefaultID is the instrument identifier used for the embedded telemetry
// channel unless overridden
const DefaultID = "arduino"

// Jet is the power/flow actuator and embedded telemetry source
type Jet struct {
	*comm.RemoteDevice

	id      string
	limiter *rate.Limiter

	mu       sync.Mutex
	last     instrument.Setpoint
	haveLast bool
}

// NewJet returns a Jet speaking to the firmware at addr, e.g. /dev/ttyACM0
func NewJet(addr string) *Jet {
	cfg := &serial.Config{
		Name:        addr,
		Baud:        Baud,
		ReadTimeout: time.Second}
	term := comm.Terminators{Tx: '\n', Rx: '\n'}
	rd := comm.NewRemoteDevice(addr, true, &term, cfg)
	return &Jet{
		RemoteDevice: &rd,
		id:           DefaultID,
		limiter:      rate.NewLimiter(rate.Every(minWriteSpacing), 1)}
}

// ID returns the instrument identifier
func (j *Jet) ID() string { return j.id }

// Connect opens the serial line.  Idempotent.
func (j *Jet) Connect() error { return j.Open() }

// Disconnect closes the serial line
func (j *Jet) Disconnect() error { return j.Close() }

// Apply pushes a setpoint to the firmware.  Reapplying the setpoint
// already in force is a no-op, so a tick retry cannot double-actuate.
func (j *Jet) Apply(sp instrument.Setpoint, timeout time.Duration) *instrument.SampleError {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.haveLast && sp == j.last {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := j.limiter.Wait(ctx); err != nil {
		return instrument.Timeoutf(j.id, err)
	}
	cmd := fmt.Sprintf("s,%.2f,%.2f", sp.Power, sp.Flow)
	if err := j.Send([]byte(cmd)); err != nil {
		return classify(j.id, err)
	}
	j.last = sp
	j.haveLast = true
	return nil
}

// LastApplied returns the setpoint most recently accepted by Apply
func (j *Jet) LastApplied() (instrument.Setpoint, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last, j.haveLast
}

// Read consumes one telemetry line from the firmware stream.  A line that
// fails its CRC is a transient error; the next due tick gets a fresh line.
func (j *Jet) Read(timeout time.Duration) (instrument.Sample, *instrument.SampleError) {
	buf, err := j.Recv()
	if err != nil {
		return nil, classify(j.id, err)
	}
	tel, err := ParseTelemetry(string(buf))
	if err != nil {
		return nil, instrument.Transientf(j.id, err)
	}
	return instrument.AuxSample{
		Header: instrument.Header{ID: j.id, At: time.Now()},
		Values: tel.Values(),
	}, nil
}

// classify maps transport errors onto the adapter error taxonomy.
// A closed or missing line is unrecoverable; anything time-shaped is a
// timeout; the rest is assumed to be line noise worth a retry.
func classify(id string, err error) *instrument.SampleError {
	switch {
	case errors.Is(err, comm.ErrNotConnected), errors.Is(err, os.ErrClosed):
		return instrument.Fatalf(id, err)
	case os.IsTimeout(err), strings.Contains(err.Error(), "timeout"):
		return instrument.Timeoutf(id, err)
	case strings.Contains(err.Error(), "no such file"),
		strings.Contains(err.Error(), "device not configured"):
		return instrument.Fatalf(id, err)
	default:
		return instrument.Transientf(id, err)
	}
}
