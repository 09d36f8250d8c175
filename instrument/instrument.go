/*Package instrument defines the capability contract between the sampling
core and the physical devices on the plasma jet testbed.

Every device, regardless of transport (serial line, USB bulk transfer,
vendor SDK) is wrapped in an adapter satisfying Sensor or Actuator.  The
adapter is the translation boundary for errors: anything the transport
produces is classified into one of three SampleError kinds before it
crosses this interface.  Nothing device-specific escapes past it.
*/
package instrument

import (
	"fmt"
	"time"
)

// Setpoint is one pair of actuation targets for the jet.
type Setpoint struct {
	// Power is the applied plasma power in Watts
	Power float64 `json:"power_w" yaml:"power_w"`

	// Flow is the carrier gas flow rate in standard liters per minute
	Flow float64 `json:"flow_slm" yaml:"flow_slm"`
}

// Zero is the safe/disarmed setpoint
var Zero = Setpoint{}

// ErrorKind classifies an adapter failure
type ErrorKind int

const (
	// KindTimeout - the operation did not finish within its deadline.
	// Treated the same as Transient by callers.
	KindTimeout ErrorKind = iota

	// KindTransient - the device was busy or produced garbage; retry on
	// the instrument's next due tick
	KindTransient

	// KindFatal - the device is gone or persistently unresponsive; the
	// run must abort
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// SampleError is a classified failure returned in place of a Sample
type SampleError struct {
	// Instrument is the ID of the device that failed
	Instrument string

	// Kind is the failure classification
	Kind ErrorKind

	// Cause is the underlying transport error, if any
	Cause error
}

func (e *SampleError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Instrument, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Instrument, e.Kind, e.Cause)
}

func (e *SampleError) Unwrap() error { return e.Cause }

// Retryable is true for errors that should be retried on the instrument's
// next due tick instead of aborting the run
func (e *SampleError) Retryable() bool { return e.Kind != KindFatal }

// Timeoutf creates a timeout-kind SampleError
func Timeoutf(instrument string, cause error) *SampleError {
	return &SampleError{Instrument: instrument, Kind: KindTimeout, Cause: cause}
}

// Transientf creates a transient-kind SampleError
func Transientf(instrument string, cause error) *SampleError {
	return &SampleError{Instrument: instrument, Kind: KindTransient, Cause: cause}
}

// Fatalf creates a fatal-kind SampleError
func Fatalf(instrument string, cause error) *SampleError {
	return &SampleError{Instrument: instrument, Kind: KindFatal, Cause: cause}
}

// Device has a scoped connection to a piece of hardware.  Connect is
// idempotent; Disconnect must be called on every exit path so the hardware
// is left in a safe state.
type Device interface {
	Connect() error
	Disconnect() error
}

// Sensor is a read-only instrument
type Sensor interface {
	Device

	// ID returns the stable identifier used to key this instrument's
	// results in a Record
	ID() string

	// Read acquires one sample.  The adapter makes a best effort to
	// return within timeout; the caller enforces the deadline regardless.
	Read(timeout time.Duration) (Sample, *SampleError)
}

// Actuator accepts setpoints and physically changes the apparatus.
// Apply must be idempotent for a repeated setpoint; reapplying the value
// already in force may not double-actuate.
type Actuator interface {
	Device
	ID() string
	Apply(sp Setpoint, timeout time.Duration) *SampleError
}
