package instrument

import (
	"image"
	"time"
)

// Sample is one timestamped reading from one instrument
type Sample interface {
	// Instrument returns the ID of the device that produced the sample
	Instrument() string

	// Time returns the monotonic acquisition timestamp
	Time() time.Time
}

// Header carries the fields common to every sample kind; embed it in
// concrete sample types
type Header struct {
	ID string    `json:"instrument"`
	At time.Time `json:"acquired"`
}

func (h Header) Instrument() string { return h.ID }
func (h Header) Time() time.Time    { return h.At }

// SpectrometerSample is one optical emission spectrum.  Intensities are
// background-shifted; MeanShift holds the subtracted baseline and
// TotalIntensity the summed signal band.
type SpectrometerSample struct {
	Header
	Wavelengths     []float64     `json:"wavelengths,omitempty"`
	Intensities     []float64     `json:"intensities"`
	IntegrationTime time.Duration `json:"integration_time"`
	MeanShift       float64       `json:"mean_shift"`
	TotalIntensity  float64       `json:"total_intensity"`
}

// ThermalSample is one thermal camera acquisition.  Max is the hottest
// pixel on the substrate; Ring2 and Ring12 are mean temperatures at fixed
// pixel offsets from the hot spot in the four cardinal directions.
// Frame may be nil if full-frame capture is disabled.
type ThermalSample struct {
	Header
	Max    float64       `json:"max_c"`
	Mean   float64       `json:"mean_c"`
	Ring2  float64       `json:"ring2_c"`
	Ring12 float64       `json:"ring12_c"`
	Frame  *image.Gray16 `json:"-"`
}

// ActuatorEcho is the actuator's report of what it actually applied
type ActuatorEcho struct {
	Header
	Applied Setpoint `json:"applied"`
}

// AuxSample carries a bag of named scalar channels, e.g. the embedded
// telemetry line from the jet's microcontroller
type AuxSample struct {
	Header
	Values map[string]float64 `json:"values"`
}
