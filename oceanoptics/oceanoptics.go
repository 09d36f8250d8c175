/*Package oceanoptics adapts an Ocean Optics USB spectrometer to the
instrument capability interfaces.

The vendor transport is isolated behind the Driver interface so the
sampling core never sees it; a USB implementation and an in-package mock
both satisfy it.  Spectra are conditioned on read the way the treatment
analysis expects: the baseline is estimated as the mean of the last 20
pixels (an optically dark region of the detector) and subtracted, and the
total emission intensity is summed from pixel 20 up to skip the detector's
electrical dark pixels.
*/
package oceanoptics

import (
	"errors"
	"strings"
	"time"

	"github.com/mesbahlab/goappj/instrument"
)

const (
	// baselinePixels is the width of the dark region used for the
	// mean-shift estimate
	baselinePixels = 20

	// signalStart is the first pixel included in the total intensity sum
	signalStart = 20
)

// ErrDeviceGone is returned by drivers when the spectrometer has
// disappeared from the bus; it aborts the run
var ErrDeviceGone = errors.New("oceanoptics: device gone")

// Driver is the vendor SDK boundary
type Driver interface {
	Open() error
	Close() error

	// SetIntegrationTime programs the detector integration window
	SetIntegrationTime(d time.Duration) error

	// Wavelengths returns the per-pixel wavelength calibration in nm
	Wavelengths() ([]float64, error)

	// Intensities acquires one spectrum, raw counts per pixel
	Intensities() ([]float64, error)
}

// DefaultID is the instrument identifier unless overridden
const DefaultID = "spectrometer"

// Spectrometer is the capability adapter over a Driver
type Spectrometer struct {
	d           Driver
	id          string
	integration time.Duration
	wavelengths []float64
}

// New returns a Spectrometer over the given driver with the given
// integration time
func New(d Driver, integration time.Duration) *Spectrometer {
	return &Spectrometer{d: d, id: DefaultID, integration: integration}
}

// ID returns the instrument identifier
func (s *Spectrometer) ID() string { return s.id }

// Connect opens the driver, programs the integration time, and caches the
// wavelength calibration
func (s *Spectrometer) Connect() error {
	if err := s.d.Open(); err != nil {
		return err
	}
	if err := s.d.SetIntegrationTime(s.integration); err != nil {
		s.d.Close()
		return err
	}
	wl, err := s.d.Wavelengths()
	if err != nil {
		s.d.Close()
		return err
	}
	s.wavelengths = wl
	return nil
}

// Disconnect closes the driver
func (s *Spectrometer) Disconnect() error { return s.d.Close() }

// IntegrationTime returns the programmed integration window
func (s *Spectrometer) IntegrationTime() time.Duration { return s.integration }

// Read acquires one spectrum and conditions it
func (s *Spectrometer) Read(timeout time.Duration) (instrument.Sample, *instrument.SampleError) {
	raw, err := s.d.Intensities()
	if err != nil {
		return nil, s.classify(err)
	}
	shifted, shift := MeanShift(raw)
	return instrument.SpectrometerSample{
		Header:          instrument.Header{ID: s.id, At: time.Now()},
		Wavelengths:     s.wavelengths,
		Intensities:     shifted,
		IntegrationTime: s.integration,
		MeanShift:       shift,
		TotalIntensity:  TotalIntensity(shifted),
	}, nil
}

func (s *Spectrometer) classify(err error) *instrument.SampleError {
	switch {
	case errors.Is(err, ErrDeviceGone):
		return instrument.Fatalf(s.id, err)
	case strings.Contains(err.Error(), "timeout"):
		return instrument.Timeoutf(s.id, err)
	default:
		return instrument.Transientf(s.id, err)
	}
}

// MeanShift subtracts the dark-region baseline from a raw spectrum,
// returning the shifted spectrum and the subtracted value
func MeanShift(raw []float64) ([]float64, float64) {
	if len(raw) == 0 {
		return nil, 0
	}
	n := baselinePixels
	if n > len(raw) {
		n = len(raw)
	}
	var sum float64
	for _, v := range raw[len(raw)-n:] {
		sum += v
	}
	shift := sum / float64(n)
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = v - shift
	}
	return out, shift
}

// TotalIntensity sums the signal band of a shifted spectrum
func TotalIntensity(shifted []float64) float64 {
	if len(shifted) <= signalStart {
		return 0
	}
	var sum float64
	for _, v := range shifted[signalStart:] {
		sum += v
	}
	return sum
}
