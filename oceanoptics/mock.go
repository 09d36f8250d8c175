package oceanoptics

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockDriver synthesizes plausible plasma emission spectra for bench
// testing without hardware.  Concurrent safe.
type MockDriver struct {
	sync.Mutex

	// Pixels is the detector width; defaults to 2048 when zero
	Pixels int

	// Fail, if non-nil, is returned by the next Intensities call and
	// then cleared
	Fail error

	integration time.Duration
	open        bool
}

func (m *MockDriver) pixels() int {
	if m.Pixels == 0 {
		return 2048
	}
	return m.Pixels
}

// Open marks the mock open
func (m *MockDriver) Open() error {
	m.Lock()
	defer m.Unlock()
	m.open = true
	return nil
}

// Close marks the mock closed
func (m *MockDriver) Close() error {
	m.Lock()
	defer m.Unlock()
	m.open = false
	return nil
}

// SetIntegrationTime records the integration window; counts scale with it
func (m *MockDriver) SetIntegrationTime(d time.Duration) error {
	m.Lock()
	defer m.Unlock()
	m.integration = d
	return nil
}

// Wavelengths returns a linear calibration from 200 to 900 nm
func (m *MockDriver) Wavelengths() ([]float64, error) {
	n := m.pixels()
	wl := make([]float64, n)
	for i := range wl {
		wl[i] = 200 + 700*float64(i)/float64(n-1)
	}
	return wl, nil
}

// Intensities returns a baseline plus emission lines at the helium and
// nitrogen wavelengths the jet actually produces, with shot noise
func (m *MockDriver) Intensities() ([]float64, error) {
	m.Lock()
	defer m.Unlock()
	if m.Fail != nil {
		err := m.Fail
		m.Fail = nil
		return nil, err
	}
	n := m.pixels()
	scale := float64(m.integration) / float64(12*time.Millisecond)
	if scale == 0 {
		scale = 1
	}
	out := make([]float64, n)
	lines := []struct{ center, amplitude, width float64 }{
		{337.1, 4000, 1.5}, // N2 second positive system
		{391.4, 1500, 1.2}, // N2+ first negative
		{706.5, 2500, 1.8}, // He I
		{777.2, 1200, 1.6}, // O I
	}
	for i := 0; i < n; i++ {
		wl := 200 + 700*float64(i)/float64(n-1)
		v := 180.0 // dark baseline counts
		for _, l := range lines {
			d := (wl - l.center) / l.width
			v += scale * l.amplitude * math.Exp(-d*d)
		}
		out[i] = v + rand.NormFloat64()*3
	}
	return out, nil
}
