package oceanoptics_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/oceanoptics"
)

func TestMeanShiftSubtractsDarkRegion(t *testing.T) {
	// 100 pixels, flat 50 counts, last 20 pixels at 10 counts
	raw := make([]float64, 100)
	for i := range raw {
		raw[i] = 50
	}
	for i := 80; i < 100; i++ {
		raw[i] = 10
	}
	shifted, shift := oceanoptics.MeanShift(raw)
	if shift != 10 {
		t.Errorf("expected shift 10 from the dark region, got %v", shift)
	}
	if shifted[0] != 40 {
		t.Errorf("expected shifted signal 40, got %v", shifted[0])
	}
	if shifted[90] != 0 {
		t.Errorf("expected dark region shifted to 0, got %v", shifted[90])
	}
}

func TestMeanShiftShortSpectrum(t *testing.T) {
	shifted, shift := oceanoptics.MeanShift([]float64{4, 6})
	if shift != 5 {
		t.Errorf("expected shift 5 over the whole short spectrum, got %v", shift)
	}
	if shifted[0] != -1 || shifted[1] != 1 {
		t.Errorf("unexpected shifted values %v", shifted)
	}
}

func TestTotalIntensitySkipsDarkPixels(t *testing.T) {
	// unit counts everywhere; the first 20 electrical dark pixels are
	// excluded from the sum
	shifted := make([]float64, 120)
	for i := range shifted {
		shifted[i] = 1
	}
	if got := oceanoptics.TotalIntensity(shifted); got != 100 {
		t.Errorf("expected 100, got %v", got)
	}
	if got := oceanoptics.TotalIntensity(shifted[:15]); got != 0 {
		t.Errorf("expected 0 for a spectrum inside the dark band, got %v", got)
	}
}

func TestConnectProgramsIntegrationAndCachesWavelengths(t *testing.T) {
	drv := &oceanoptics.MockDriver{Pixels: 64}
	s := oceanoptics.New(drv, 12*time.Millisecond)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	smp, serr := s.Read(time.Second)
	if serr != nil {
		t.Fatalf("read: %v", serr)
	}
	spec := smp.(instrument.SpectrometerSample)
	if len(spec.Wavelengths) != 64 || len(spec.Intensities) != 64 {
		t.Errorf("expected 64 pixel spectrum, got %d/%d wavelengths/intensities",
			len(spec.Wavelengths), len(spec.Intensities))
	}
	if spec.IntegrationTime != 12*time.Millisecond {
		t.Errorf("integration time %v not carried on sample", spec.IntegrationTime)
	}
	for i := 1; i < len(spec.Wavelengths); i++ {
		if spec.Wavelengths[i] <= spec.Wavelengths[i-1] {
			t.Fatalf("wavelength calibration not increasing at pixel %d", i)
		}
	}
}

func TestReadConditionsSpectrum(t *testing.T) {
	drv := &oceanoptics.MockDriver{}
	s := oceanoptics.New(drv, 12*time.Millisecond)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	smp, serr := s.Read(time.Second)
	if serr != nil {
		t.Fatalf("read: %v", serr)
	}
	spec := smp.(instrument.SpectrometerSample)
	if spec.MeanShift <= 0 {
		t.Errorf("mock baseline should produce a positive shift, got %v", spec.MeanShift)
	}
	if spec.TotalIntensity <= 0 {
		t.Errorf("mock emission lines should produce positive total intensity, got %v",
			spec.TotalIntensity)
	}
	if math.IsNaN(spec.TotalIntensity) {
		t.Errorf("total intensity is NaN")
	}
}

func TestReadClassifiesDeviceGoneAsFatal(t *testing.T) {
	drv := &oceanoptics.MockDriver{}
	s := oceanoptics.New(drv, 12*time.Millisecond)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	drv.Fail = oceanoptics.ErrDeviceGone
	_, serr := s.Read(time.Second)
	if serr == nil || serr.Kind != instrument.KindFatal {
		t.Fatalf("expected fatal error, got %v", serr)
	}
	// Fail is one-shot, the next read recovers
	if _, serr := s.Read(time.Second); serr != nil {
		t.Errorf("expected recovery after one-shot failure, got %v", serr)
	}
}

func TestReadClassifiesOtherErrorsTransient(t *testing.T) {
	drv := &oceanoptics.MockDriver{}
	s := oceanoptics.New(drv, 12*time.Millisecond)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()
	drv.Fail = errors.New("transfer stalled")
	_, serr := s.Read(time.Second)
	if serr == nil || serr.Kind != instrument.KindTransient {
		t.Fatalf("expected transient error, got %v", serr)
	}
	if !serr.Retryable() {
		t.Errorf("transient error must be retryable")
	}
}
