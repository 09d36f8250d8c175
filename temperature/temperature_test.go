package temperature_test

import (
	"math"
	"testing"

	"github.com/mesbahlab/goappj/temperature"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestC2KRoundTrip(t *testing.T) {
	var c temperature.Celsius = 37.5
	back := temperature.K2C(temperature.C2K(c))
	if !near(float64(back), float64(c)) {
		t.Errorf("expected C->K->C to round trip, got %v from %v", back, c)
	}
}

func TestCK2C(t *testing.T) {
	// 29815 cK is 25 C
	got := temperature.CK2C(29815)
	if !near(float64(got), 25) {
		t.Errorf("expected 29815 cK = 25 C, got %v", got)
	}
}

func TestC2CKRoundTrip(t *testing.T) {
	var c temperature.Celsius = 42
	back := temperature.CK2C(temperature.C2CK(c))
	if math.Abs(float64(back-c)) > 0.01 {
		t.Errorf("expected C->cK->C to round trip within a centikelvin, got %v from %v", back, c)
	}
}
