package sim_test

import (
	"testing"
	"time"

	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/sim"
)

func TestSensorDefaultChannel(t *testing.T) {
	s := sim.NewSensor("aux")
	s.Connect()
	sample, serr := s.Read(time.Second)
	if serr != nil {
		t.Fatalf("read: %v", serr)
	}
	as, ok := sample.(instrument.AuxSample)
	if !ok {
		t.Fatalf("sample is %T, not AuxSample", sample)
	}
	if _, ok := as.Values["value"]; !ok {
		t.Errorf("default channel missing, got %v", as.Values)
	}
}

func TestSensorNamedChannel(t *testing.T) {
	s := sim.NewSensor("arduino")
	s.Channel = "power_emb"
	s.Value = func(read int) float64 { return 1.5 }
	s.Connect()
	sample, serr := s.Read(time.Second)
	if serr != nil {
		t.Fatalf("read: %v", serr)
	}
	as := sample.(instrument.AuxSample)
	if v, ok := as.Values["power_emb"]; !ok || v != 1.5 {
		t.Errorf("expected power_emb=1.5, got %v", as.Values)
	}
}
