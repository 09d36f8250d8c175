package monitor_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/monitor"
	"github.com/mesbahlab/goappj/scheduler"
)

func record(tick int) scheduler.Record {
	return scheduler.Record{
		Tick:     tick,
		Elapsed:  time.Duration(tick) * time.Second,
		Setpoint: instrument.Setpoint{Power: 2, Flow: 3},
		Results: map[string]scheduler.Result{
			"thermal": {Sample: instrument.ThermalSample{
				Header: instrument.Header{ID: "thermal", At: time.Now()},
				Max:    40 + float64(tick),
			}},
		},
	}
}

func TestLatestBeforeAnyRecordIs404(t *testing.T) {
	m := monitor.New()
	srv := httptest.NewServer(m.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/latest")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 before any record, got %d", resp.StatusCode)
	}
}

func TestStatusReflectsLatestRecord(t *testing.T) {
	m := monitor.New()
	m.SetState(scheduler.Running)
	m.Observe(record(0))
	m.Observe(record(7))
	srv := httptest.NewServer(m.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		State  string  `json:"state"`
		Tick   int     `json:"tick"`
		PowerW float64 `json:"power_w"`
		TsMaxC float64 `json:"ts_max_c"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "running" {
		t.Errorf("state %q, expected running", body.State)
	}
	if body.Tick != 7 {
		t.Errorf("tick %d, expected the latest record's 7", body.Tick)
	}
	if body.TsMaxC != 47 {
		t.Errorf("ts_max %v, expected 47", body.TsMaxC)
	}
	if body.PowerW != 2 {
		t.Errorf("power %v, expected 2", body.PowerW)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	m := monitor.New()
	m.Observe(record(3))
	srv := httptest.NewServer(m.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics endpoint returned %d", resp.StatusCode)
	}
}
