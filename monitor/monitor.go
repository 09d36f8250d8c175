/*Package monitor exposes a live view of a treatment run over HTTP.

It observes the record stream without owning it: the run controller tees
records here as they leave the scheduler, and the monitor serves the most
recent one as JSON plus a prometheus scrape target for the scalar
channels (setpoint, max surface temperature, total emission intensity).
There is no control surface; the run cannot be steered over HTTP.
*/
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/scheduler"
)

// Monitor holds the latest record and run state for serving.
// Concurrent safe.
type Monitor struct {
	mu sync.Mutex

	state     scheduler.State
	last      scheduler.Record
	haveLast  bool
	intensity float64
	tsMax     float64
}

// New returns an empty monitor
func New() *Monitor { return &Monitor{} }

// Observe ingests one record as it leaves the scheduler
func (m *Monitor) Observe(rec scheduler.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = rec
	m.haveLast = true
	for _, res := range rec.Results {
		switch s := res.Sample.(type) {
		case instrument.ThermalSample:
			m.tsMax = s.Max
		case instrument.SpectrometerSample:
			m.intensity = s.TotalIntensity
		}
	}
}

// SetState records the scheduler state for serving
func (m *Monitor) SetState(st scheduler.State) {
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
}

// statusBody is the JSON shape of GET /status
type statusBody struct {
	State    string  `json:"state"`
	Tick     int     `json:"tick"`
	ElapsedS float64 `json:"elapsed_s"`
	PowerW   float64 `json:"power_w"`
	FlowSLM  float64 `json:"flow_slm"`
	TsMaxC   float64 `json:"ts_max_c"`
	Itotal   float64 `json:"intensity_total"`
}

// Routes returns the monitor's HTTP surface
func (m *Monitor) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", m.httpStatus)
	r.Get("/latest", m.httpLatest)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (m *Monitor) httpStatus(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	body := statusBody{
		State:    m.state.String(),
		Tick:     m.last.Tick,
		ElapsedS: m.last.Elapsed.Seconds(),
		PowerW:   m.last.Setpoint.Power,
		FlowSLM:  m.last.Setpoint.Flow,
		TsMaxC:   m.tsMax,
		Itotal:   m.intensity,
	}
	m.mu.Unlock()
	writeJSON(w, body)
}

// httpLatest serves the complete latest record, samples included
func (m *Monitor) httpLatest(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	rec := m.last
	have := m.haveLast
	m.mu.Unlock()
	if !have {
		http.Error(w, "no records yet", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// RegisterGauges registers the live scalar channels on reg, or on the
// default registry when reg is nil.  GaugeFuncs read the monitor
// directly, so scrapes always see the newest record.
func (m *Monitor) RegisterGauges(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauges := []struct {
		name string
		help string
		read func() float64
	}{
		{"appj_power_setpoint_watts", "Power setpoint currently applied to the jet.",
			func() float64 { m.mu.Lock(); defer m.mu.Unlock(); return m.last.Setpoint.Power }},
		{"appj_flow_setpoint_slm", "Carrier gas flow setpoint currently applied to the jet.",
			func() float64 { m.mu.Lock(); defer m.mu.Unlock(); return m.last.Setpoint.Flow }},
		{"appj_surface_temp_max_celsius", "Maximum substrate surface temperature from the thermal camera.",
			func() float64 { m.mu.Lock(); defer m.mu.Unlock(); return m.tsMax }},
		{"appj_emission_intensity_total", "Total optical emission intensity from the spectrometer.",
			func() float64 { m.mu.Lock(); defer m.mu.Unlock(); return m.intensity }},
	}
	for _, g := range gauges {
		err := reg.Register(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Subsystem: "lab", Name: g.name, Help: g.help},
			g.read))
		if err != nil {
			return err
		}
	}
	return nil
}
