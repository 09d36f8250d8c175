/*Package session persists one treatment run to durable storage.

One run produces one directory keyed by sample identifier and start time:

	<root>/<timestamp>_<sample>/
		meta.yml      run metadata and final status
		records.csv   one row per scheduler tick
		spectra.csv   wavelength header plus one row per spectrometer read
		thermal/      FITS frame files, one per thermal acquisition
		notes.txt     freeform operator notes

Appends buffer in memory and flush to disk every FlushEvery records or
FlushInterval of wall time, whichever comes first, so an interruption
loses at most one flush window and never the session.  meta.yml is
written immediately at creation with an "incomplete" status and rewritten
at Finalize, which makes interrupted runs distinguishable on disk from
finished ones.
*/
package session

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/scheduler"
)

// Status is the terminal disposition of a session
type Status string

const (
	// StatusIncomplete is on disk while the run is live; finding it
	// after the fact means the process died mid-run
	StatusIncomplete Status = "incomplete"

	// StatusCompleted - the treatment duration elapsed normally
	StatusCompleted Status = "completed"

	// StatusAborted - fatal error or operator interrupt; records
	// persisted before the abort remain valid
	StatusAborted Status = "aborted"
)

// ErrFinalized is generated when a Recorder is used after Finalize
var ErrFinalized = errors.New("session: recorder already finalized")

// Step is one profile waypoint as persisted in metadata
type Step struct {
	OffsetS float64 `yaml:"offset_s"`
	PowerW  float64 `yaml:"power_w"`
	FlowSLM float64 `yaml:"flow_slm"`
}

// Meta is the run metadata block of meta.yml
type Meta struct {
	SampleID      string    `yaml:"sample_id"`
	Start         time.Time `yaml:"start"`
	DurationS     float64   `yaml:"duration_s"`
	PeriodS       float64   `yaml:"sampling_period_s"`
	IntegrationUS float64   `yaml:"integration_time_us"`
	SeparationMM  float64   `yaml:"separation_mm"`
	Profile       []Step    `yaml:"profile"`
	Status        Status    `yaml:"status"`
}

// Options tune the recorder's flush policy
type Options struct {
	// FlushEvery is the record-count flush bound; default 10
	FlushEvery int

	// FlushInterval is the wall-time flush bound; default 5s
	FlushInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.FlushEvery <= 0 {
		o.FlushEvery = 10
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	return o
}

// recordHeader is the column set of records.csv.  Cells for instruments
// that were not due on a tick are empty; cells for instruments that
// errored are empty with the failure named in the errors column, which
// keeps "not polled" and "failed" distinguishable.
var recordHeader = []string{
	"tick", "elapsed_s", "power_w", "flow_slm",
	"ts_max_c", "ts_mean_c", "ring2_c", "ring12_c",
	"intensity_total", "mean_shift", "power_emb_w", "errors",
}

// Recorder implements scheduler.Recorder with bounded-loss persistence.
// Create with New; concurrent safe.
type Recorder struct {
	mu sync.Mutex

	dir  string
	meta Meta
	opts Options

	buf       []scheduler.Record
	lastFlush time.Time

	recF *os.File
	recW *csv.Writer

	specF      *os.File
	specW      *csv.Writer
	specHeader bool

	frames    frameStore
	appended  int
	persisted int
	finalized bool
}

// New creates the session directory and its files, writes the initial
// metadata, and returns a live Recorder
func New(root string, meta Meta, opts Options) (*Recorder, error) {
	meta.Status = StatusIncomplete
	stamp := meta.Start.Format("2006_01_02_15h04m05s")
	dir := filepath.Join(root, fmt.Sprintf("%s_%s", stamp, meta.SampleID))
	if err := os.MkdirAll(filepath.Join(dir, "thermal"), 0777); err != nil {
		return nil, err
	}
	r := &Recorder{
		dir:       dir,
		meta:      meta,
		opts:      opts.withDefaults(),
		lastFlush: time.Now(),
		frames:    frameStore{dir: filepath.Join(dir, "thermal"), prefix: "frame_"},
	}
	if err := r.writeMeta(); err != nil {
		return nil, err
	}
	var err error
	r.recF, err = os.Create(filepath.Join(dir, "records.csv"))
	if err != nil {
		return nil, err
	}
	r.recW = csv.NewWriter(r.recF)
	if err := r.recW.Write(recordHeader); err != nil {
		r.recF.Close()
		return nil, err
	}
	r.specF, err = os.Create(filepath.Join(dir, "spectra.csv"))
	if err != nil {
		r.recF.Close()
		return nil, err
	}
	r.specW = csv.NewWriter(r.specF)
	return r, nil
}

// Dir returns the session directory
func (r *Recorder) Dir() string { return r.dir }

// Append buffers one record, flushing if either bound is hit.  O(1)
// amortized; the flush cost is spread over FlushEvery appends.
func (r *Recorder) Append(rec scheduler.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}
	r.buf = append(r.buf, rec)
	r.appended++
	if len(r.buf) >= r.opts.FlushEvery || time.Since(r.lastFlush) >= r.opts.FlushInterval {
		return r.flushLocked()
	}
	return nil
}

// Flush forces buffered records to disk
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}
	return r.flushLocked()
}

// Persisted returns how many records have reached durable storage
func (r *Recorder) Persisted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persisted
}

// Finalize flushes everything buffered, rewrites metadata with the final
// status, and closes the files.  The recorder is dead afterward.
func (r *Recorder) Finalize(st Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}
	flushErr := r.flushLocked()
	r.meta.Status = st
	metaErr := r.writeMeta()
	r.recW.Flush()
	r.specW.Flush()
	err1 := r.recF.Close()
	err2 := r.specF.Close()
	r.finalized = true
	for _, err := range []error{flushErr, metaErr, err1, err2} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Note appends a line to the session's notes file
func (r *Recorder) Note(s string) error {
	f, err := os.OpenFile(filepath.Join(r.dir, "notes.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, s)
	return err
}

func (r *Recorder) flushLocked() error {
	// records leave the buffer as they land, so a flush that fails
	// partway and is retried at Finalize never rewrites a row
	for len(r.buf) > 0 {
		if err := r.writeRecord(r.buf[0]); err != nil {
			return err
		}
		r.buf = r.buf[1:]
		r.persisted++
	}
	r.lastFlush = time.Now()
	r.recW.Flush()
	r.specW.Flush()
	if err := r.recW.Error(); err != nil {
		return err
	}
	if err := r.specW.Error(); err != nil {
		return err
	}
	if err := r.recF.Sync(); err != nil {
		return err
	}
	return r.specF.Sync()
}

func (r *Recorder) writeRecord(rec scheduler.Record) error {
	row := make([]string, len(recordHeader))
	row[0] = strconv.Itoa(rec.Tick)
	row[1] = fmtF(rec.Elapsed.Seconds())
	row[2] = fmtF(rec.Setpoint.Power)
	row[3] = fmtF(rec.Setpoint.Flow)

	errCol := ""
	for id, res := range rec.Results {
		if res.Err != nil {
			if errCol != "" {
				errCol += ";"
			}
			errCol += id + ":" + res.Err.Kind.String()
			continue
		}
		switch s := res.Sample.(type) {
		case instrument.ThermalSample:
			row[4] = fmtF(s.Max)
			row[5] = fmtF(s.Mean)
			row[6] = fmtF(s.Ring2)
			row[7] = fmtF(s.Ring12)
			if s.Frame != nil {
				if err := r.frames.write(s.Frame, rec.Tick, rec.Elapsed); err != nil {
					return err
				}
			}
		case instrument.SpectrometerSample:
			row[8] = fmtF(s.TotalIntensity)
			row[9] = fmtF(s.MeanShift)
			if err := r.writeSpectrum(rec, s); err != nil {
				return err
			}
		case instrument.AuxSample:
			if v, ok := s.Values["power_emb"]; ok {
				row[10] = fmtF(v)
			}
		}
	}
	row[11] = errCol
	return r.recW.Write(row)
}

func (r *Recorder) writeSpectrum(rec scheduler.Record, s instrument.SpectrometerSample) error {
	if !r.specHeader {
		head := make([]string, 2, len(s.Wavelengths)+2)
		head[0], head[1] = "tick", "elapsed_s"
		for _, wl := range s.Wavelengths {
			head = append(head, fmtF(wl))
		}
		if err := r.specW.Write(head); err != nil {
			return err
		}
		r.specHeader = true
	}
	row := make([]string, 2, len(s.Intensities)+2)
	row[0] = strconv.Itoa(rec.Tick)
	row[1] = fmtF(rec.Elapsed.Seconds())
	for _, v := range s.Intensities {
		row = append(row, fmtF(v))
	}
	return r.specW.Write(row)
}

func (r *Recorder) writeMeta() error {
	f, err := os.Create(filepath.Join(r.dir, "meta.yml"))
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewEncoder(f).Encode(r.meta)
}

func fmtF(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
