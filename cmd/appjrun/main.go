// Command appjrun executes open-loop treatment runs on the plasma jet
// testbed and records them to disk.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/mesbahlab/goappj/arduino"
	"github.com/mesbahlab/goappj/flir"
	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/monitor"
	"github.com/mesbahlab/goappj/oceanoptics"
	"github.com/mesbahlab/goappj/profile"
	"github.com/mesbahlab/goappj/runctl"
	"github.com/mesbahlab/goappj/scheduler"
	"github.com/mesbahlab/goappj/sim"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "appjrun.yml"
	k              = koanf.New(".")
)

// Step is one profile waypoint in the config file
type Step struct {
	OffsetS float64 `koanf:"offset_s"`
	PowerW  float64 `koanf:"power_w"`
	FlowSLM float64 `koanf:"flow_slm"`
}

// Config is the complete runtime configuration of appjrun
type Config struct {
	SampleID      string  `koanf:"sample_id"`
	DurationS     float64 `koanf:"duration_s"`
	PeriodS       float64 `koanf:"sampling_period_s"`
	IntegrationUS float64 `koanf:"integration_time_us"`
	PowerW        float64 `koanf:"power_w"`
	FlowSLM       float64 `koanf:"flow_slm"`
	SeparationMM  float64 `koanf:"separation_mm"`
	Profile       []Step  `koanf:"profile"`
	WarmupS       float64 `koanf:"warmup_s"`

	DataRoot   string `koanf:"data_root"`
	FlushEvery int    `koanf:"flush_every"`

	ArduinoAddr  string  `koanf:"arduino_addr"`
	SpecPeriodS  float64 `koanf:"spectrometer_period_s"`
	ThermPeriodS float64 `koanf:"thermal_period_s"`
	KeepFrames   bool    `koanf:"keep_frames"`
	Sequential   bool    `koanf:"sequential"`

	MonitorAddr string `koanf:"monitor_addr"`

	// Mock runs against simulated instruments; no hardware is touched
	Mock bool `koanf:"mock"`
}

func defaults() Config {
	return Config{
		SampleID:      "sample",
		DurationS:     60,
		PeriodS:       1.0,
		IntegrationUS: 72000,
		PowerW:        1.5,
		FlowSLM:       2.0,
		SeparationMM:  5.0,
		DataRoot:      "data",
		ArduinoAddr:   "/dev/ttyACM0",
		KeepFrames:    true,
		MonitorAddr:   ":8080",
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `appjrun drives the atmospheric pressure plasma jet through a treatment
and records every sampling tick to a session directory.

Usage:
	appjrun <command>

Commands:
	run
	warmup
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `appjrun is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

A run holds power_w / flow_slm for duration_s, sampling every
sampling_period_s.  Set profile to a list of {offset_s, power_w, flow_slm}
steps for a time-varying setpoint; the first offset must be 0.

The sampling period must exceed twice the spectrometer integration time,
otherwise the acquisition cannot finish inside a tick and the request is
rejected before any hardware is touched.

spectrometer_period_s and thermal_period_s give those instruments a slower
cadence than the base tick; zero samples them every tick.

Set mock to true to run against simulated instruments; the session on disk
has the same shape as a hardware run.

The jet is always driven to the zero setpoint when a run ends, even on
error or Ctrl-C.  Exit codes: 0 completed, 1 aborted on instrument or
storage failure, 2 configuration rejected, 130 interrupted.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("appjrun version %v\n", Version)
}

func runcfg(c Config) runctl.Config {
	rc := runctl.Config{
		SampleID:     c.SampleID,
		Duration:     secs(c.DurationS),
		Period:       secs(c.PeriodS),
		Integration:  time.Duration(c.IntegrationUS) * time.Microsecond,
		Power:        c.PowerW,
		Flow:         c.FlowSLM,
		SeparationMM: c.SeparationMM,
		DataRoot:     c.DataRoot,
		FlushEvery:   c.FlushEvery,
		Sequential:   c.Sequential,
	}
	for _, s := range c.Profile {
		rc.Profile = append(rc.Profile, profile.Waypoint{
			Offset: secs(s.OffsetS),
			Setpoint: instrument.Setpoint{
				Power: s.PowerW,
				Flow:  s.FlowSLM,
			},
		})
	}
	return rc
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// buildRig assembles the instrument set, simulated or physical
func buildRig(c Config) runctl.Rig {
	integration := time.Duration(c.IntegrationUS) * time.Microsecond
	if c.Mock {
		act := sim.NewActuator(arduino.DefaultID)
		aux := sim.NewSensor(arduino.DefaultID)
		aux.Channel = "power_emb"
		aux.Value = func(read int) float64 {
			if sp, ok := act.Last(); ok {
				return sp.Power * 0.96
			}
			return 0
		}
		spec := oceanoptics.New(&oceanoptics.MockDriver{}, integration)
		therm := flir.New(flir.NewSimSource())
		therm.KeepFrames = c.KeepFrames
		return runctl.Rig{
			Actuator: act,
			Sensors: []scheduler.SensorSpec{
				{Sensor: aux}, // embedded telemetry shape, every tick
				{Sensor: spec, Period: secs(c.SpecPeriodS)},
				{Sensor: therm, Period: secs(c.ThermPeriodS)},
			},
		}
	}
	jet := arduino.NewJet(c.ArduinoAddr)
	spec := oceanoptics.New(oceanoptics.NewUSBDriver(), integration)
	therm := flir.New(flir.NewUSBSource())
	therm.KeepFrames = c.KeepFrames
	return runctl.Rig{
		Actuator: jet,
		Sensors: []scheduler.SensorSpec{
			{Sensor: jet}, // embedded telemetry, every tick
			{Sensor: spec, Period: secs(c.SpecPeriodS)},
			{Sensor: therm, Period: secs(c.ThermPeriodS)},
		},
	}
}

// connect opens the rig behind a spinner so a slow USB enumeration does
// not look like a hang
func connect(ctrl *runctl.Controller) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " connecting instruments",
		SuffixAutoColon: true,
		StopCharacter:   "ok",
		StopFailMessage: "failed",
	})
	if err != nil {
		// no spinner is no reason not to run
		return ctrl.Connect()
	}
	spinner.Start()
	if err := ctrl.Connect(); err != nil {
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	return nil
}

func echo(c Config) {
	fmt.Println("run settings:")
	yml.NewEncoder(os.Stdout).Encode(c)
}

func run(warmupOnly bool) {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	rc := runcfg(c)
	if err := rc.Validate(); err != nil {
		log.Println(err)
		os.Exit(runctl.ExitCode(err))
	}
	echo(c)

	mon := monitor.New()
	if c.MonitorAddr != "" {
		if err := mon.RegisterGauges(nil); err != nil {
			log.Printf("metrics registration: %v", err)
		}
		go func() {
			log.Printf("monitor listening at %s", c.MonitorAddr)
			if err := http.ListenAndServe(c.MonitorAddr, mon.Routes()); err != nil {
				log.Printf("monitor server: %v", err)
			}
		}()
	}

	ctrl := runctl.New(buildRig(c), mon, log.Default())
	if err := connect(ctrl); err != nil {
		log.Printf("connect: %v", err)
		os.Exit(runctl.ExitFatal)
	}
	defer ctrl.Disconnect()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.WarmupS > 0 || warmupOnly {
		d := secs(c.WarmupS)
		if warmupOnly && d <= 0 {
			d = 30 * time.Second
		}
		if err := ctrl.Warmup(ctx, rc, d, warmupOnly); err != nil {
			log.Printf("warmup: %v", err)
			ctrl.Disconnect()
			os.Exit(runctl.ExitCode(err))
		}
		if warmupOnly {
			return
		}
	}

	err = ctrl.Run(ctx, rc)
	ctrl.Disconnect()
	os.Exit(runctl.ExitCode(err))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run(false)
		return
	case "warmup":
		run(true)
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
