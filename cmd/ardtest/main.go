// Command ardtest exercises the jet's Arduino link outside of a run:
// it applies an optional setpoint and streams decoded telemetry until
// interrupted.  Useful when bringing up a new bench or chasing a flaky
// serial cable.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/mesbahlab/goappj/arduino"
	"github.com/mesbahlab/goappj/instrument"
)

func main() {
	addr := flag.String("addr", "/dev/ttyACM0", "serial port of the Arduino")
	power := flag.Float64("power", 0, "power setpoint to apply, W")
	flow := flag.Float64("flow", 0, "flow setpoint to apply, SLM")
	flag.Parse()

	jet := arduino.NewJet(*addr)
	if err := jet.Connect(); err != nil {
		log.Fatalf("connect %s: %v", *addr, err)
	}
	defer jet.Disconnect()

	if *power != 0 || *flow != 0 {
		sp := instrument.Setpoint{Power: *power, Flow: *flow}
		if serr := jet.Apply(sp, 2*time.Second); serr != nil {
			log.Fatalf("apply: %v", serr)
		}
		log.Printf("applied %.2f W, %.2f SLM", sp.Power, sp.Flow)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	log.Println("streaming telemetry, Ctrl-C to stop")
	for {
		select {
		case <-sig:
			// always leave the jet off
			if serr := jet.Apply(instrument.Zero, 2*time.Second); serr != nil {
				log.Printf("disarm: %v", serr)
			}
			return
		default:
		}
		smp, serr := jet.Read(2 * time.Second)
		if serr != nil {
			log.Printf("read: %v", serr)
			if !serr.Retryable() {
				return
			}
			continue
		}
		aux := smp.(instrument.AuxSample)
		fmt.Printf("V=%.1f f=%.1f q=%.2f P_emb=%.2f T_emb=%.1f I=%.0f\n",
			aux.Values["voltage_pp"], aux.Values["frequency"],
			aux.Values["flow_slm"], aux.Values["power_emb"],
			aux.Values["temp_emb"], aux.Values["intensity"])
	}
}
