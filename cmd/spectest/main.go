// Command spectest acquires a handful of spectra and prints the derived
// scalars, for verifying the spectrometer and picking an integration
// time before a run.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/oceanoptics"
)

func main() {
	integUS := flag.Float64("integration", 72000, "integration time, microseconds")
	n := flag.Int("n", 5, "number of spectra to acquire")
	mock := flag.Bool("mock", false, "use the simulated spectrometer")
	flag.Parse()

	integration := time.Duration(*integUS) * time.Microsecond
	var drv oceanoptics.Driver = oceanoptics.NewUSBDriver()
	if *mock {
		drv = &oceanoptics.MockDriver{}
	}
	spec := oceanoptics.New(drv, integration)
	if err := spec.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer spec.Disconnect()

	timeout := 2*integration + time.Second
	for i := 0; i < *n; i++ {
		smp, serr := spec.Read(timeout)
		if serr != nil {
			log.Printf("read %d: %v", i, serr)
			if !serr.Retryable() {
				return
			}
			continue
		}
		s := smp.(instrument.SpectrometerSample)
		peakWl, peak := 0.0, 0.0
		for j, v := range s.Intensities {
			if v > peak {
				peak, peakWl = v, s.Wavelengths[j]
			}
		}
		fmt.Printf("%d: pixels=%d shift=%.1f total=%.0f peak=%.0f @ %.1f nm\n",
			i, len(s.Intensities), s.MeanShift, s.TotalIntensity, peak, peakWl)
	}
}
