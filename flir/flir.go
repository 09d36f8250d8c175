/*Package flir adapts a FLIR Lepton radiometric camera to the instrument
capability interfaces.

Frames arrive as 16 bit centikelvin counts.  The adapter reduces each
frame to the statistics the treatment cares about: the hottest pixel on
the substrate, the frame mean, and ring means at fixed pixel offsets from
the hot spot in the four cardinal directions (a cheap proxy for the radial
temperature profile of the treated zone).  The raw frame rides along for
full-frame persistence.
*/
package flir

import (
	"image"
	"time"

	"github.com/mesbahlab/goappj/instrument"
	"github.com/mesbahlab/goappj/temperature"
)

// Lepton 3.5 frame geometry
const (
	FrameWidth  = 160
	FrameHeight = 120
)

// ring offsets, in pixels from the hot spot
const (
	ringNear = 2
	ringFar  = 12
)

// DefaultID is the instrument identifier unless overridden
const DefaultID = "thermal"

// FrameSource is the camera transport boundary; the USB implementation
// and the simulator both satisfy it
type FrameSource interface {
	Open() error
	Close() error

	// Frame acquires one radiometric frame in centikelvin counts
	Frame() (*image.Gray16, error)
}

// Camera is the capability adapter over a FrameSource
type Camera struct {
	src FrameSource
	id  string

	// KeepFrames controls whether the raw frame is attached to samples
	// for persistence; statistics are computed either way
	KeepFrames bool
}

// New returns a Camera over the given transport
func New(src FrameSource) *Camera {
	return &Camera{src: src, id: DefaultID, KeepFrames: true}
}

// ID returns the instrument identifier
func (c *Camera) ID() string { return c.id }

// Connect opens the camera transport
func (c *Camera) Connect() error { return c.src.Open() }

// Disconnect closes the camera transport
func (c *Camera) Disconnect() error { return c.src.Close() }

// Read acquires one frame and reduces it
func (c *Camera) Read(timeout time.Duration) (instrument.Sample, *instrument.SampleError) {
	frame, err := c.src.Frame()
	if err != nil {
		// a camera that stops producing frames does not recover within
		// a run; the transports return nil frames only with an error
		return nil, instrument.Fatalf(c.id, err)
	}
	st := Reduce(frame)
	s := instrument.ThermalSample{
		Header: instrument.Header{ID: c.id, At: time.Now()},
		Max:    float64(st.Max),
		Mean:   float64(st.Mean),
		Ring2:  float64(st.RingNear),
		Ring12: float64(st.RingFar),
	}
	if c.KeepFrames {
		s.Frame = frame
	}
	return s, nil
}

// FrameStats is the reduction of one radiometric frame
type FrameStats struct {
	Max      temperature.Celsius
	Mean     temperature.Celsius
	RingNear temperature.Celsius
	RingFar  temperature.Celsius
	HotX     int
	HotY     int
}

// Reduce computes frame statistics from a centikelvin frame
func Reduce(frame *image.Gray16) FrameStats {
	b := frame.Bounds()
	var (
		maxCK      uint16
		sum        float64
		hotX, hotY int
	)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := frame.Gray16At(x, y).Y
			sum += float64(v)
			if v > maxCK {
				maxCK = v
				hotX, hotY = x, y
			}
		}
	}
	n := float64(b.Dx() * b.Dy())
	meanCK := temperature.Centikelvin(sum / n)
	return FrameStats{
		Max:      temperature.CK2C(temperature.Centikelvin(maxCK)),
		Mean:     temperature.CK2C(meanCK),
		RingNear: ringMean(frame, hotX, hotY, ringNear),
		RingFar:  ringMean(frame, hotX, hotY, ringFar),
		HotX:     hotX,
		HotY:     hotY,
	}
}

// ringMean averages the pixels at +-offset from (x, y) in the four
// cardinal directions, skipping any that fall outside the frame
func ringMean(frame *image.Gray16, x, y, offset int) temperature.Celsius {
	b := frame.Bounds()
	pts := []image.Point{
		{x + offset, y}, {x - offset, y}, {x, y + offset}, {x, y - offset},
	}
	var (
		sum float64
		n   int
	)
	for _, p := range pts {
		if !p.In(b) {
			continue
		}
		sum += float64(frame.Gray16At(p.X, p.Y).Y)
		n++
	}
	if n == 0 {
		return temperature.CK2C(temperature.Centikelvin(frame.Gray16At(x, y).Y))
	}
	return temperature.CK2C(temperature.Centikelvin(sum / float64(n)))
}
