package flir

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/mesbahlab/goappj/temperature"
)

// SimSource implements FrameSource without hardware, synthesizing a
// Gaussian hot spot that warms toward a plateau over successive frames,
// which is roughly what a substrate under the jet does
type SimSource struct {
	sync.Mutex

	// Ambient and Plateau bound the simulated surface temperature
	Ambient temperature.Celsius
	Plateau temperature.Celsius

	// Fail, if non-nil, is returned by the next Frame call and cleared
	Fail error

	frames int
	open   bool
}

// NewSimSource returns a simulator with lab-typical temperatures
func NewSimSource() *SimSource {
	return &SimSource{Ambient: 22, Plateau: 45}
}

// Open marks the simulator open
func (s *SimSource) Open() error {
	s.Lock()
	defer s.Unlock()
	s.open = true
	s.frames = 0
	return nil
}

// Close marks the simulator closed
func (s *SimSource) Close() error {
	s.Lock()
	defer s.Unlock()
	s.open = false
	return nil
}

// Frame synthesizes one centikelvin frame
func (s *SimSource) Frame() (*image.Gray16, error) {
	s.Lock()
	defer s.Unlock()
	if s.Fail != nil {
		err := s.Fail
		s.Fail = nil
		return nil, err
	}
	// first order approach to the plateau, tau of 20 frames
	rise := float64(s.Plateau-s.Ambient) * (1 - math.Exp(-float64(s.frames)/20))
	peak := float64(s.Ambient) + rise
	s.frames++

	frame := image.NewGray16(image.Rect(0, 0, FrameWidth, FrameHeight))
	cx, cy := FrameWidth/2, FrameHeight/2
	const sigma = 8.0
	for y := 0; y < FrameHeight; y++ {
		for x := 0; x < FrameWidth; x++ {
			dx, dy := float64(x-cx), float64(y-cy)
			t := float64(s.Ambient) + (peak-float64(s.Ambient))*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			ck := temperature.C2CK(temperature.Celsius(t))
			frame.SetGray16(x, y, color.Gray16{Y: uint16(ck)})
		}
	}
	return frame, nil
}
