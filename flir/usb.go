package flir

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"github.com/google/gousb"
)

// PureThermal carrier board IDs
const (
	idVendor  = 0x1e4e
	idProduct = 0x0100
)

// ErrNoCamera is generated when no PureThermal board is on the bus
var ErrNoCamera = errors.New("flir: no PureThermal camera found")

// vospi frame transfer sizing: 16 bit pixels, width*height, plus a 4 byte
// frame counter header prepended by the carrier firmware
const frameTransferSize = 4 + FrameWidth*FrameHeight*2

// USBSource implements FrameSource over the PureThermal board's bulk
// frame endpoint
type USBSource struct {
	ctx *gousb.Context
	dev *gousb.Device
	cfg *gousb.Config
	ifc *gousb.Interface
	in  *gousb.InEndpoint
}

// NewUSBSource returns an unopened USB frame source
func NewUSBSource() *USBSource { return &USBSource{} }

// Open claims the first PureThermal board on the bus
func (u *USBSource) Open() error {
	if u.dev != nil {
		return nil
	}
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(idVendor, idProduct)
	if err != nil {
		ctx.Close()
		return err
	}
	if dev == nil {
		ctx.Close()
		return ErrNoCamera
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return err
	}
	ifc, err := cfg.Interface(1, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return err
	}
	in, err := ifc.InEndpoint(0x83)
	if err != nil {
		ifc.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return err
	}
	u.ctx, u.dev, u.cfg, u.ifc, u.in = ctx, dev, cfg, ifc, in
	return nil
}

// Close releases the interface and the device
func (u *USBSource) Close() error {
	if u.dev == nil {
		return nil
	}
	u.ifc.Close()
	u.cfg.Close()
	err := u.dev.Close()
	u.ctx.Close()
	u.ctx, u.dev, u.cfg, u.ifc, u.in = nil, nil, nil, nil, nil
	return err
}

// Frame reads one radiometric frame from the bulk endpoint
func (u *USBSource) Frame() (*image.Gray16, error) {
	if u.in == nil {
		return nil, ErrNoCamera
	}
	raw := make([]byte, frameTransferSize)
	off := 0
	for off < len(raw) {
		n, err := u.in.Read(raw[off:])
		if err != nil {
			return nil, fmt.Errorf("flir: frame read failed at byte %d: %w", off, err)
		}
		off += n
	}
	// skip the frame counter, repack the centikelvin counts big endian
	// the way image.Gray16 stores them
	frame := image.NewGray16(image.Rect(0, 0, FrameWidth, FrameHeight))
	payload := raw[4:]
	for i := 0; i < FrameWidth*FrameHeight; i++ {
		v := binary.LittleEndian.Uint16(payload[2*i : 2*i+2])
		binary.BigEndian.PutUint16(frame.Pix[2*i:2*i+2], v)
	}
	return frame, nil
}
