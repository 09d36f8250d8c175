package oceanoptics

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"
)

// USB2000+ command opcodes, per the OEM data sheet
const (
	cmdInitialize         = 0x01
	cmdSetIntegrationTime = 0x02
	cmdQueryInformation   = 0x05
	cmdRequestSpectrum    = 0x09
)

// EEPROM slots holding the wavelength calibration polynomial
const (
	slotWavecalIntercept = 1
	slotWavecalC1        = 2
	slotWavecalC2        = 3
	slotWavecalC3        = 4
)

const (
	idVendor  = 0x2457 // Ocean Optics
	idProduct = 0x101e // USB2000+

	pixelCount   = 2048
	spectrumSync = 0x69 // final byte of a spectrum transfer
)

// USBDriver implements Driver over the spectrometer's native bulk
// protocol.  It is a minimum viable transport: single spectrometer, no
// trigger modes, strobe, or shutter control.
type USBDriver struct {
	ctx *gousb.Context
	dev *gousb.Device
	cfg *gousb.Config
	ifc *gousb.Interface
	out *gousb.OutEndpoint
	in  *gousb.InEndpoint
}

// NewUSBDriver returns an unopened USB driver
func NewUSBDriver() *USBDriver { return &USBDriver{} }

// Open claims the first USB2000+ on the bus and sends the initialize
// command
func (u *USBDriver) Open() error {
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
		return ErrDeviceGone
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return err
	}
	ifc, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return err
	}
	out, err := ifc.OutEndpoint(0x01)
	if err == nil {
		u.in, err = ifc.InEndpoint(0x82)
	}
	if err != nil {
		ifc.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return err
	}
	u.ctx, u.dev, u.cfg, u.ifc, u.out = ctx, dev, cfg, ifc, out
	_, err = u.out.Write([]byte{cmdInitialize})
	return err
}

// Close releases the interface and the device
func (u *USBDriver) Close() error {
	if u.dev == nil {
		return nil
	}
	u.ifc.Close()
	u.cfg.Close()
	err := u.dev.Close()
	u.ctx.Close()
	u.ctx, u.dev, u.cfg, u.ifc, u.out, u.in = nil, nil, nil, nil, nil, nil
	return err
}

// SetIntegrationTime programs the detector integration window.  The wire
// unit is microseconds, little endian.
func (u *USBDriver) SetIntegrationTime(d time.Duration) error {
	if u.out == nil {
		return ErrDeviceGone
	}
	buf := make([]byte, 5)
	buf[0] = cmdSetIntegrationTime
	binary.LittleEndian.PutUint32(buf[1:], uint32(d.Microseconds()))
	_, err := u.out.Write(buf)
	return err
}

// Wavelengths reads the calibration polynomial from EEPROM and evaluates
// it per pixel
func (u *USBDriver) Wavelengths() ([]float64, error) {
	coefs := make([]float64, 4)
	for i, slot := range []byte{slotWavecalIntercept, slotWavecalC1, slotWavecalC2, slotWavecalC3} {
		v, err := u.queryFloat(slot)
		if err != nil {
			return nil, err
		}
		coefs[i] = v
	}
	wl := make([]float64, pixelCount)
	for p := 0; p < pixelCount; p++ {
		x := float64(p)
		wl[p] = coefs[0] + coefs[1]*x + coefs[2]*x*x + coefs[3]*x*x*x
	}
	return wl, nil
}

// Intensities triggers and reads one spectrum
func (u *USBDriver) Intensities() ([]float64, error) {
	if u.out == nil {
		return nil, ErrDeviceGone
	}
	if _, err := u.out.Write([]byte{cmdRequestSpectrum}); err != nil {
		return nil, err
	}
	// 2048 pixels, 2 bytes each, followed by one sync byte
	raw := make([]byte, pixelCount*2+1)
	off := 0
	for off < len(raw) {
		n, err := u.in.Read(raw[off:])
		if err != nil {
			return nil, err
		}
		off += n
	}
	if raw[len(raw)-1] != spectrumSync {
		return nil, fmt.Errorf("oceanoptics: spectrum sync byte missing, got %#x", raw[len(raw)-1])
	}
	out := make([]float64, pixelCount)
	for p := 0; p < pixelCount; p++ {
		out[p] = float64(binary.LittleEndian.Uint16(raw[2*p : 2*p+2]))
	}
	return out, nil
}

// queryFloat reads one EEPROM slot, which the device returns as ASCII
func (u *USBDriver) queryFloat(slot byte) (float64, error) {
	if _, err := u.out.Write([]byte{cmdQueryInformation, slot}); err != nil {
		return 0, err
	}
	buf := make([]byte, 17)
	n, err := u.in.Read(buf)
	if err != nil {
		return 0, err
	}
	// response: echo of the command and slot, then a NUL padded ASCII value
	if n < 3 {
		return 0, fmt.Errorf("oceanoptics: short EEPROM response for slot %d", slot)
	}
	s := strings.TrimRight(string(buf[2:n]), "\x00")
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
