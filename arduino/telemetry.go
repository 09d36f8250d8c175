package arduino

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/snksoft/crc"
)

// the firmware appends a CRC-8 of the payload (everything before the last
// comma) as an uppercase hex field, recomputed here with the same
// polynomial (CRC-8/MAXIM; snksoft/crc predefines no 8-bit table)
var crcTable = crc.NewTable(&crc.Parameters{
	Width: 8, Polynomial: 0x31, Init: 0x00,
	ReflectIn: true, ReflectOut: true, FinalXor: 0x00,
})

var (
	// ErrBadCRC is generated when a telemetry line fails its checksum
	ErrBadCRC = errors.New("arduino: telemetry CRC mismatch")

	// ErrShortLine is generated when a telemetry line has too few fields
	ErrShortLine = errors.New("arduino: telemetry line too short")
)

// nFields is the field count of a telemetry line, CRC included
const nFields = 16

// Telemetry is one embedded measurement line from the firmware
type Telemetry struct {
	Millis     float64 // firmware clock, ms
	Voltage    float64 // applied peak to peak voltage, V
	Frequency  float64 // excitation frequency, kHz
	Flow       float64 // helium flow rate, SLM
	Separation float64 // jet tip to substrate distance, mm
	DutyCycle  float64 // percent
	Intensity  float64 // embedded optical intensity, arb
	VoltageEmb float64 // embedded voltage measurement, V
	TempEmb    float64 // embedded temperature, C
	CurrentEmb float64 // embedded current, mA
	X          float64 // stage X position, mm
	Y          float64 // stage Y position, mm
	OxygenFlow float64 // oxygen flow rate, SLM
	PowerSet   float64 // power setpoint echo, W
	PowerEmb   float64 // embedded power measurement, W
}

// ParseTelemetry validates and decodes one line of firmware telemetry
func ParseTelemetry(line string) (Telemetry, error) {
	var t Telemetry
	line = strings.TrimRight(line, "\r\n")
	idx := strings.LastIndex(line, ",")
	if idx < 0 {
		return t, ErrShortLine
	}
	payload, crcField := line[:idx], line[idx+1:]
	want, err := strconv.ParseUint(crcField, 16, 8)
	if err != nil {
		return t, fmt.Errorf("arduino: CRC field %q not hex: %w", crcField, err)
	}
	if got := crcTable.CalculateCRC([]byte(payload)); got != want {
		return t, ErrBadCRC
	}
	fields := strings.Split(payload, ",")
	if len(fields) != nFields-1 {
		return t, ErrShortLine
	}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return t, fmt.Errorf("arduino: field %d %q not numeric: %w", i, f, err)
		}
		vals[i] = v
	}
	t = Telemetry{
		Millis:     vals[0],
		Voltage:    vals[1],
		Frequency:  vals[2],
		Flow:       vals[3],
		Separation: vals[4],
		DutyCycle:  vals[5],
		Intensity:  vals[6],
		VoltageEmb: vals[7],
		TempEmb:    vals[8],
		CurrentEmb: vals[9],
		X:          vals[10],
		Y:          vals[11],
		OxygenFlow: vals[12],
		PowerSet:   vals[13],
		PowerEmb:   vals[14],
	}
	return t, nil
}

// FrameTelemetry encodes a telemetry struct as a firmware line, CRC
// included.  Used by the simulator and the manual line check command.
func FrameTelemetry(t Telemetry) string {
	vals := []float64{
		t.Millis, t.Voltage, t.Frequency, t.Flow, t.Separation,
		t.DutyCycle, t.Intensity, t.VoltageEmb, t.TempEmb, t.CurrentEmb,
		t.X, t.Y, t.OxygenFlow, t.PowerSet, t.PowerEmb,
	}
	strs := make([]string, len(vals))
	for i, v := range vals {
		strs[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	payload := strings.Join(strs, ",")
	sum := crcTable.CalculateCRC([]byte(payload))
	return fmt.Sprintf("%s,%02X", payload, sum)
}

// Values flattens the telemetry into named channels for an AuxSample
func (t Telemetry) Values() map[string]float64 {
	return map[string]float64{
		"millis":      t.Millis,
		"voltage_pp":  t.Voltage,
		"frequency":   t.Frequency,
		"flow_slm":    t.Flow,
		"separation":  t.Separation,
		"duty_cycle":  t.DutyCycle,
		"intensity":   t.Intensity,
		"voltage_emb": t.VoltageEmb,
		"temp_emb":    t.TempEmb,
		"current_emb": t.CurrentEmb,
		"x_pos":       t.X,
		"y_pos":       t.Y,
		"oxygen_slm":  t.OxygenFlow,
		"power_set":   t.PowerSet,
		"power_emb":   t.PowerEmb,
	}
}
