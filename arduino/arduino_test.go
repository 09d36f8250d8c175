package arduino_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mesbahlab/goappj/arduino"
	"github.com/mesbahlab/goappj/instrument"
)

// fakeConn stands in for the serial port: reads come from a preloaded
// buffer, writes are captured
type fakeConn struct {
	rd bytes.Buffer
	wr bytes.Buffer
}

func (f *fakeConn) Read(p []byte) (int, error)  { return f.rd.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error) { return f.wr.Write(p) }
func (f *fakeConn) Close() error                { return nil }

func testLine() string {
	return arduino.FrameTelemetry(arduino.Telemetry{
		Millis:    123456,
		Voltage:   8.2,
		Frequency: 20,
		Flow:      2.5,
		TempEmb:   31.4,
		PowerSet:  2,
		PowerEmb:  1.93,
	})
}

func TestTelemetryRoundTrip(t *testing.T) {
	line := testLine()
	tel, err := arduino.ParseTelemetry(line)
	if err != nil {
		t.Fatalf("parse framed line: %v", err)
	}
	if tel.Voltage != 8.2 || tel.Flow != 2.5 || tel.PowerEmb != 1.93 {
		t.Errorf("fields did not round trip: %+v", tel)
	}
}

func TestParseTelemetryTrimsLineEndings(t *testing.T) {
	if _, err := arduino.ParseTelemetry(testLine() + "\r\n"); err != nil {
		t.Errorf("CRLF terminated line rejected: %v", err)
	}
}

func TestParseTelemetryRejectsBadCRC(t *testing.T) {
	line := testLine()
	// corrupt a payload digit without touching the CRC field
	bad := strings.Replace(line, "123456", "123457", 1)
	_, err := arduino.ParseTelemetry(bad)
	if !errors.Is(err, arduino.ErrBadCRC) {
		t.Errorf("expected ErrBadCRC, got %v", err)
	}
}

func TestParseTelemetryRejectsShortLine(t *testing.T) {
	for _, line := range []string{"", "42", "1,2,3,FF"} {
		if _, err := arduino.ParseTelemetry(line); err == nil {
			t.Errorf("line %q accepted, expected an error", line)
		}
	}
}

func TestParseTelemetryRejectsNonHexCRC(t *testing.T) {
	line := testLine()
	idx := strings.LastIndex(line, ",")
	if _, err := arduino.ParseTelemetry(line[:idx] + ",ZZ"); err == nil {
		t.Errorf("non-hex CRC field accepted")
	}
}

func TestValuesCarriesEmbeddedChannels(t *testing.T) {
	tel := arduino.Telemetry{PowerEmb: 1.9, TempEmb: 30, Flow: 2.5}
	vals := tel.Values()
	if vals["power_emb"] != 1.9 || vals["temp_emb"] != 30 || vals["flow_slm"] != 2.5 {
		t.Errorf("values map missing channels: %v", vals)
	}
}

func TestApplyWritesSetpointLine(t *testing.T) {
	jet := arduino.NewJet("/dev/null")
	conn := &fakeConn{}
	jet.Conn = conn

	sp := instrument.Setpoint{Power: 2.5, Flow: 3.25}
	if serr := jet.Apply(sp, time.Second); serr != nil {
		t.Fatalf("apply: %v", serr)
	}
	if got := conn.wr.String(); got != "s,2.50,3.25\n" {
		t.Errorf("wrote %q, expected s,2.50,3.25 with newline", got)
	}
	if last, ok := jet.LastApplied(); !ok || last != sp {
		t.Errorf("LastApplied = %v/%v, expected %v", last, ok, sp)
	}
}

func TestApplyIsIdempotentForRepeatedSetpoint(t *testing.T) {
	jet := arduino.NewJet("/dev/null")
	conn := &fakeConn{}
	jet.Conn = conn

	sp := instrument.Setpoint{Power: 1.5, Flow: 2}
	for i := 0; i < 3; i++ {
		if serr := jet.Apply(sp, time.Second); serr != nil {
			t.Fatalf("apply %d: %v", i, serr)
		}
	}
	if n := strings.Count(conn.wr.String(), "\n"); n != 1 {
		t.Errorf("repeated setpoint wrote %d lines, expected 1", n)
	}
}

func TestApplyWithoutConnectionIsFatal(t *testing.T) {
	jet := arduino.NewJet("/dev/null")
	serr := jet.Apply(instrument.Setpoint{Power: 1}, time.Second)
	if serr == nil || serr.Kind != instrument.KindFatal {
		t.Fatalf("expected fatal error on closed line, got %v", serr)
	}
}

func TestReadDecodesTelemetryStream(t *testing.T) {
	jet := arduino.NewJet("/dev/null")
	conn := &fakeConn{}
	conn.rd.WriteString(testLine() + "\n")
	jet.Conn = conn

	smp, serr := jet.Read(time.Second)
	if serr != nil {
		t.Fatalf("read: %v", serr)
	}
	aux, ok := smp.(instrument.AuxSample)
	if !ok {
		t.Fatalf("sample is %T, expected AuxSample", smp)
	}
	if aux.Instrument() != arduino.DefaultID {
		t.Errorf("instrument id %q, expected %q", aux.Instrument(), arduino.DefaultID)
	}
	if aux.Values["power_emb"] != 1.93 {
		t.Errorf("power_emb %v, expected 1.93", aux.Values["power_emb"])
	}
}

func TestReadCorruptLineIsTransient(t *testing.T) {
	jet := arduino.NewJet("/dev/null")
	conn := &fakeConn{}
	conn.rd.WriteString("1,2,3,garbage,FF\n")
	jet.Conn = conn

	_, serr := jet.Read(time.Second)
	if serr == nil || serr.Kind != instrument.KindTransient {
		t.Fatalf("expected transient error for a garbled line, got %v", serr)
	}
}
