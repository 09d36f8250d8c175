package instrument_test

import (
	"errors"
	"io"
	"testing"

	"github.com/mesbahlab/goappj/instrument"
)

func TestErrorKindsRetryability(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		err       *instrument.SampleError
		retryable bool
	}{
		{instrument.Timeoutf("a", cause), true},
		{instrument.Transientf("a", cause), true},
		{instrument.Fatalf("a", cause), false},
	}
	for _, c := range cases {
		if c.err.Retryable() != c.retryable {
			t.Errorf("%v: Retryable() = %v, expected %v", c.err.Kind, c.err.Retryable(), c.retryable)
		}
	}
}

func TestSampleErrorUnwraps(t *testing.T) {
	serr := instrument.Fatalf("spectrometer", io.ErrUnexpectedEOF)
	if !errors.Is(serr, io.ErrUnexpectedEOF) {
		t.Errorf("expected errors.Is to find the cause through SampleError")
	}
}

func TestSampleErrorMessageNamesInstrument(t *testing.T) {
	serr := instrument.Transientf("arduino", errors.New("CRC mismatch"))
	msg := serr.Error()
	if msg != "arduino: transient: CRC mismatch" {
		t.Errorf("unexpected error format: %q", msg)
	}
	bare := &instrument.SampleError{Instrument: "thermal", Kind: instrument.KindFatal}
	if bare.Error() != "thermal: fatal" {
		t.Errorf("unexpected causeless format: %q", bare.Error())
	}
}

func TestZeroSetpointIsAllZeroes(t *testing.T) {
	if instrument.Zero.Power != 0 || instrument.Zero.Flow != 0 {
		t.Errorf("zero setpoint is %+v", instrument.Zero)
	}
}
