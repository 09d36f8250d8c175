/*Package comm provides the transport layer used by the jet's serial and
network attached instruments.

A RemoteDevice wraps either an RS232 line or a TCP socket behind one
interface: Open (with retry and backoff, since the jet's microcontroller
resets its USB CDC stack when connection-thrashed), Send/Recv with
terminator framing, and Close.  Adapters embed a RemoteDevice and build
their command vocabulary on top of it.
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when Send or Recv is called before Open
	ErrNotConnected = errors.New("comm: conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not
	// found in a response
	ErrTerminatorNotFound = errors.New("comm: termination byte not found")
)

// Terminators holds the Tx and Rx framing bytes for a device
type Terminators struct {
	Tx byte
	Rx byte
}

// CarriageReturn is the default framing used by most of the lab's devices
var CarriageReturn = Terminators{Tx: '\r', Rx: '\r'}

// RemoteDevice is a serial or TCP connected piece of hardware.
// The zero value is not usable; create one with NewRemoteDevice.
type RemoteDevice struct {
	// Addr is the filesystem or network address of the device,
	// e.g. /dev/ttyACM0 or 192.168.100.23:2006
	Addr string

	// IsSerial selects RS232 (true) or TCP (false)
	IsSerial bool

	// Timeout bounds connect, read and write on the underlying transport
	Timeout time.Duration

	// Conn is the open connection; nil when closed.  Exposed so tests can
	// substitute an in-memory pipe.
	Conn io.ReadWriteCloser

	term   Terminators
	serCfg *serial.Config
}

// NewRemoteDevice returns a RemoteDevice with a 1 second default timeout.
// term may be nil for carriage return framing; serCfg may be nil for TCP
// devices.
func NewRemoteDevice(addr string, isSerial bool, term *Terminators, serCfg *serial.Config) RemoteDevice {
	if term == nil {
		t := CarriageReturn
		term = &t
	}
	return RemoteDevice{
		Addr:     addr,
		IsSerial: isSerial,
		Timeout:  time.Second,
		term:     *term,
		serCfg:   serCfg}
}

// Open establishes the connection, retrying with exponential backoff.
// Refused or nonexistent addresses fail fast; timeouts are retried until
// the elapsed budget (3s) is spent.
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") || strings.Contains(errS, "no such") {
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil && wasTimeout {
		return fmt.Errorf("comm: connection timeout to %s", rd.Addr)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.IsSerial {
		cfg := rd.serCfg
		if cfg == nil {
			cfg = &serial.Config{Name: rd.Addr, Baud: 9600, ReadTimeout: rd.Timeout}
		}
		conn, err = serial.OpenPort(cfg)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing Conn.  Safe to call when already closed.
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	return err
}

// Send writes data to the remote, appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.refreshDeadline()
	b = append(b, rd.term.Tx)
	_, err := rd.Conn.Write(b)
	return err
}

// Recv reads from the remote up to the Rx terminator and strips it
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	rd.refreshDeadline()
	buf, err := bufio.NewReader(rd.Conn).ReadBytes(rd.term.Rx)
	if err != nil {
		return nil, err
	}
	if bytes.HasSuffix(buf, []byte{rd.term.Rx}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a command and returns the terminator-stripped response
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	if err := rd.Send(b); err != nil {
		return nil, err
	}
	return rd.Recv()
}

// refreshDeadline pushes the read/write deadline forward on TCP conns.
// Serial timeouts are fixed in the port config at open time.
func (rd *RemoteDevice) refreshDeadline() {
	if conn, ok := rd.Conn.(net.Conn); ok {
		deadline := time.Now().Add(rd.Timeout)
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}
}

// TCPSetup opens a new TCP connection and sets a timeout on connect,
// read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
