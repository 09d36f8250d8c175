package comm_test

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/mesbahlab/goappj/comm"
)

func tcpEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }()
		}
	}()
	return ln.Addr().String()
}

func TestSendRecvFramesWithTerminators(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, nil, nil)
	if err := rd.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rd.Close()

	resp, err := rd.SendRecv([]byte("MEAS?"))
	if err != nil {
		t.Fatalf("send/recv: %v", err)
	}
	if string(resp) != "MEAS?" {
		t.Errorf("echo returned %q, expected terminator-stripped MEAS?", resp)
	}
}

func TestCustomTerminators(t *testing.T) {
	addr := tcpEchoServer(t)
	term := comm.Terminators{Tx: '\n', Rx: '\n'}
	rd := comm.NewRemoteDevice(addr, false, &term, nil)
	if err := rd.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rd.Close()

	resp, err := rd.SendRecv([]byte("s,2.00,3.00"))
	if err != nil {
		t.Fatalf("send/recv: %v", err)
	}
	if string(resp) != "s,2.00,3.00" {
		t.Errorf("echo returned %q", resp)
	}
}

func TestSendBeforeOpenErrors(t *testing.T) {
	rd := comm.NewRemoteDevice("localhost:1", false, nil, nil)
	if err := rd.Send([]byte("x")); !errors.Is(err, comm.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := rd.Recv(); !errors.Is(err, comm.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestOpenRefusedFailsFast(t *testing.T) {
	// grab a port then close it so nothing is listening
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	rd := comm.NewRemoteDevice(addr, false, nil, nil)
	start := time.Now()
	if err := rd.Open(); err == nil {
		rd.Close()
		t.Fatalf("expected open to a dead port to fail")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("refused connection took %v, should fail fast without burning the backoff budget", elapsed)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, nil, nil)
	if err := rd.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := rd.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err := rd.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, nil, nil)
	if err := rd.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rd.Close()
	conn := rd.Conn
	if err := rd.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if rd.Conn != conn {
		t.Errorf("reopen replaced a live connection")
	}
}
