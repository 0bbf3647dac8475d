package transport

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestFrameRoundTripNoFDs(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "vaxipc.sock")

	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan *net.UnixConn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptedCh <- nil
			return
		}
		acceptedCh <- conn.(*net.UnixConn)
	}()

	clientConn, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer clientConn.Close()

	serverConn := <-acceptedCh
	if serverConn == nil {
		t.Fatalf("Accept failed")
	}
	defer serverConn.Close()

	payload := []byte{0x01, 0x06, 0x03, 'V', 'A', 'X', 0xFF}
	if err := SendWithFDs(clientConn, payload, nil); err != nil {
		t.Fatalf("SendWithFDs failed: %v", err)
	}

	msg, err := ParseFrame(serverConn)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if string(msg.Data) != string(payload) {
		t.Fatalf("got %x, want %x", msg.Data, payload)
	}
	if len(msg.FDs) != 0 {
		t.Fatalf("expected no FDs, got %d", len(msg.FDs))
	}
}

func TestFrameRoundTripWithFD(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "vaxipc.sock")

	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan *net.UnixConn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptedCh <- nil
			return
		}
		acceptedCh <- conn.(*net.UnixConn)
	}()

	clientConn, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer clientConn.Close()

	serverConn := <-acceptedCh
	if serverConn == nil {
		t.Fatalf("Accept failed")
	}
	defer serverConn.Close()

	tmpFile, err := os.CreateTemp(dir, "payload")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer tmpFile.Close()
	if _, err := tmpFile.WriteString("hello"); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}

	payload := []byte{byte(100), 0xFF}
	if err := SendWithFDs(clientConn, payload, []int{int(tmpFile.Fd())}); err != nil {
		t.Fatalf("SendWithFDs failed: %v", err)
	}

	msg, err := ParseFrame(serverConn)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if len(msg.FDs) != 1 {
		t.Fatalf("expected 1 FD, got %d", len(msg.FDs))
	}

	wantStat, err := tmpFile.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	received := os.NewFile(uintptr(msg.FDs[0]), "received")
	defer received.Close()
	gotStat, err := received.Stat()
	if err != nil {
		t.Fatalf("Stat on received fd failed: %v", err)
	}
	if !os.SameFile(wantStat, gotStat) {
		t.Fatalf("received FD does not refer to the same inode as the sent file")
	}
}

func TestParseFrameEOFOnPeerClose(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "vaxipc.sock")

	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan *net.UnixConn, 1)
	go func() {
		conn, _ := ln.Accept()
		acceptedCh <- conn.(*net.UnixConn)
	}()

	clientConn, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	serverConn := <-acceptedCh

	clientConn.Close()

	_, err = ParseFrame(serverConn)
	if err != io.EOF {
		t.Fatalf("ParseFrame err = %v, want io.EOF", err)
	}
}

func TestZeroValueRawParsedMessageNotBad(t *testing.T) {
	// A frame whose only control data is not SCM_RIGHTS cannot be produced
	// through this package's own API (we never send anything else), so
	// this documents the contract via the zero-value struct instead of a
	// live socket exchange: Bad defaults false, and is the only field the
	// session layer checks before trusting Data.
	msg := &RawParsedMessage{}
	if msg.Bad {
		t.Fatalf("zero-value RawParsedMessage must not be marked bad")
	}
}
