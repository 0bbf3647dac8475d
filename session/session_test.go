package session

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vaxipc/fd"
	"vaxipc/proto"
	"vaxipc/registry"
	"vaxipc/transport"
	"vaxipc/vaxerr"
	"vaxipc/wire"
)

func demoTable() *proto.Table {
	return proto.NewTable([]proto.ProtocolSpec{
		{
			Name:    "demo",
			Version: 1,
			Objects: []proto.ObjectSpec{
				{
					ObjectName: "demo_object",
					C2S: []proto.Method{
						{Idx: 0, Name: "greet", Params: []proto.ParamSpec{
							{Magic: wire.MagicUint},
							{Magic: wire.MagicVarchar},
						}},
						{Idx: 1, Name: "send_fd", Params: []proto.ParamSpec{
							{Magic: wire.MagicFD},
						}},
					},
					S2C: []proto.Method{
						{Idx: 0, Name: "pong", Params: []proto.ParamSpec{
							{Magic: wire.MagicUint},
						}},
					},
				},
			},
		},
	})
}

func dialedPair(t *testing.T) (serverConn, clientConn *net.UnixConn) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "vaxipc.sock")

	ln, err := transport.Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	acceptedCh := make(chan *net.UnixConn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptedCh <- nil
			return
		}
		acceptedCh <- conn.(*net.UnixConn)
	}()

	clientConn, err = transport.Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	serverConn = <-acceptedCh
	if serverConn == nil {
		t.Fatalf("Accept failed")
	}
	t.Cleanup(func() { serverConn.Close() })
	return serverConn, clientConn
}

func TestHandshakeHappyPath(t *testing.T) {
	serverConn, clientConn := dialedPair(t)

	srv := NewServerSession(serverConn, demoTable(), []uint32{1})
	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	clientReg := registry.New(demoTable(), false)
	cli := NewClientSession(clientConn, clientReg)
	advertised, err := cli.Handshake(1)
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if len(advertised) != 1 || advertised[0] != "demo@1" {
		t.Fatalf("advertised = %v", advertised)
	}
	if cli.State() != Bound {
		t.Fatalf("client state = %v, want Bound", cli.State())
	}
	if srv.State() != Bound {
		t.Fatalf("server state = %v, want Bound", srv.State())
	}

	cli.Close()
	<-done
}

func TestBindAndDispatch(t *testing.T) {
	serverConn, clientConn := dialedPair(t)

	srv := NewServerSession(serverConn, demoTable(), []uint32{1})
	var gotSeq uint32
	var gotMsg string
	invoked := make(chan struct{}, 1)

	go func() {
		// Wait for BIND_PROTOCOL to register the instance, then attach a
		// listener before the client's GENERIC_PROTOCOL_MESSAGE arrives.
		// handled inline below via a hook after Bind completes client-side.
		_ = srv.Run()
	}()

	clientReg := registry.New(demoTable(), false)
	cli := NewClientSession(clientConn, clientReg)
	if _, err := cli.Handshake(1); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	cli.StartRecvLoop()

	handle, err := cli.Bind("demo@1")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if handle != 1 {
		t.Fatalf("handle = %d, want 1", handle)
	}

	srvInst, ok := srv.Registry().Lookup(handle)
	if !ok {
		t.Fatalf("server registry has no instance for handle %d", handle)
	}
	srvInst.SetListener(0, func(args []any) error {
		gotSeq = args[0].(uint32)
		gotMsg = args[1].(string)
		invoked <- struct{}{}
		return nil
	})

	data, fds, err := clientReg.Call(handle, 0, uint32(42), "hi")
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if err := transport.SendWithFDs(clientConn, data, fds); err != nil {
		t.Fatalf("SendWithFDs failed: %v", err)
	}

	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatalf("listener was not invoked")
	}
	if gotSeq != 42 || gotMsg != "hi" {
		t.Fatalf("listener got (%d, %q)", gotSeq, gotMsg)
	}

	cli.Close()
}

func TestFDPassing(t *testing.T) {
	serverConn, clientConn := dialedPair(t)

	srv := NewServerSession(serverConn, demoTable(), []uint32{1})
	go func() { _ = srv.Run() }()

	clientReg := registry.New(demoTable(), false)
	cli := NewClientSession(clientConn, clientReg)
	if _, err := cli.Handshake(1); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	cli.StartRecvLoop()

	handle, err := cli.Bind("demo@1")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	tmpFile, err := os.CreateTemp(t.TempDir(), "payload")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer tmpFile.Close()
	wantStat, err := tmpFile.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	gotFD := make(chan int, 1)
	srvInst, _ := srv.Registry().Lookup(handle)
	srvInst.SetListener(1, func(args []any) error {
		raw := args[0].(*fd.FD).IntoRaw()
		gotFD <- raw
		return nil
	})

	data, fds, err := clientReg.Call(handle, 1, int(tmpFile.Fd()))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if err := transport.SendWithFDs(clientConn, data, fds); err != nil {
		t.Fatalf("SendWithFDs failed: %v", err)
	}

	select {
	case raw := <-gotFD:
		received := os.NewFile(uintptr(raw), "received")
		defer received.Close()
		gotStat, err := received.Stat()
		if err != nil {
			t.Fatalf("Stat on received fd failed: %v", err)
		}
		if !os.SameFile(wantStat, gotStat) {
			t.Fatalf("received FD does not refer to the same inode as the sent file")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listener was not invoked")
	}

	cli.Close()
}

func TestUnknownProtocolBind(t *testing.T) {
	serverConn, clientConn := dialedPair(t)

	srv := NewServerSession(serverConn, demoTable(), []uint32{1})
	go func() { _ = srv.Run() }()

	clientReg := registry.New(demoTable(), false)
	cli := NewClientSession(clientConn, clientReg)
	if _, err := cli.Handshake(1); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	cli.StartRecvLoop()

	_, err := cli.Bind("missing@1")
	if err == nil {
		t.Fatalf("expected Bind to fail for unknown protocol")
	}
	var fe *vaxerr.FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *vaxerr.FatalError", err)
	}
	if fe.Idx != vaxerr.UnknownProtocol {
		t.Fatalf("idx = %v, want UnknownProtocol", fe.Idx)
	}
}

func TestRoundtripOrdering(t *testing.T) {
	serverConn, clientConn := dialedPair(t)

	srv := NewServerSession(serverConn, demoTable(), []uint32{1})
	go func() { _ = srv.Run() }()

	clientReg := registry.New(demoTable(), false)
	cli := NewClientSession(clientConn, clientReg)
	if _, err := cli.Handshake(1); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	cli.StartRecvLoop()

	handle, err := cli.Bind("demo@1")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	var effects []string
	done := make(chan struct{}, 2)
	srvInst, _ := srv.Registry().Lookup(handle)
	srvInst.SetListener(0, func(args []any) error {
		effects = append(effects, args[1].(string))
		done <- struct{}{}
		return nil
	})

	for _, msg := range []string{"A", "B"} {
		data, fds, err := clientReg.Call(handle, 0, uint32(0), msg)
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if err := transport.SendWithFDs(clientConn, data, fds); err != nil {
			t.Fatalf("SendWithFDs failed: %v", err)
		}
	}
	<-done
	<-done

	if err := cli.Roundtrip(2 * time.Second); err != nil {
		t.Fatalf("Roundtrip failed: %v", err)
	}
	if len(effects) != 2 || effects[0] != "A" || effects[1] != "B" {
		t.Fatalf("effects = %v, want [A B] observed before ROUNDTRIP_DONE", effects)
	}

	cli.Close()
}

func TestSoftListenerErrorDoesNotEndSession(t *testing.T) {
	serverConn, clientConn := dialedPair(t)

	srv := NewServerSession(serverConn, demoTable(), []uint32{1})
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run() }()

	clientReg := registry.New(demoTable(), false)
	cli := NewClientSession(clientConn, clientReg)
	if _, err := cli.Handshake(1); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	cli.StartRecvLoop()

	handle, err := cli.Bind("demo@1")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	var calls int
	srvInst, _ := srv.Registry().Lookup(handle)
	srvInst.SetListener(0, func(args []any) error {
		calls++
		return vaxerr.Soft(errors.New("transient failure, keep going"))
	})

	for _, msg := range []string{"first", "second"} {
		data, fds, err := clientReg.Call(handle, 0, uint32(0), msg)
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if err := transport.SendWithFDs(clientConn, data, fds); err != nil {
			t.Fatalf("SendWithFDs failed: %v", err)
		}
	}

	if err := cli.Roundtrip(2 * time.Second); err != nil {
		t.Fatalf("Roundtrip failed after soft listener errors: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (soft errors must not have ended the session early)", calls)
	}

	cli.Close()
	if err := <-runDone; err != nil {
		t.Fatalf("Run ended with an error after a clean client close: %v", err)
	}
}

func TestMalformedMagicInDispatch(t *testing.T) {
	serverConn, clientConn := dialedPair(t)

	srv := NewServerSession(serverConn, demoTable(), []uint32{1})
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run() }()

	clientReg := registry.New(demoTable(), false)
	cli := NewClientSession(clientConn, clientReg)
	if _, err := cli.Handshake(1); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	cli.StartRecvLoop()

	handle, err := cli.Bind("demo@1")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	srvInst, _ := srv.Registry().Lookup(handle)
	srvInst.SetListener(0, func(args []any) error { return nil })

	// Method 0 declares UINT, VARCHAR — send UINT, UINT instead.
	b := wire.NewBuilder(wire.GenericProtocolMessage)
	b.AddObjectID(handle)
	b.AddUint(0)
	b.AddUint(1)
	b.AddUint(2)
	data, fds := b.Finish()
	if err := transport.SendWithFDs(clientConn, data, fds); err != nil {
		t.Fatalf("SendWithFDs failed: %v", err)
	}

	if err := <-runDone; err == nil {
		t.Fatalf("expected server Run to end with an error after FATAL_PROTOCOL_ERROR")
	}
}
