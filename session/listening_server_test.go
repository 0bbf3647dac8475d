package session

import (
	"path/filepath"
	"testing"
	"time"

	"vaxipc/logging"
	"vaxipc/registry"
	"vaxipc/transport"
)

func TestServerAcceptsAndShutsDownGracefully(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "vaxipc.sock")
	srv := NewServer(demoTable(), []uint32{1}, logging.Component("test"))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(sockPath) }()

	// Give the accept loop a moment to start listening.
	time.Sleep(50 * time.Millisecond)

	conn, err := transport.Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	cli := NewClientSession(conn, registry.New(demoTable(), false))
	if _, err := cli.Handshake(1); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	cli.Close()

	if err := srv.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := <-serveErr; err != nil {
		t.Fatalf("Serve returned error after Shutdown: %v", err)
	}
}
