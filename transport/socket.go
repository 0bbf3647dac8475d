// Package transport implements the frame layer and socket transport: it
// sends and receives whole logical messages over one connected
// AF_UNIX/SOCK_STREAM socket, carrying 0..N file descriptors per frame
// via SCM_RIGHTS. It does not interpret message bodies — that is the
// session layer's job (spec §4.3).
package transport

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Backlog is the listen backlog for server sockets (spec §6).
const Backlog = 128

// Listen creates (or re-creates) a Unix domain stream socket at path and
// starts listening with Backlog pending connections, CLOEXEC set.
//
// Socket creation goes through golang.org/x/sys/unix rather than
// net.Listen so the backlog value and CLOEXEC flag are explicit, per
// spec §6 — net.Listen("unix", ...) does not expose either knob. The raw
// fd is handed to net.FileListener so Accept still integrates with the
// runtime netpoller like any other net.Listener.
func Listen(path string) (*net.UnixListener, error) {
	_ = os.Remove(path) // stale socket from an unclean previous shutdown

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	// file takes ownership of fd; closing it (below, or on error) closes fd.
	file := os.NewFile(uintptr(fd), "vaxipc-listen:"+path)

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		file.Close()
		return nil, err
	}
	if err := unix.Listen(fd, Backlog); err != nil {
		file.Close()
		return nil, err
	}

	l, err := net.FileListener(file)
	// net.FileListener dup's the fd internally; our copy must still be closed.
	file.Close()
	if err != nil {
		return nil, err
	}

	ul, ok := l.(*net.UnixListener)
	if !ok {
		l.Close()
		return nil, &net.OpError{Op: "listen", Net: "unix", Err: os.ErrInvalid}
	}
	return ul, nil
}

// Dial connects to a Unix domain stream socket at path.
func Dial(path string) (*net.UnixConn, error) {
	return net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
}
