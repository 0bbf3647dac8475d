package transport

import (
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// readChunk is the maximum payload pulled per recv call (spec §4.3).
	readChunk = 8 * 1024
	// maxFDs bounds the ancillary-data buffer to 255 descriptors per read,
	// matching spec §4.3 step 2.
	maxFDs = 255
)

// RawParsedMessage is the transport layer's output: accumulated payload
// bytes plus any file descriptors that rode along via SCM_RIGHTS. It does
// not know how to interpret Data — that's the wire/registry layers'
// responsibility. Ownership of FDs transfers to whoever holds this
// struct; un-adopted FDs must be closed on drop (see package fd).
type RawParsedMessage struct {
	Data []byte
	FDs  []int
	// Bad is set when a control message arrives with a level/type other
	// than SOL_SOCKET/SCM_RIGHTS — per spec §4.3 step 4 the frame is
	// rejected and parsing stops immediately.
	Bad bool
}

// SendWithFDs writes data to conn, passing fds as out-of-band SCM_RIGHTS
// ancillary data. Partial writes are retried until fully drained; the
// control message rides only on the first WriteMsgUnix call, matching
// the reference send_with_fds contract (spec §4.3).
func SendWithFDs(conn *net.UnixConn, data []byte, fds []int) error {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	for len(data) > 0 {
		n, _, err := conn.WriteMsgUnix(data, oob, nil)
		if err != nil {
			return err
		}
		data = data[n:]
		oob = nil // already sent; never resend control data on retry
	}
	if len(data) == 0 && oob != nil {
		// len(fds) > 0 but data was empty (e.g. a bare FD-only frame is
		// not something this protocol emits, but guard anyway).
		if _, _, err := conn.WriteMsgUnix(nil, oob, nil); err != nil {
			return err
		}
	}
	return nil
}

// ParseFrame reads one round of data (and any accompanying FDs) from
// conn. The first read blocks; once data starts arriving, subsequent
// reads within the same call are non-blocking (emulated here via a
// read deadline of "now", the idiomatic way to get an EAGAIN-equivalent
// out of a net.Conn without reaching past it for the raw fd) so the
// transport batch-drains whatever the kernel already has buffered
// instead of making one syscall per frame.
//
// The loop ends on: a short read (fewer bytes than readChunk), a zero
// read (peer closed — returns io.EOF), or the emulated EAGAIN on a
// non-blocking subsequent read.
func ParseFrame(conn *net.UnixConn) (*RawParsedMessage, error) {
	msg := &RawParsedMessage{}
	first := true

	for {
		data := make([]byte, readChunk)
		oob := make([]byte, unix.CmsgSpace(4*maxFDs))

		if !first {
			if err := conn.SetReadDeadline(time.Now()); err != nil {
				return nil, err
			}
		}

		n, oobn, _, _, err := conn.ReadMsgUnix(data, oob)

		if !first {
			_ = conn.SetReadDeadline(time.Time{}) // clear the deadline again
		}

		if err != nil {
			var netErr net.Error
			if !first && errors.As(err, &netErr) && netErr.Timeout() {
				break // EAGAIN-equivalent: nothing more buffered right now
			}
			if errors.Is(err, io.EOF) {
				return msg, io.EOF
			}
			return nil, err
		}

		if n == 0 {
			return msg, io.EOF // peer closed cleanly
		}

		if oobn > 0 {
			scms, perr := unix.ParseSocketControlMessage(oob[:oobn])
			if perr != nil {
				return nil, perr
			}
			for _, scm := range scms {
				if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
					msg.Bad = true
					return msg, nil
				}
				gotFDs, ferr := unix.ParseUnixRights(&scm)
				if ferr != nil {
					return nil, ferr
				}
				msg.FDs = append(msg.FDs, gotFDs...)
			}
		}

		msg.Data = append(msg.Data, data[:n]...)
		first = false

		if n < readChunk {
			break
		}
	}

	return msg, nil
}
