//go:build linux

package fd

import "golang.org/x/sys/unix"

func closeRaw(raw int) error {
	return unix.Close(raw)
}
