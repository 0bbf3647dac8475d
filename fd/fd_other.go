//go:build !linux

package fd

import "syscall"

func closeRaw(raw int) error {
	return syscall.Close(raw)
}
