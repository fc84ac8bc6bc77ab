package procfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// ReadMemory copies tracee memory at addr into buf. It uses
// process_vm_readv and falls back to /proc/<pid>/mem, which also works
// for pages the tracee cannot read itself (PROT_NONE guard pages).
// A short read is not an error; the count is returned.
func ReadMemory(pid int, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}

	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err == nil && n > 0 {
		return n, nil
	}

	return readMemFile(pid, addr, buf)
}

func readMemFile(pid int, addr uint64, buf []byte) (int, error) {
	file, err := os.Open(procPath(pid, "mem"))
	if err != nil {
		return 0, err
	}

	defer file.Close()

	n, err := file.ReadAt(buf, int64(addr))
	if n > 0 {
		return n, nil
	}

	return n, err
}

// ReadCString reads a NUL terminated string of at most max bytes.
func ReadCString(pid int, addr uint64, max int) (string, error) {
	buf := make([]byte, max)
	n, err := ReadMemory(pid, addr, buf)
	if n == 0 {
		return "", err
	}

	buf = buf[:n]
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}

	return string(buf), nil
}
