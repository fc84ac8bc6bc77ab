//go:build linux && amd64

package ptrace

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const regCount = int(unsafe.Sizeof(unix.PtraceRegs{}) / 8)

// int3
var trapCode = []byte{0xcc}

// trapPCOffset is how far the PC moved past a hit breakpoint.
const trapPCOffset = 1

// GetRegs returns the general purpose registers of tid in user_regs_struct order.
func GetRegs(tid int) ([]uint64, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return nil, callError("PTRACE_GETREGS", tid, err)
	}

	out := make([]uint64, regCount)
	copy(out, (*[regCount]uint64)(unsafe.Pointer(&regs))[:])
	return out, nil
}

func SetRegs(tid int, values []uint64) error {
	var regs unix.PtraceRegs
	copy((*[regCount]uint64)(unsafe.Pointer(&regs))[:], values)
	return callError("PTRACE_SETREGS", tid, unix.PtraceSetRegs(tid, &regs))
}

// fs_base in user_regs_struct
const regFSBase = 21

// ThreadPointer returns the TLS base of tid, the address of its struct pthread.
func ThreadPointer(tid int, regs []uint64) (uint64, error) {
	if len(regs) > regFSBase {
		return regs[regFSBase], nil
	}

	regs, err := GetRegs(tid)
	if err != nil {
		return 0, err
	}

	return regs[regFSBase], nil
}
