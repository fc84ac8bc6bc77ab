//go:build linux && arm64

package ptrace

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// NT_PRSTATUS
	regSetGeneral = 1
	// NT_ARM_TLS
	regSetTLS = 0x401
)

const regCount = int(unsafe.Sizeof(unix.PtraceRegsArm64{}) / 8)

// brk #0
var trapCode = []byte{0x00, 0x00, 0x20, 0xd4}

// the PC stays on a hit brk instruction
const trapPCOffset = 0

// GetRegs returns x0..x30, sp, pc and pstate of tid.
func GetRegs(tid int) ([]uint64, error) {
	var regs unix.PtraceRegsArm64
	if err := unix.PtraceGetRegSetArm64(tid, regSetGeneral, &regs); err != nil {
		return nil, callError("PTRACE_GETREGSET", tid, err)
	}

	out := make([]uint64, regCount)
	copy(out, (*[regCount]uint64)(unsafe.Pointer(&regs))[:])
	return out, nil
}

func SetRegs(tid int, values []uint64) error {
	var regs unix.PtraceRegsArm64
	copy((*[regCount]uint64)(unsafe.Pointer(&regs))[:], values)
	return callError("PTRACE_SETREGSET", tid, unix.PtraceSetRegSetArm64(tid, regSetGeneral, &regs))
}

// ThreadPointer returns tpidr_el0 of tid. It is not part of the general registers.
func ThreadPointer(tid int, _ []uint64) (uint64, error) {
	var tp uint64
	iov := unix.Iovec{Base: (*byte)(unsafe.Pointer(&tp))}
	iov.SetLen(8)
	err := request(unix.PTRACE_GETREGSET, tid, regSetTLS, uintptr(unsafe.Pointer(&iov)))
	if err != nil {
		return 0, callError("PTRACE_GETREGSET", tid, err)
	}

	return tp, nil
}
