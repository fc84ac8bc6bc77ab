//go:build linux

// Package ptrace wraps the ptrace requests the recorder issues and keeps
// the per thread bookkeeping of a trace session.
//
// Every function here must run on the OS thread that attached the tracee.
package ptrace

import (
	"fmt"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/slimtoolkit/emd/pkg/waitstatus"
)

const ptOptions = unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEEXIT

// Error is a failed ptrace request.
type Error struct {
	Op  string
	Tid int
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ptrace(%s) tid=%d: %v", e.Op, e.Tid, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func callError(op string, tid int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Tid: tid, Err: err}
}

// Options returns the PTRACE_SETOPTIONS flags of a session.
func Options(traceSyscall bool) int {
	opts := ptOptions
	if traceSyscall {
		opts |= unix.PTRACE_O_TRACESYSGOOD
	}
	return opts
}

func request(req int, tid int, addr, data uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(req), uintptr(tid), addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Attach seizes tid without event options, so threads and children it
// creates stay untraced until SetOptions. Kernels without
// PTRACE_O_EXITKILL reject it with EINVAL; the seize is then retried
// without it.
func Attach(tid int) error {
	err := request(unix.PTRACE_SEIZE, tid, 0, unix.PTRACE_O_EXITKILL)
	if err == unix.EINVAL {
		log.WithField("tid", tid).Warn("ptrace(PTRACE_SEIZE): EXITKILL not supported, tracees will survive the recorder")
		err = request(unix.PTRACE_SEIZE, tid, 0, 0)
	}

	return callError("PTRACE_SEIZE", tid, err)
}

// SetOptions replaces the ptrace options of a stopped tid. EXITKILL is
// added and dropped again when the kernel rejects it.
func SetOptions(tid int, opts int) error {
	err := request(unix.PTRACE_SETOPTIONS, tid, 0, uintptr(opts|unix.PTRACE_O_EXITKILL))
	if err == unix.EINVAL {
		err = request(unix.PTRACE_SETOPTIONS, tid, 0, uintptr(opts))
	}

	return callError("PTRACE_SETOPTIONS", tid, err)
}

func Cont(tid int, sig int) error {
	return callError("PTRACE_CONT", tid, unix.PtraceCont(tid, sig))
}

// Syscall resumes tid until the next syscall entry or exit.
func Syscall(tid int, sig int) error {
	return callError("PTRACE_SYSCALL", tid, unix.PtraceSyscall(tid, sig))
}

// Resume continues tid with PTRACE_SYSCALL or PTRACE_CONT.
func Resume(tid int, sig int, traceSyscall bool) error {
	if traceSyscall {
		return Syscall(tid, sig)
	}
	return Cont(tid, sig)
}

func SingleStep(tid int) error {
	return callError("PTRACE_SINGLESTEP", tid, unix.PtraceSingleStep(tid))
}

// Detach lets tid run untraced, delivering sig when it is not 0.
func Detach(tid int, sig int) error {
	return callError("PTRACE_DETACH", tid, request(unix.PTRACE_DETACH, tid, 0, uintptr(sig)))
}

// Listen keeps tid in its group stop while still reporting the next stop.
func Listen(tid int) error {
	return callError("PTRACE_LISTEN", tid, request(unix.PTRACE_LISTEN, tid, 0, 0))
}

// Interrupt stops a seized tid; it reports a PTRACE_EVENT_STOP.
func Interrupt(tid int) error {
	return callError("PTRACE_INTERRUPT", tid, request(unix.PTRACE_INTERRUPT, tid, 0, 0))
}

// EventMsg returns the message of the last ptrace event of tid: the new
// tid for clone/fork, the former tid for exec, the exit status for exit.
func EventMsg(tid int) (uint, error) {
	msg, err := unix.PtraceGetEventMsg(tid)
	return msg, callError("PTRACE_GETEVENTMSG", tid, err)
}

func PeekData(tid int, addr uint64, out []byte) (int, error) {
	n, err := unix.PtracePeekData(tid, uintptr(addr), out)
	return n, callError("PTRACE_PEEKDATA", tid, err)
}

func PokeData(tid int, addr uint64, data []byte) (int, error) {
	n, err := unix.PtracePokeData(tid, uintptr(addr), data)
	return n, callError("PTRACE_POKEDATA", tid, err)
}

// Wait blocks until a tracee of the caller changes state. Pass -1 for any.
func Wait(tid int) (int, waitstatus.Status, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(tid, &ws, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return wpid, waitstatus.Status{}, err
		}

		return wpid, waitstatus.Decode(int(ws)), nil
	}
}

// Kill sends sig to every tid, ignoring the ones already gone.
func Kill(tids []int, sig syscall.Signal) {
	for _, tid := range tids {
		if err := unix.Kill(tid, sig); err != nil && err != unix.ESRCH {
			log.WithError(err).Debugf("ptrace.Kill(%d, %v)", tid, sig)
		}
	}
}
