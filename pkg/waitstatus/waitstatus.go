//go:build linux

// Package waitstatus classifies raw wait4 status words of ptraced threads.
package waitstatus

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type Type int

const (
	Unknown Type = iota
	// Exit: the thread exited normally (WIFEXITED).
	Exit
	// FatalSignal: the thread was killed by a signal (WIFSIGNALED).
	FatalSignal
	// SignalStop: signal-delivery-stop, the signal is pending for the tracee.
	SignalStop
	// GroupStop: PTRACE_EVENT_STOP, the thread entered group-stop (or was interrupted).
	GroupStop
	// SyscallStop: syscall entry or exit stop (needs PTRACE_O_TRACESYSGOOD).
	SyscallStop
	// PtraceEvent: any other PTRACE_EVENT_* stop.
	PtraceEvent
)

var typeNames = map[Type]string{
	Unknown:     "UNKNOWN",
	Exit:        "EXIT",
	FatalSignal: "FATAL_SIGNAL",
	SignalStop:  "SIGNAL_STOP",
	GroupStop:   "GROUP_STOP",
	SyscallStop: "SYSCALL_STOP",
	PtraceEvent: "PTRACE_EVENT",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("Type(%d)", int(t))
}

const (
	syscallTrapSig = int(unix.SIGTRAP) | 0x80
	eventStop      = unix.PTRACE_EVENT_STOP
)

// Status is the decoded form of a raw wait status word.
type Status struct {
	Raw int
}

// Decode wraps a raw status word. Decoding is a pure function of raw.
func Decode(raw int) Status {
	return Status{Raw: raw}
}

func (s Status) exited() bool {
	return s.Raw&0x7f == 0
}

func (s Status) signaled() bool {
	low := s.Raw & 0x7f
	return low != 0 && low != 0x7f
}

func (s Status) stopped() bool {
	return s.Raw&0xff == 0x7f
}

func (s Status) wstopsig() int {
	return (s.Raw >> 8) & 0xff
}

func (s Status) eventByte() int {
	return (s.Raw >> 16) & 0xff
}

// ExitCode is WEXITSTATUS for exited threads and -1 otherwise.
func (s Status) ExitCode() int {
	if !s.exited() {
		return -1
	}

	return (s.Raw >> 8) & 0xff
}

// FatalSig is WTERMSIG for signaled threads and 0 otherwise.
func (s Status) FatalSig() int {
	if !s.signaled() {
		return 0
	}

	return s.Raw & 0x7f
}

// StopSig is the pending signal of a signal-delivery-stop, or 0.
// A stop signal of 0 (PTRACE_INTERRUPT) is reported as SIGSTOP.
func (s Status) StopSig() int {
	if !s.stopped() || s.eventByte() != 0 {
		return 0
	}

	sig := s.wstopsig()
	if sig == syscallTrapSig {
		return 0
	}

	sig &^= 0x80
	if sig == 0 {
		return int(unix.SIGSTOP)
	}

	return sig
}

// GroupStop is the stopping signal of a PTRACE_EVENT_STOP stop, or 0.
func (s Status) GroupStop() int {
	if !s.stopped() || s.eventByte() != eventStop {
		return 0
	}

	sig := s.wstopsig() &^ 0x80
	if sig == 0 {
		return int(unix.SIGSTOP)
	}

	return sig
}

// IsSyscall reports a syscall entry/exit stop.
func (s Status) IsSyscall() bool {
	if !s.stopped() || s.PtraceEvent() != 0 {
		return false
	}

	return s.wstopsig() == syscallTrapSig
}

// PtraceEvent is the PTRACE_EVENT_* number, 0 for none and for PTRACE_EVENT_STOP.
func (s Status) PtraceEvent() int {
	event := s.eventByte()
	if event == eventStop {
		return 0
	}

	return event
}

// Type classifies the status. The order of checks decides overlapping bit
// patterns: exit, fatal signal, signal-stop, group-stop, syscall-stop, event.
func (s Status) Type() Type {
	switch {
	case s.ExitCode() >= 0:
		return Exit
	case s.FatalSig() != 0:
		return FatalSignal
	case s.StopSig() != 0:
		return SignalStop
	case s.GroupStop() != 0:
		return GroupStop
	case s.IsSyscall():
		return SyscallStop
	case s.PtraceEvent() != 0:
		return PtraceEvent
	}

	return Unknown
}

func (s Status) String() string {
	switch s.Type() {
	case Exit:
		return fmt.Sprintf("exit-%d", s.ExitCode())
	case FatalSignal:
		return fmt.Sprintf("fatal-%s", SignalName(s.FatalSig()))
	case SignalStop:
		return fmt.Sprintf("stop-%s", SignalName(s.StopSig()))
	case GroupStop:
		return fmt.Sprintf("group-stop-%s", SignalName(s.GroupStop()))
	case SyscallStop:
		return "syscall-stop"
	case PtraceEvent:
		return fmt.Sprintf("ptrace-event-%s", EventName(s.PtraceEvent()))
	}

	return fmt.Sprintf("unknown-%#x", s.Raw)
}

// Synthetic status words, laid out the way the kernel reports them.

func ForExitCode(code int) Status {
	return Status{Raw: (code & 0xff) << 8}
}

func ForFatalSig(sig int) Status {
	return Status{Raw: sig & 0x7f}
}

func ForStopSig(sig int) Status {
	return Status{Raw: ((sig & 0xff) << 8) | 0x7f}
}

func ForGroupSig(sig int) Status {
	return Status{Raw: (eventStop << 16) | ((sig & 0xff) << 8) | 0x7f}
}

func ForSyscall() Status {
	return Status{Raw: (syscallTrapSig << 8) | 0x7f}
}

func ForPtraceEvent(event int) Status {
	return Status{Raw: ((event & 0xff) << 16) | (int(unix.SIGTRAP) << 8) | 0x7f}
}

// SignalName returns the SIGxxx name of sig.
func SignalName(sig int) string {
	if name := unix.SignalName(unix.Signal(sig)); name != "" {
		return name
	}

	return fmt.Sprintf("SIG%d", sig)
}

var eventNames = map[int]string{
	unix.PTRACE_EVENT_FORK:       "FORK",
	unix.PTRACE_EVENT_VFORK:      "VFORK",
	unix.PTRACE_EVENT_CLONE:      "CLONE",
	unix.PTRACE_EVENT_EXEC:       "EXEC",
	unix.PTRACE_EVENT_VFORK_DONE: "VFORK_DONE",
	unix.PTRACE_EVENT_EXIT:       "EXIT",
	unix.PTRACE_EVENT_SECCOMP:    "SECCOMP",
	unix.PTRACE_EVENT_STOP:       "STOP",
}

// EventName returns the short name of a PTRACE_EVENT_* number.
func EventName(event int) string {
	if name, ok := eventNames[event]; ok {
		return name
	}

	return fmt.Sprintf("%d", event)
}
