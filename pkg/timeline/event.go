// Package timeline reads and writes recorded event timelines.
//
// A recording holds, per traced process <pid>:
//
//	context_<pid>  header + fixed size event records, each followed by its extra info blob
//	maps_<pid>     header + CBOR stream of memory layout snapshots
//	exec_<pid>     path of the last executed program
package timeline

import (
	"fmt"

	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/waitstatus"
)

// Event type ranges. Values below DumpReasonSignal are syscall numbers.
const (
	DumpReasonSignal = 0x1000 // + signal number
	DumpReasonDBus   = 0x1100
	DumpReasonX11    = 0x1200
	DumpReasonPtrace = 0x1300 // + PTRACE_EVENT_* number
	DumpReasonFunc   = 0x1400
	DumpReasonMax    = 0x1500
)

// ResultExtended in the on-disk result field means the full value is in the extra info.
const ResultExtended = 0xffff

type Kind int

const (
	KindUnknown Kind = iota
	KindSyscall
	KindSignal
	KindDBus
	KindX11
	KindPtrace
	KindFunc
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindSyscall: "syscall",
	KindSignal:  "signal",
	KindDBus:    "dbus",
	KindX11:     "x11",
	KindPtrace:  "ptrace",
	KindFunc:    "func",
}

func (k Kind) String() string {
	return kindNames[k]
}

// EventEntry is one recorded occurrence. Its index in the timeline is its id.
type EventEntry struct {
	Type      uint16
	ThreadNum uint16
	Tid       int32
	Result    int64

	// location of the stored extra info blob in the context file
	ExtraOffset int64
	ExtraSize   uint32
	RawSize     uint32
	codec       CompressionTag
	flags       uint8
}

func (e EventEntry) Kind() Kind {
	switch {
	case e.Type < DumpReasonSignal:
		return KindSyscall
	case e.Type < DumpReasonDBus:
		return KindSignal
	case e.Type < DumpReasonX11:
		return KindDBus
	case e.Type < DumpReasonPtrace:
		return KindX11
	case e.Type < DumpReasonFunc:
		return KindPtrace
	case e.Type < DumpReasonMax:
		return KindFunc
	}

	return KindUnknown
}

// Syscall returns the syscall number for syscall events.
func (e EventEntry) Syscall() (uint32, bool) {
	if e.Kind() != KindSyscall {
		return 0, false
	}

	return uint32(e.Type), true
}

// Signal returns the signal number for signal events.
func (e EventEntry) Signal() (int, bool) {
	if e.Kind() != KindSignal {
		return 0, false
	}

	return int(e.Type - DumpReasonSignal), true
}

func (e EventEntry) HasExtra() bool {
	return e.RawSize > 0
}

// Name renders the event type, resolving syscall names with resolve.
func (e EventEntry) Name(resolve system.NumberResolverFunc) string {
	switch e.Kind() {
	case KindSyscall:
		if resolve != nil {
			return resolve(uint32(e.Type))
		}
		return fmt.Sprintf("syscall_%d", e.Type)
	case KindSignal:
		sig, _ := e.Signal()
		return waitstatus.SignalName(sig)
	case KindDBus:
		return "dbus"
	case KindX11:
		return "x11"
	case KindPtrace:
		return "ptrace_" + waitstatus.EventName(int(e.Type-DumpReasonPtrace))
	case KindFunc:
		return "func"
	}

	return fmt.Sprintf("type_%#x", e.Type)
}

// SignalType returns the event type for a signal stop.
func SignalType(sig int) uint16 {
	return uint16(DumpReasonSignal + sig)
}

// PtraceType returns the event type for a ptrace event stop.
func PtraceType(event int) uint16 {
	return uint16(DumpReasonPtrace + event)
}

// storedResult splits a result into the 32-bit on-disk value and, when
// it does not fit, the value kept in the extra info.
func storedResult(result int64) (int32, bool) {
	if result >= ResultExtended || result < -0x7fffffff {
		return ResultExtended, true
	}

	return int32(result), false
}
