package ptrace

import (
	"fmt"

	"github.com/slimtoolkit/emd/pkg/waitstatus"
)

// State is where a traced thread is in its stop cycle.
type State int

const (
	// StateNew is a thread known from a clone/fork event that has not stopped yet.
	StateNew State = iota
	StateRunning
	// StateInSyscall is between the syscall entry stop and the exit stop.
	StateInSyscall
	StateDead
)

var stateNames = map[State]string{
	StateNew:       "new",
	StateRunning:   "running",
	StateInSyscall: "in-syscall",
	StateDead:      "dead",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Action is what the tracer does with a stop.
type Action int

const (
	ActionNone Action = iota
	// ActionAttachStop is the first stop of a new thread; resume without a signal.
	ActionAttachStop
	ActionSyscallEntry
	ActionSyscallExit
	// ActionSignal records the signal and re-injects it on resume.
	ActionSignal
	ActionGroupStop
	ActionEvent
	// ActionReap handles a wait status reporting the end of the thread.
	ActionReap
)

var actionNames = map[Action]string{
	ActionNone:         "none",
	ActionAttachStop:   "attach-stop",
	ActionSyscallEntry: "syscall-entry",
	ActionSyscallExit:  "syscall-exit",
	ActionSignal:       "signal",
	ActionGroupStop:    "group-stop",
	ActionEvent:        "event",
	ActionReap:         "reap",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

type step struct {
	next   State
	action Action
}

var transitions = map[State]map[waitstatus.Type]step{
	StateNew: {
		waitstatus.SignalStop:  {StateRunning, ActionAttachStop},
		waitstatus.GroupStop:   {StateRunning, ActionAttachStop},
		waitstatus.SyscallStop: {StateInSyscall, ActionSyscallEntry},
		waitstatus.PtraceEvent: {StateRunning, ActionEvent},
		waitstatus.Exit:        {StateDead, ActionReap},
		waitstatus.FatalSignal: {StateDead, ActionReap},
	},
	StateRunning: {
		waitstatus.SignalStop:  {StateRunning, ActionSignal},
		waitstatus.GroupStop:   {StateRunning, ActionGroupStop},
		waitstatus.SyscallStop: {StateInSyscall, ActionSyscallEntry},
		waitstatus.PtraceEvent: {StateRunning, ActionEvent},
		waitstatus.Exit:        {StateDead, ActionReap},
		waitstatus.FatalSignal: {StateDead, ActionReap},
	},
	StateInSyscall: {
		waitstatus.SignalStop:  {StateInSyscall, ActionSignal},
		waitstatus.GroupStop:   {StateInSyscall, ActionGroupStop},
		waitstatus.SyscallStop: {StateRunning, ActionSyscallExit},
		// exec, clone and fork events arrive while their syscall is in flight
		waitstatus.PtraceEvent: {StateInSyscall, ActionEvent},
		waitstatus.Exit:        {StateDead, ActionReap},
		waitstatus.FatalSignal: {StateDead, ActionReap},
	},
	StateDead: {
		waitstatus.Exit:        {StateDead, ActionReap},
		waitstatus.FatalSignal: {StateDead, ActionReap},
	},
}

// Transition returns the next state and the action for a stop of type t
// observed in state s. Unknown combinations keep the state and do nothing.
func Transition(s State, t waitstatus.Type) (State, Action) {
	if st, ok := transitions[s][t]; ok {
		return st.next, st.action
	}

	return s, ActionNone
}
