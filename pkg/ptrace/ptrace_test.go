//go:build linux

package ptrace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/slimtoolkit/emd/pkg/waitstatus"
)

func TestTransition(t *testing.T) {
	tt := []struct {
		state  State
		status waitstatus.Status
		next   State
		action Action
	}{
		{state: StateNew, status: waitstatus.ForGroupSig(int(unix.SIGSTOP)), next: StateRunning, action: ActionAttachStop},
		{state: StateNew, status: waitstatus.ForStopSig(int(unix.SIGSTOP)), next: StateRunning, action: ActionAttachStop},
		{state: StateRunning, status: waitstatus.ForSyscall(), next: StateInSyscall, action: ActionSyscallEntry},
		{state: StateInSyscall, status: waitstatus.ForSyscall(), next: StateRunning, action: ActionSyscallExit},
		{state: StateRunning, status: waitstatus.ForStopSig(int(unix.SIGUSR1)), next: StateRunning, action: ActionSignal},
		{state: StateRunning, status: waitstatus.ForGroupSig(int(unix.SIGTSTP)), next: StateRunning, action: ActionGroupStop},
		{state: StateInSyscall, status: waitstatus.ForPtraceEvent(unix.PTRACE_EVENT_EXEC), next: StateInSyscall, action: ActionEvent},
		{state: StateInSyscall, status: waitstatus.ForPtraceEvent(unix.PTRACE_EVENT_CLONE), next: StateInSyscall, action: ActionEvent},
		{state: StateRunning, status: waitstatus.ForPtraceEvent(unix.PTRACE_EVENT_EXIT), next: StateRunning, action: ActionEvent},
		{state: StateRunning, status: waitstatus.ForExitCode(3), next: StateDead, action: ActionReap},
		{state: StateInSyscall, status: waitstatus.ForFatalSig(int(unix.SIGKILL)), next: StateDead, action: ActionReap},
		{state: StateDead, status: waitstatus.ForSyscall(), next: StateDead, action: ActionNone},
		{state: StateRunning, status: waitstatus.Decode(0xffff), next: StateRunning, action: ActionNone},
	}

	for _, test := range tt {
		next, action := Transition(test.state, test.status.Type())
		if next != test.next || action != test.action {
			t.Errorf("Transition(%v, %v) = (%v, %v), want (%v, %v)",
				test.state, test.status, next, action, test.next, test.action)
		}
	}
}

func TestSyscallAlternation(t *testing.T) {
	state := StateRunning
	var actions []Action
	for i := 0; i < 6; i++ {
		var action Action
		state, action = Transition(state, waitstatus.SyscallStop)
		actions = append(actions, action)
	}

	assert.Equal(t, []Action{
		ActionSyscallEntry, ActionSyscallExit,
		ActionSyscallEntry, ActionSyscallExit,
		ActionSyscallEntry, ActionSyscallExit,
	}, actions)
}

func TestThreadTableOrdinals(t *testing.T) {
	table := NewThreadTable()

	main, isNew := table.Add(100, 0)
	require.True(t, isNew)
	assert.Equal(t, uint16(0), main.Num)
	assert.Equal(t, 100, main.Tgid)

	worker, isNew := table.Add(101, 100)
	require.True(t, isNew)
	assert.Equal(t, uint16(1), worker.Num)

	again, isNew := table.Add(101, 100)
	assert.False(t, isNew)
	assert.Same(t, worker, again)

	child, _ := table.Add(200, 200)
	assert.Equal(t, uint16(2), child.Num)

	assert.Equal(t, []int{100, 101, 200}, table.Tids())
	threads := table.Threads(100)
	require.Len(t, threads, 2)
	assert.Equal(t, 100, threads[0].Tid)
	assert.Equal(t, 101, threads[1].Tid)
}

func TestTakeRegs(t *testing.T) {
	table := NewThreadTable()
	main, _ := table.Add(100, 100)
	worker, _ := table.Add(101, 100)
	idle, _ := table.Add(102, 100)
	other, _ := table.Add(200, 200)

	assert.Nil(t, table.TakeRegs(100, 100))
	assert.Nil(t, idle.LastRegs())

	regs := []uint64{1, 2, 3}
	worker.SetRegs(regs)
	regs[0] = 99
	main.SetRegs([]uint64{7, 8, 9})
	other.SetRegs([]uint64{4})

	got := table.TakeRegs(100, 100)
	assert.Equal(t, map[int32][]uint64{101: {1, 2, 3}}, got)

	// reported once until the next stop
	assert.Nil(t, table.TakeRegs(100, 101))
	assert.Equal(t, []uint64{1, 2, 3}, worker.LastRegs())

	worker.SetRegs([]uint64{5, 6, 7})
	assert.Equal(t, map[int32][]uint64{101: {5, 6, 7}}, table.TakeRegs(100, 102))
	assert.Equal(t, map[int32][]uint64{200: {4}}, table.TakeRegs(200, 0))
}

func TestThreadRetirement(t *testing.T) {
	tt := []struct {
		name  string
		order []string
	}{
		{name: "exit then reap", order: []string{"exit", "reap"}},
		{name: "reap then exit", order: []string{"reap", "exit"}},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			table := NewThreadTable()
			table.Add(10, 10)
			table.Add(11, 10)

			for i, step := range test.order {
				var retired bool
				switch step {
				case "exit":
					retired = table.ExitEvent(11)
				case "reap":
					retired = table.Reaped(11)
				}

				last := i == len(test.order)-1
				assert.Equal(t, last, retired)
				_, ok := table.Get(11)
				assert.Equal(t, !last, ok)
			}

			// ordinals are never reused
			t3, _ := table.Add(12, 10)
			assert.Equal(t, uint16(2), t3.Num)
			assert.Equal(t, 2, table.Len())
		})
	}

	table := NewThreadTable()
	assert.False(t, table.ExitEvent(99))
	assert.False(t, table.Reaped(99))
}

func TestThreadExecFromWorker(t *testing.T) {
	table := NewThreadTable()
	leader, _ := table.Add(10, 10)
	worker, _ := table.Add(11, 10)
	worker.State = StateInSyscall
	worker.Pending = &Call{Num: 59}

	table.Exec(10, 11)

	_, ok := table.Get(11)
	assert.False(t, ok)
	assert.Equal(t, StateInSyscall, leader.State)
	require.NotNil(t, leader.Pending)
	assert.Equal(t, uint32(59), leader.Pending.Num)
	assert.Equal(t, uint16(0), leader.Num)
}

func TestError(t *testing.T) {
	err := callError("PTRACE_SEIZE", 42, unix.EPERM)
	assert.EqualError(t, err, "ptrace(PTRACE_SEIZE) tid=42: operation not permitted")
	assert.ErrorIs(t, err, unix.EPERM)
	assert.NoError(t, callError("PTRACE_CONT", 1, nil))
}

func TestOptions(t *testing.T) {
	assert.Zero(t, Options(false)&unix.PTRACE_O_TRACESYSGOOD)
	assert.NotZero(t, Options(true)&unix.PTRACE_O_TRACESYSGOOD)
	assert.NotZero(t, Options(false)&unix.PTRACE_O_TRACEEXIT)
}
