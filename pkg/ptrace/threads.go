package ptrace

import (
	"sort"
)

// Call is a syscall seen at its entry stop and waiting for its exit stop.
type Call struct {
	Num  uint32
	Args [6]uint64
	Regs []uint64
	// Path is the file behind the descriptor argument, read at entry.
	Path string
	// Record is false when the syscall filter rejected the call.
	Record bool
}

// Thread is one traced task.
type Thread struct {
	Tid  int
	Tgid int
	// Num is the ordinal of the thread in order of discovery.
	Num   uint16
	State State

	Pending *Call

	regs      []uint64
	regsDirty bool

	exitEvent bool
	reaped    bool
}

// SetRegs keeps the registers read at the current stop of t.
func (t *Thread) SetRegs(regs []uint64) {
	t.regs = append(t.regs[:0], regs...)
	t.regsDirty = true
}

// LastRegs returns the registers of the latest stop of t, nil when none were read.
func (t *Thread) LastRegs() []uint64 {
	return t.regs
}

// Retired reports a thread that went through both its exit event and its reaping.
func (t *Thread) Retired() bool {
	return t.exitEvent && t.reaped
}

// ThreadTable tracks every task of a trace session.
type ThreadTable struct {
	threads map[int]*Thread
	next    uint16
}

func NewThreadTable() *ThreadTable {
	return &ThreadTable{threads: map[int]*Thread{}}
}

// Add registers tid. Known tids keep their ordinal; the bool reports a new thread.
func (tt *ThreadTable) Add(tid, tgid int) (*Thread, bool) {
	if t, ok := tt.threads[tid]; ok {
		if tgid != 0 {
			t.Tgid = tgid
		}
		return t, false
	}

	if tgid == 0 {
		tgid = tid
	}

	t := &Thread{Tid: tid, Tgid: tgid, Num: tt.next, State: StateNew}
	tt.next++
	tt.threads[tid] = t
	return t, true
}

func (tt *ThreadTable) Get(tid int) (*Thread, bool) {
	t, ok := tt.threads[tid]
	return t, ok
}

// ExitEvent marks the PTRACE_EVENT_EXIT stop of tid. It reports whether the thread got retired.
func (tt *ThreadTable) ExitEvent(tid int) bool {
	t, ok := tt.threads[tid]
	if !ok {
		return false
	}

	t.exitEvent = true
	return tt.retire(t)
}

// Reaped marks the final wait status of tid. It reports whether the thread got retired.
func (tt *ThreadTable) Reaped(tid int) bool {
	t, ok := tt.threads[tid]
	if !ok {
		return false
	}

	t.reaped = true
	t.State = StateDead
	t.Pending = nil
	return tt.retire(t)
}

func (tt *ThreadTable) retire(t *Thread) bool {
	if !t.Retired() {
		return false
	}

	delete(tt.threads, t.Tid)
	return true
}

// Exec handles a successful execve in tid. When a non leader thread
// execs it takes over the leader tid and its former tid disappears
// without further notice.
func (tt *ThreadTable) Exec(tid, formerTid int) {
	if formerTid != tid {
		if old, ok := tt.threads[formerTid]; ok {
			delete(tt.threads, formerTid)
			if leader, ok := tt.threads[tid]; ok {
				leader.State = old.State
				leader.Pending = old.Pending
			}
		}
	}

	if t, ok := tt.threads[tid]; ok {
		t.Tgid = tid
	}
}

// Drop forgets tid without the retirement handshake.
func (tt *ThreadTable) Drop(tid int) {
	delete(tt.threads, tid)
}

func (tt *ThreadTable) Len() int {
	return len(tt.threads)
}

// Threads returns the live threads of process tgid ordered by ordinal.
func (tt *ThreadTable) Threads(tgid int) []*Thread {
	var out []*Thread
	for _, t := range tt.threads {
		if t.Tgid == tgid {
			out = append(out, t)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// TakeRegs returns the registers of the threads of tgid other than tid
// that were read since the last call. tid itself counts as reported.
func (tt *ThreadTable) TakeRegs(tgid, tid int) map[int32][]uint64 {
	var out map[int32][]uint64
	for _, t := range tt.threads {
		if t.Tgid != tgid || !t.regsDirty {
			continue
		}

		t.regsDirty = false
		if t.Tid == tid {
			continue
		}

		if out == nil {
			out = map[int32][]uint64{}
		}
		out[int32(t.Tid)] = append([]uint64(nil), t.regs...)
	}

	return out
}

// Tids returns every tracked tid in ascending order.
func (tt *ThreadTable) Tids() []int {
	tids := make([]int, 0, len(tt.threads))
	for tid := range tt.threads {
		tids = append(tids, tid)
	}

	sort.Ints(tids)
	return tids
}
