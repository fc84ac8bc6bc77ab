package memmap

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/slimtoolkit/emd/pkg/procfs"
	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

// maximum errno a raw syscall result can carry
const maxErrno = 4095

// Source is the part of a recorded timeline the replay needs.
type Source interface {
	Count() int
	Event(index int) (timeline.EventEntry, error)
	DecodeExtra(index int) (*timeline.ExtraInfo, error)
}

type callKind int

const (
	callMmap callKind = iota + 1
	callMunmap
	callMprotect
	callMremap
	callBrk
	callShmat
	callShmdt
)

var callKinds = map[string]callKind{
	"mmap":          callMmap,
	"munmap":        callMunmap,
	"mprotect":      callMprotect,
	"pkey_mprotect": callMprotect,
	"mremap":        callMremap,
	"brk":           callBrk,
	"shmat":         callShmat,
	"shmdt":         callShmdt,
}

// Replayer rebuilds address spaces from the snapshots and mapping events of one process.
type Replayer struct {
	src   Source
	snaps []timeline.MapsSnapshot
	calls map[uint32]callKind
}

func NewReplayer(src Source, snaps []timeline.MapsSnapshot, arch *system.ArchInfo) *Replayer {
	calls := map[uint32]callKind{}
	if resolve := system.CallNumberResolver(arch.Name); resolve != nil {
		for _, num := range system.MapChangingCallNumbers(arch.Name) {
			calls[num] = callKinds[resolve(num)]
		}
	}

	return &Replayer{
		src:   src,
		snaps: snaps,
		calls: calls,
	}
}

// ForTimeline is NewReplayer for a timeline opened from disk.
func ForTimeline(tl *timeline.Timeline) *Replayer {
	return NewReplayer(tl, tl.Maps, system.ElfMachineArch(tl.Machine))
}

// Snapshot returns the latest snapshot that describes the state before
// event index, or nil when the process has none.
func (r *Replayer) Snapshot(index int) *timeline.MapsSnapshot {
	var best *timeline.MapsSnapshot
	for i := range r.snaps {
		s := &r.snaps[i]
		if s.EventIndex <= index && (best == nil || s.EventIndex >= best.EventIndex) {
			best = s
		}
	}

	return best
}

// At returns the address space right after event index was recorded.
func (r *Replayer) At(index int) (*AddressSpace, error) {
	if index < 0 || index >= r.src.Count() {
		return nil, errors.Wrapf(timeline.ErrIndexOutOfRange, "memmap.At(%d)", index)
	}

	as := &AddressSpace{}
	from := 0
	if snap := r.Snapshot(index + 1); snap != nil {
		as = New(snap.Regions, snap.Brk)
		as.Auxv = snap.Auxv
		as.Exe = snap.Exe
		from = snap.EventIndex
	} else {
		log.Debugf("memmap.At(%d): no snapshot, replaying from an empty layout", index)
	}

	for i := from; i <= index; i++ {
		if err := r.apply(as, i); err != nil {
			return nil, err
		}
	}

	return as, nil
}

func (r *Replayer) apply(as *AddressSpace, index int) error {
	e, err := r.src.Event(index)
	if err != nil {
		return err
	}

	if e.Type == timeline.PtraceType(unix.PTRACE_EVENT_EXEC) {
		exe := as.Exe
		as.Reset()
		as.Exe = exe
		return nil
	}

	num, ok := e.Syscall()
	if !ok {
		return nil
	}

	kind := r.calls[num]
	if kind == 0 || isErrorResult(e.Result) {
		return nil
	}

	x, err := r.src.DecodeExtra(index)
	if err != nil {
		return errors.Wrapf(err, "memmap: event %d", index)
	}
	if x == nil || len(x.Args) < 6 {
		log.Debugf("memmap: event %d (%s) has no arguments, skipped", index, e.Name(nil))
		return nil
	}

	args := x.Args
	result := uint64(e.Result)
	switch kind {
	case callMmap:
		as.Map(procfs.Region{
			Start:  result,
			End:    result + args[1],
			Perms:  ProtPerms(args[2], args[3]),
			Offset: args[5],
			Path:   x.Path,
		})
	case callMunmap:
		as.Unmap(args[0], args[1])
	case callMprotect:
		as.Protect(args[0], args[1], args[2])
	case callMremap:
		as.Remap(args[0], args[1], result, args[2])
	case callBrk:
		as.SetBrk(result)
	case callShmat:
		// the segment size is not part of the call; the recorder snapshots
		// the maps right after it, so only a placeholder is needed here
		perms := "rw-s"
		if args[2]&unix.SHM_RDONLY != 0 {
			perms = "r--s"
		}
		as.Map(procfs.Region{Start: result, End: result + PageSize, Perms: perms, Path: x.Path})
	case callShmdt:
		as.Detach(args[0])
	}

	return nil
}

func isErrorResult(result int64) bool {
	return result < 0 && result >= -maxErrno
}
