// Package memmap tracks the layout of a traced address space. A layout is
// seeded from a recorded maps snapshot and moved forward by replaying the
// mapping syscalls of the timeline.
package memmap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slimtoolkit/emd/pkg/procfs"
)

const (
	PageSize = 4096
	heapPath = "[heap]"
)

const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4

	mapShared = 0x1
)

func fileBacked(r procfs.Region) bool {
	return r.Path != "" && !strings.HasPrefix(r.Path, "[")
}

func pageDown(addr uint64) uint64 { return addr &^ (PageSize - 1) }
func pageUp(addr uint64) uint64   { return (addr + PageSize - 1) &^ (PageSize - 1) }

// ProtPerms renders mmap prot/flags bits in the /proc/<pid>/maps notation.
func ProtPerms(prot, flags uint64) string {
	perms := []byte("---p")
	if prot&protRead != 0 {
		perms[0] = 'r'
	}
	if prot&protWrite != 0 {
		perms[1] = 'w'
	}
	if prot&protExec != 0 {
		perms[2] = 'x'
	}
	if flags&mapShared != 0 {
		perms[3] = 's'
	}

	return string(perms)
}

// AddressSpace is a sorted list of non overlapping regions.
type AddressSpace struct {
	regions []procfs.Region
	brk     uint64

	Auxv []byte
	Exe  string
}

// New builds an address space from regions in any order. Overlaps are
// resolved in favor of the later region.
func New(regions []procfs.Region, brk uint64) *AddressSpace {
	as := &AddressSpace{brk: brk}
	for _, r := range regions {
		as.insert(r)
	}

	if as.brk == 0 {
		if heap, ok := as.heap(); ok {
			as.brk = heap.End
		}
	}

	return as
}

func (as *AddressSpace) Regions() []procfs.Region {
	out := make([]procfs.Region, len(as.regions))
	copy(out, as.regions)
	return out
}

func (as *AddressSpace) Len() int {
	return len(as.regions)
}

func (as *AddressSpace) Brk() uint64 {
	return as.brk
}

// Find returns the region holding addr.
func (as *AddressSpace) Find(addr uint64) (procfs.Region, bool) {
	i := sort.Search(len(as.regions), func(i int) bool { return as.regions[i].End > addr })
	if i < len(as.regions) && as.regions[i].Contains(addr) {
		return as.regions[i], true
	}

	return procfs.Region{}, false
}

func (as *AddressSpace) String() string {
	return fmt.Sprintf("AddressSpace{regions=%d brk=%#x}", len(as.regions), as.brk)
}

// Reset drops every region, as an exec does.
func (as *AddressSpace) Reset() {
	as.regions = nil
	as.brk = 0
}

// Map places a new region, replacing whatever overlaps it (MAP_FIXED semantics).
func (as *AddressSpace) Map(r procfs.Region) {
	r.Start = pageDown(r.Start)
	r.End = pageUp(r.End)
	if r.End <= r.Start {
		return
	}

	as.insert(r)
}

// Unmap removes [addr, addr+length), splitting regions that straddle the range.
func (as *AddressSpace) Unmap(addr, length uint64) {
	start, end := pageDown(addr), pageUp(addr+length)
	if end <= start {
		return
	}

	as.cut(start, end)
}

// Protect changes the permissions of [addr, addr+length), keeping the sharing flag.
func (as *AddressSpace) Protect(addr, length uint64, prot uint64) {
	start, end := pageDown(addr), pageUp(addr+length)
	if end <= start {
		return
	}

	var changed []procfs.Region
	for _, r := range as.regions {
		if r.End <= start || r.Start >= end {
			continue
		}

		part := clip(r, start, end)
		flags := uint64(0)
		if r.Shared() {
			flags = mapShared
		}
		part.Perms = ProtPerms(prot, flags)
		changed = append(changed, part)
	}

	for _, r := range changed {
		as.insert(r)
	}
}

// Remap moves or resizes the mapping at oldAddr, as mremap does. newAddr is
// the address the kernel returned.
func (as *AddressSpace) Remap(oldAddr, oldLen, newAddr, newLen uint64) {
	src, ok := as.Find(oldAddr)
	if !ok {
		return
	}

	start := pageDown(oldAddr)
	moved := clip(src, start, pageUp(oldAddr+oldLen))
	as.cut(start, pageUp(oldAddr+oldLen))

	moved.Start = pageDown(newAddr)
	moved.End = pageUp(newAddr + newLen)
	if fileBacked(moved) {
		moved.Offset = src.Offset + (start - src.Start)
	}

	as.Map(moved)
}

// SetBrk moves the program break, growing or shrinking the heap region.
func (as *AddressSpace) SetBrk(brk uint64) {
	if brk == 0 || brk == as.brk {
		return
	}

	heap, ok := as.heap()
	switch {
	case !ok:
		if as.brk != 0 && brk > as.brk {
			as.insert(procfs.Region{Start: pageUp(as.brk), End: pageUp(brk), Perms: "rw-p", Path: heapPath})
		}
	case brk > heap.End:
		heap.End = pageUp(brk)
		as.insert(heap)
	case brk < heap.End:
		as.cut(pageUp(brk), heap.End)
	}

	as.brk = brk
}

// Detach drops a System V shared segment attached at addr.
func (as *AddressSpace) Detach(addr uint64) {
	if r, ok := as.Find(addr); ok && r.Start == addr {
		as.cut(r.Start, r.End)
	}
}

func (as *AddressSpace) heap() (procfs.Region, bool) {
	for _, r := range as.regions {
		if r.Path == heapPath {
			return r, true
		}
	}

	return procfs.Region{}, false
}

func (as *AddressSpace) insert(r procfs.Region) {
	as.cut(r.Start, r.End)

	i := sort.Search(len(as.regions), func(i int) bool { return as.regions[i].Start >= r.End })
	as.regions = append(as.regions, procfs.Region{})
	copy(as.regions[i+1:], as.regions[i:])
	as.regions[i] = r
}

func (as *AddressSpace) cut(start, end uint64) {
	var out []procfs.Region
	for _, r := range as.regions {
		if r.End <= start || r.Start >= end {
			out = append(out, r)
			continue
		}

		if r.Start < start {
			out = append(out, clip(r, r.Start, start))
		}
		if r.End > end {
			out = append(out, clip(r, end, r.End))
		}
	}

	as.regions = out
}

// clip returns the part of r inside [start, end), with the file offset adjusted.
func clip(r procfs.Region, start, end uint64) procfs.Region {
	if start < r.Start {
		start = r.Start
	}
	if end > r.End {
		end = r.End
	}

	if fileBacked(r) {
		r.Offset += start - r.Start
	}
	r.Start, r.End = start, end
	return r
}
