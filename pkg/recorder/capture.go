package recorder

import (
	"encoding/binary"

	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/memmap"
	"github.com/slimtoolkit/emd/pkg/procfs"
	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

const (
	// amd64 leaf functions may use 128 bytes below the stack pointer
	redZoneAMD64 = 128
	// per writable module mapping
	moduleDataLimit = 64 * 1024
	// glibc struct pthread fits in it on both architectures
	pthreadSize = 2304
	heapPath    = "[heap]"
)

// watchedVar is a --var global resolved to its runtime address.
type watchedVar struct {
	spec config.VarSpec
	addr uint64
}

// capturer copies the configured memory ranges of a stopped thread.
type capturer struct {
	cfg  *config.DumpConfig
	arch *system.ArchInfo
	read memReader
	vars []watchedVar
}

func (c *capturer) redZone() uint64 {
	if c.arch.Name == system.ArchNameAmd64 {
		return redZoneAMD64
	}
	return 0
}

// stack captures from just below the stack pointer up to the end of its
// mapping, cut to max_stack_size.
func (c *capturer) stack(regions []procfs.Region, regs []uint64) (timeline.MemCapture, bool) {
	if c.cfg.MaxStackSize <= 0 {
		return timeline.MemCapture{}, false
	}

	sp := c.arch.Regs.SPValue(regs)
	as := memmap.New(regions, 0)
	r, ok := as.Find(sp)
	if !ok {
		return timeline.MemCapture{}, false
	}

	start := sp - c.redZone()
	if start < r.Start || start > sp {
		start = r.Start
	}

	return readRange(c.read, start, r.End-start, c.cfg.MaxStackSize, timeline.MemStack, "")
}

// heap captures the start of the [heap] mapping, cut to max_heap_size.
func (c *capturer) heap(regions []procfs.Region) (timeline.MemCapture, bool) {
	if c.cfg.MaxHeapSize <= 0 {
		return timeline.MemCapture{}, false
	}

	for _, r := range regions {
		if r.Path == heapPath {
			return readRange(c.read, r.Start, r.Size(), c.cfg.MaxHeapSize, timeline.MemHeap, heapPath)
		}
	}

	return timeline.MemCapture{}, false
}

// modules captures the writable file mappings of allow-listed modules.
func (c *capturer) modules(regions []procfs.Region) []timeline.MemCapture {
	if len(c.cfg.Modules) == 0 {
		return nil
	}

	var out []timeline.MemCapture
	for _, r := range regions {
		if r.Path == "" || r.Path[0] != '/' || !r.Writable() || !c.cfg.MatchModule(r.Path) {
			continue
		}

		if m, ok := readRange(c.read, r.Start, r.Size(), moduleDataLimit, timeline.MemModule, r.Path); ok {
			out = append(out, m)
		}
	}

	return out
}

// globals captures the watched variables. A pointer variable is followed
// once and max_size bytes of its target are captured as well.
func (c *capturer) globals() []timeline.MemCapture {
	var out []timeline.MemCapture
	for _, v := range c.vars {
		if !v.spec.IsPointer {
			if m, ok := readRange(c.read, v.addr, uint64(v.spec.MaxSize), v.spec.MaxSize, timeline.MemVar, v.spec.Name); ok {
				out = append(out, m)
			}
			continue
		}

		ptr, ok := readRange(c.read, v.addr, 8, 8, timeline.MemVar, v.spec.Name)
		if !ok || len(ptr.Data) < 8 {
			continue
		}
		out = append(out, ptr)

		target := binary.LittleEndian.Uint64(ptr.Data)
		if m, ok := readRange(c.read, target, uint64(v.spec.MaxSize), v.spec.MaxSize, timeline.MemVar, "*"+v.spec.Name); ok {
			out = append(out, m)
		}
	}

	return out
}

// all returns every capture configured for an event.
func (c *capturer) all(regions []procfs.Region, regs []uint64) []timeline.MemCapture {
	var out []timeline.MemCapture
	if m, ok := c.stack(regions, regs); ok {
		out = append(out, m)
	}

	if m, ok := c.heap(regions); ok {
		out = append(out, m)
	}

	out = append(out, c.globals()...)
	out = append(out, c.modules(regions)...)
	return out
}
