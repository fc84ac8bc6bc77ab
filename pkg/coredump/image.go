package coredump

import (
	"sort"

	"github.com/slimtoolkit/emd/pkg/timeline"
)

type piece struct {
	start uint64
	data  []byte
}

func (p piece) end() uint64 {
	return p.start + uint64(len(p.data))
}

// image is the recovered tracee memory: captured bytes keyed by address,
// later captures overriding earlier ones.
type image struct {
	pieces []piece
}

func (m *image) add(c timeline.MemCapture) {
	if len(c.Data) == 0 {
		return
	}

	p := piece{start: c.Addr, data: c.Data}
	start, end := p.start, p.end()

	var out []piece
	for _, old := range m.pieces {
		if old.end() <= start || old.start >= end {
			out = append(out, old)
			continue
		}

		if old.start < start {
			out = append(out, piece{start: old.start, data: old.data[:start-old.start]})
		}
		if old.end() > end {
			out = append(out, piece{start: end, data: old.data[end-old.start:]})
		}
	}
	out = append(out, p)

	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	m.pieces = out
}

// within returns the captured pieces inside [start, end), clipped to it.
func (m *image) within(start, end uint64) []piece {
	var out []piece
	for _, p := range m.pieces {
		if p.end() <= start || p.start >= end {
			continue
		}

		lo, hi := p.start, p.end()
		if lo < start {
			lo = start
		}
		if hi > end {
			hi = end
		}
		out = append(out, piece{start: lo, data: p.data[lo-p.start : hi-p.start]})
	}

	return out
}

func (m *image) size() int {
	n := 0
	for _, p := range m.pieces {
		n += len(p.data)
	}
	return n
}
