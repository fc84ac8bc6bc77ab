package timeline

// Arena is an append-only byte store. Records are staged here by the
// writer and flushed to the context file in large writes, so the capture
// path does not allocate per event.
type Arena struct {
	buf []byte
}

func NewArena(capacity int) *Arena {
	return &Arena{buf: make([]byte, 0, capacity)}
}

// Append copies parts into the arena back to back and returns the offset of the first byte.
func (a *Arena) Append(parts ...[]byte) int {
	off := len(a.buf)
	for _, p := range parts {
		a.buf = append(a.buf, p...)
	}

	return off
}

func (a *Arena) Slice(off, size int) []byte {
	return a.buf[off : off+size]
}

func (a *Arena) Len() int {
	return len(a.buf)
}

func (a *Arena) Bytes() []byte {
	return a.buf
}

// Reset drops the contents and keeps the capacity.
func (a *Arena) Reset() {
	a.buf = a.buf[:0]
}
