//go:build linux

// Package shmring is the recorder side of the FAST mode syscall buffer.
//
// The preload library inside the tracee appends fixed layout records to a
// shared memfd ring; the recorder drains it whenever the tracee stops.
// Positions are free running byte counters; the producer owns head, the
// consumer owns tail.
//
//	header (64 bytes): magic u32, version u32, capacity u64, head u64, tail u64, dropped u64
//	record: len u32, type u16, flags u16, tid i32, reserved u32, result i64, args 6*u64, payload
//
// A record never wraps. When it does not fit before the end of the data
// area the producer writes a padding record and starts again at offset 0.
package shmring

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	Magic   = 0x52444d45 // "EMDR" little endian
	Version = 1

	HeaderSize       = 64
	RecordHeaderSize = 72

	offMagic    = 0
	offVersion  = 4
	offCapacity = 8
	offHead     = 16
	offTail     = 24
	offDropped  = 32

	// TypePadding fills the unused end of the data area before a wrap.
	TypePadding = 0xffff

	recordAlign = 8
)

var (
	ErrBadHeader  = errors.New("shmring: bad ring header")
	ErrCorrupt    = errors.New("shmring: corrupt record")
	ErrTooSmall   = errors.New("shmring: buffer too small")
	ErrRecordSize = errors.New("shmring: record larger than the ring")
)

var le = binary.LittleEndian

// Record is one syscall reported by the preload library.
type Record struct {
	Type    uint16
	Flags   uint16
	Tid     int32
	Result  int64
	Args    [6]uint64
	Payload []byte
}

func (r *Record) size() int {
	return alignUp(RecordHeaderSize + len(r.Payload))
}

func alignUp(n int) int {
	return (n + recordAlign - 1) &^ (recordAlign - 1)
}

// Ring is a mapped ring buffer.
type Ring struct {
	file *os.File
	mem  []byte
	data []byte
}

// Create makes an anonymous memfd ring with size bytes in total, header
// included. The returned file is handed to the tracee.
func Create(name string, size int) (*Ring, error) {
	if size < HeaderSize+4*RecordHeaderSize {
		return nil, ErrTooSmall
	}

	size = alignUp(size)
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, errors.Wrap(err, "shmring: memfd_create")
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "shmring: ftruncate")
	}

	r, err := mapRing(os.NewFile(uintptr(fd), name), size)
	if err != nil {
		return nil, err
	}

	le.PutUint32(r.mem[offMagic:], Magic)
	le.PutUint32(r.mem[offVersion:], Version)
	le.PutUint64(r.mem[offCapacity:], uint64(len(r.data)))
	return r, nil
}

// Open maps a ring created by another process, like the producer does
// with the descriptor it inherited.
func Open(file *os.File) (*Ring, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "shmring: stat")
	}

	r, err := mapRing(file, int(info.Size()))
	if err != nil {
		return nil, err
	}

	if le.Uint32(r.mem[offMagic:]) != Magic || le.Uint32(r.mem[offVersion:]) != Version ||
		le.Uint64(r.mem[offCapacity:]) != uint64(len(r.data)) {
		r.Close()
		return nil, ErrBadHeader
	}

	return r, nil
}

func mapRing(file *os.File, size int) (*Ring, error) {
	if size < HeaderSize+RecordHeaderSize {
		file.Close()
		return nil, ErrTooSmall
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "shmring: mmap")
	}

	return &Ring{
		file: file,
		mem:  mem,
		data: mem[HeaderSize:],
	}, nil
}

func (r *Ring) File() *os.File {
	return r.file
}

func (r *Ring) Capacity() int {
	return len(r.data)
}

func (r *Ring) word(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

func (r *Ring) head() uint64    { return atomic.LoadUint64(r.word(offHead)) }
func (r *Ring) tail() uint64    { return atomic.LoadUint64(r.word(offTail)) }
func (r *Ring) Dropped() uint64 { return atomic.LoadUint64(r.word(offDropped)) }

// Pending is the number of unread bytes.
func (r *Ring) Pending() int {
	return int(r.head() - r.tail())
}

// Write appends a record. It is the producer half; a full ring counts the
// record as dropped instead of blocking.
func (r *Ring) Write(rec *Record) error {
	size := rec.size()
	capacity := uint64(len(r.data))
	if uint64(size) > capacity/2 {
		return ErrRecordSize
	}

	head, tail := r.head(), r.tail()
	off := head % capacity
	need := uint64(size)
	if off+need > capacity {
		need += capacity - off
	}

	if head+need-tail > capacity {
		atomic.AddUint64(r.word(offDropped), 1)
		return nil
	}

	if off+uint64(size) > capacity {
		pad := int(capacity - off)
		le.PutUint32(r.data[off:], uint32(pad))
		le.PutUint16(r.data[off+4:], TypePadding)
		head += uint64(pad)
		off = 0
	}

	buf := r.data[off : off+uint64(size)]
	le.PutUint32(buf[0:], uint32(size))
	le.PutUint16(buf[4:], rec.Type)
	le.PutUint16(buf[6:], rec.Flags)
	le.PutUint32(buf[8:], uint32(rec.Tid))
	le.PutUint32(buf[12:], uint32(len(rec.Payload)))
	le.PutUint64(buf[16:], uint64(rec.Result))
	for i, a := range rec.Args {
		le.PutUint64(buf[24+i*8:], a)
	}
	copy(buf[RecordHeaderSize:], rec.Payload)

	atomic.StoreUint64(r.word(offHead), head+uint64(size))
	return nil
}

// Drain hands every complete record to fn in production order and frees
// its space. Payloads alias the ring and are only valid during the call.
func (r *Ring) Drain(fn func(*Record) error) (count int, err error) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if p := recover(); p != nil {
			err = fmt.Errorf("shmring: fault reading ring: %v", p)
		}
	}()

	capacity := uint64(len(r.data))
	head, tail := r.head(), r.tail()
	if head-tail > capacity {
		return 0, errors.Wrapf(ErrCorrupt, "head %d tail %d", head, tail)
	}

	var rec Record
	for tail < head {
		off := tail % capacity
		if capacity-off < 8 {
			return count, errors.Wrapf(ErrCorrupt, "offset %d", off)
		}

		size := uint64(le.Uint32(r.data[off:]))
		typ := le.Uint16(r.data[off+4:])
		if size == 0 || size%recordAlign != 0 || off+size > capacity || tail+size > head {
			return count, errors.Wrapf(ErrCorrupt, "record at %d, size %d", tail, size)
		}

		if typ != TypePadding {
			if size < RecordHeaderSize {
				return count, errors.Wrapf(ErrCorrupt, "record at %d, size %d", tail, size)
			}

			buf := r.data[off : off+size]
			plen := uint64(le.Uint32(buf[12:]))
			if RecordHeaderSize+plen > size {
				return count, errors.Wrapf(ErrCorrupt, "record at %d, payload %d", tail, plen)
			}

			rec.Type = typ
			rec.Flags = le.Uint16(buf[6:])
			rec.Tid = int32(le.Uint32(buf[8:]))
			rec.Result = int64(le.Uint64(buf[16:]))
			for i := range rec.Args {
				rec.Args[i] = le.Uint64(buf[24+i*8:])
			}
			rec.Payload = buf[RecordHeaderSize : RecordHeaderSize+plen]

			if err := fn(&rec); err != nil {
				atomic.StoreUint64(r.word(offTail), tail+size)
				return count + 1, err
			}
			count++
		}

		tail += size
		atomic.StoreUint64(r.word(offTail), tail)
	}

	return count, nil
}

func (r *Ring) Close() error {
	var firstErr error
	if r.mem != nil {
		if err := unix.Munmap(r.mem); err != nil {
			firstErr = errors.Wrap(err, "shmring: munmap")
		}
		r.mem, r.data = nil, nil
	}

	if r.file != nil {
		if err := r.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.file = nil
	}

	return firstErr
}
