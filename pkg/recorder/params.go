package recorder

import (
	"github.com/slimtoolkit/emd/pkg/timeline"
)

// paramSpec says which syscall arguments point at memory worth keeping.
type paramSpec struct {
	// strings are NUL terminated path arguments, read at entry
	strings []int
	// in is a buffer read at entry: argument index of the pointer and of its length
	in *[2]int
	// out is the pointer of a buffer filled by the call, its length is the result
	out int
}

const noOut = -1

func strs(idx ...int) paramSpec { return paramSpec{strings: idx, out: noOut} }
func inBuf(ptr, size int) paramSpec {
	return paramSpec{in: &[2]int{ptr, size}, out: noOut}
}
func outBuf(ptr int) paramSpec { return paramSpec{out: ptr} }

var paramSpecs = map[string]paramSpec{
	"open":       strs(0),
	"creat":      strs(0),
	"openat":     strs(1),
	"openat2":    strs(1),
	"stat":       strs(0),
	"lstat":      strs(0),
	"newfstatat": strs(1),
	"statx":      strs(1),
	"statfs":     strs(0),
	"access":     strs(0),
	"faccessat":  strs(1),
	"faccessat2": strs(1),
	"execve":     strs(0),
	"execveat":   strs(1),
	"chdir":      strs(0),
	"chroot":     strs(0),
	"mkdir":      strs(0),
	"mkdirat":    strs(1),
	"rmdir":      strs(0),
	"unlink":     strs(0),
	"unlinkat":   strs(1),
	"rename":     strs(0, 1),
	"renameat":   strs(1, 3),
	"renameat2":  strs(1, 3),
	"link":       strs(0, 1),
	"linkat":     strs(1, 3),
	"symlink":    strs(0, 1),
	"symlinkat":  strs(0, 2),
	"readlink":   strs(0),
	"readlinkat": strs(1),
	"chmod":      strs(0),
	"fchmodat":   strs(1),
	"chown":      strs(0),
	"lchown":     strs(0),
	"fchownat":   strs(1),
	"truncate":   strs(0),
	"mknod":      strs(0),
	"mknodat":    strs(1),
	"write":      inBuf(1, 2),
	"pwrite64":   inBuf(1, 2),
	"sendto":     inBuf(1, 2),
	"read":       outBuf(1),
	"pread64":    outBuf(1),
	"recvfrom":   outBuf(1),
	"getcwd":     outBuf(0),
	"getrandom":  outBuf(0),
}

// fdCalls take a descriptor as their first argument.
var fdCalls = map[string]struct{}{
	"read": {}, "write": {}, "pread64": {}, "pwrite64": {},
	"readv": {}, "writev": {}, "preadv": {}, "pwritev": {}, "preadv2": {}, "pwritev2": {},
	"close": {}, "lseek": {}, "fstat": {}, "fstatfs": {}, "fsync": {}, "fdatasync": {},
	"ftruncate": {}, "fallocate": {}, "fchmod": {}, "fchown": {}, "fchdir": {},
	"getdents": {}, "getdents64": {}, "flock": {}, "ioctl": {}, "fcntl": {},
	"sendto": {}, "recvfrom": {}, "sendmsg": {}, "recvmsg": {}, "connect": {},
	"bind": {}, "listen": {}, "accept": {}, "accept4": {}, "shutdown": {},
	"dup": {}, "dup2": {}, "dup3": {},
}

// fdResultCalls return a new descriptor.
var fdResultCalls = map[string]struct{}{
	"open": {}, "openat": {}, "openat2": {}, "creat": {},
	"socket": {}, "accept": {}, "accept4": {},
	"dup": {}, "dup2": {}, "dup3": {}, "memfd_create": {},
	"eventfd": {}, "eventfd2": {}, "epoll_create": {}, "epoll_create1": {},
}

// mmap takes its descriptor as the fifth argument
const (
	mmapFdArg    = 4
	mmapFlagsArg = 3
)

func isErrorResult(result int64) bool {
	return result < 0 && result >= -4095
}

// clampLen limits a capture to max bytes and reports the cut.
func clampLen(size uint64, max int) (int, bool) {
	if max <= 0 {
		return 0, size > 0
	}

	if size > uint64(max) {
		return max, true
	}

	return int(size), false
}

// memReader reads tracee memory; procfs.ReadMemory in a live session.
type memReader func(addr uint64, buf []byte) (int, error)

// readRange copies up to max bytes of [addr, addr+size) from the tracee.
func readRange(read memReader, addr, size uint64, max int, kind timeline.MemKind, label string) (timeline.MemCapture, bool) {
	n, truncated := clampLen(size, max)
	if n == 0 || addr == 0 {
		return timeline.MemCapture{}, false
	}

	buf := make([]byte, n)
	got, err := read(addr, buf)
	if got <= 0 {
		if err != nil {
			logger().WithError(err).Tracef("readRange(%#x, %d)", addr, n)
		}
		return timeline.MemCapture{}, false
	}

	return timeline.MemCapture{
		Addr:      addr,
		Kind:      kind,
		Label:     label,
		Data:      buf[:got],
		Truncated: truncated || got < n,
	}, true
}

// readString copies a NUL terminated string of at most max bytes, terminator included.
func readString(read memReader, addr uint64, max int, label string) (timeline.MemCapture, bool) {
	if addr == 0 || max <= 0 {
		return timeline.MemCapture{}, false
	}

	buf := make([]byte, max)
	got, _ := read(addr, buf)
	if got <= 0 {
		return timeline.MemCapture{}, false
	}

	for i := 0; i < got; i++ {
		if buf[i] == 0 {
			return timeline.MemCapture{Addr: addr, Kind: timeline.MemParam, Label: label, Data: buf[:i+1]}, true
		}
	}

	return timeline.MemCapture{Addr: addr, Kind: timeline.MemParam, Label: label, Data: buf[:got], Truncated: true}, true
}

// entryParams captures the input memory of a syscall.
func entryParams(read memReader, name string, args [6]uint64, max int) []timeline.MemCapture {
	spec, ok := paramSpecs[name]
	if !ok {
		return nil
	}

	var out []timeline.MemCapture
	for _, idx := range spec.strings {
		if m, ok := readString(read, args[idx], max, argLabel(idx)); ok {
			out = append(out, m)
		}
	}

	if spec.in != nil {
		ptr, size := spec.in[0], spec.in[1]
		if m, ok := readRange(read, args[ptr], args[size], max, timeline.MemParam, argLabel(ptr)); ok {
			out = append(out, m)
		}
	}

	return out
}

// exitParams captures the memory a syscall filled in.
func exitParams(read memReader, name string, args [6]uint64, result int64, max int) []timeline.MemCapture {
	spec, ok := paramSpecs[name]
	if !ok || spec.out == noOut || result <= 0 {
		return nil
	}

	if m, ok := readRange(read, args[spec.out], uint64(result), max, timeline.MemParam, argLabel(spec.out)); ok {
		return []timeline.MemCapture{m}
	}

	return nil
}

var argLabels = [6]string{"arg0", "arg1", "arg2", "arg3", "arg4", "arg5"}

func argLabel(idx int) string {
	return argLabels[idx]
}
