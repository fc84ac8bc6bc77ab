package system

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"
)

var ErrUnknownSyscall = errors.New("unknown syscall")

// SyscallFilter is the resolved form of a --sys expression:
//
//	all | [!]item[,item...]
//
// where an item is a syscall name, a number, a numeric range "a-b" or a
// group name (file, process, network, signal, ipc, desc, memory).
type SyscallFilter struct {
	all    bool
	negate bool
	set    *roaring.Bitmap
}

// AllSyscalls matches every syscall.
func AllSyscalls() *SyscallFilter {
	return &SyscallFilter{all: true, set: roaring.New()}
}

func ParseSyscallFilter(arch ArchName, expr string) (*SyscallFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "all" {
		return AllSyscalls(), nil
	}

	f := &SyscallFilter{set: roaring.New()}
	if strings.HasPrefix(expr, "!") {
		f.negate = true
		expr = expr[1:]
	}

	resolve := CallNameResolver(arch)
	for _, item := range strings.Split(expr, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		if nums, ok := GroupCalls(arch, item); ok {
			f.set.AddMany(nums)
			continue
		}

		if lo, hi, ok := parseRange(item); ok {
			f.set.AddRange(uint64(lo), uint64(hi)+1)
			continue
		}

		if num, err := strconv.ParseUint(item, 10, 32); err == nil {
			f.set.Add(uint32(num))
			continue
		}

		if resolve != nil {
			if num, ok := resolve(item); ok {
				f.set.Add(num)
				continue
			}
		}

		return nil, errors.Wrapf(ErrUnknownSyscall, "%q", item)
	}

	return f, nil
}

func parseRange(item string) (uint32, uint32, bool) {
	parts := strings.SplitN(item, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	lo, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, false
	}

	hi, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || hi < lo {
		return 0, 0, false
	}

	return uint32(lo), uint32(hi), true
}

func (f *SyscallFilter) Match(num uint32) bool {
	if f == nil || f.all {
		return true
	}

	return f.set.Contains(num) != f.negate
}

func (f *SyscallFilter) All() bool {
	return f == nil || f.all
}

// Numbers returns the explicit members, ignoring negation.
func (f *SyscallFilter) Numbers() []uint32 {
	if f == nil {
		return nil
	}

	return f.set.ToArray()
}

func (f *SyscallFilter) String() string {
	if f.All() {
		return "all"
	}

	prefix := ""
	if f.negate {
		prefix = "!"
	}

	return fmt.Sprintf("%s%v", prefix, f.set.String())
}
