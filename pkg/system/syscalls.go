package system

import (
	"sort"
	"strings"
)

const (
	SyscallUnknownNum  = -1
	SyscallUnknownName = "unknown_syscall"
)

type NumberResolverFunc func(uint32) string
type NameResolverFunc func(string) (uint32, bool)

func CallNumberResolver(arch ArchName) NumberResolverFunc {
	switch arch {
	case ArchNameAmd64:
		return callNameX86Family64
	case ArchNameArm64:
		return callNameArmFamily64
	default:
		return nil
	}
}

func CallNameResolver(arch ArchName) NameResolverFunc {
	switch arch {
	case ArchNameAmd64:
		return callNumberX86Family64
	case ArchNameArm64:
		return callNumberArmFamily64
	default:
		return nil
	}
}

// CallNames returns the sorted list of known syscall names for arch.
func CallNames(arch ArchName) []string {
	var table []string
	switch arch {
	case ArchNameAmd64:
		table = syscallNumTableX86Family64[:]
	case ArchNameArm64:
		table = syscallNumTableArmFamily64[:]
	}

	var names []string
	for _, name := range table {
		if name != "" {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

func callNameX86Family64(num uint32) string {
	if int(num) >= len(syscallNumTableX86Family64) || syscallNumTableX86Family64[num] == "" {
		return SyscallUnknownName
	}

	return syscallNumTableX86Family64[num]
}

func callNameArmFamily64(num uint32) string {
	if int(num) >= len(syscallNumTableArmFamily64) || syscallNumTableArmFamily64[num] == "" {
		return SyscallUnknownName
	}

	return syscallNumTableArmFamily64[num]
}

var (
	syscallNameTableX86Family64 = reverseTable(syscallNumTableX86Family64[:])
	syscallNameTableArmFamily64 = reverseTable(syscallNumTableArmFamily64[:])
)

func reverseTable(table []string) map[string]uint32 {
	m := make(map[string]uint32, len(table))
	for num, name := range table {
		if name != "" {
			m[name] = uint32(num)
		}
	}

	return m
}

func callNumberX86Family64(name string) (uint32, bool) {
	num, ok := syscallNameTableX86Family64[strings.ToLower(name)]
	return num, ok
}

func callNumberArmFamily64(name string) (uint32, bool) {
	num, ok := syscallNameTableArmFamily64[strings.ToLower(name)]
	return num, ok
}
