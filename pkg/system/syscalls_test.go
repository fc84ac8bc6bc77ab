package system

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallNameResolvers(t *testing.T) {
	tt := []struct {
		arch ArchName
		num  uint32
		name string
	}{
		{arch: ArchNameAmd64, num: 0, name: "read"},
		{arch: ArchNameAmd64, num: 2, name: "open"},
		{arch: ArchNameAmd64, num: 59, name: "execve"},
		{arch: ArchNameAmd64, num: 231, name: "exit_group"},
		{arch: ArchNameAmd64, num: 257, name: "openat"},
		{arch: ArchNameAmd64, num: 334, name: "rseq"},
		{arch: ArchNameAmd64, num: 435, name: "clone3"},
		{arch: ArchNameArm64, num: 56, name: "openat"},
		{arch: ArchNameArm64, num: 63, name: "read"},
		{arch: ArchNameArm64, num: 64, name: "write"},
		{arch: ArchNameArm64, num: 221, name: "execve"},
		{arch: ArchNameArm64, num: 222, name: "mmap"},
		{arch: ArchNameArm64, num: 260, name: "wait4"},
		{arch: ArchNameArm64, num: 435, name: "clone3"},
	}

	for _, test := range tt {
		if got := CallNumberResolver(test.arch)(test.num); got != test.name {
			t.Errorf("%s: name(%d) = %q, want %q", test.arch, test.num, got, test.name)
		}

		num, ok := CallNameResolver(test.arch)(test.name)
		if !ok || num != test.num {
			t.Errorf("%s: number(%q) = %d/%v, want %d", test.arch, test.name, num, ok, test.num)
		}
	}

	assert.Equal(t, SyscallUnknownName, CallNumberResolver(ArchNameAmd64)(400))
	assert.Equal(t, SyscallUnknownName, CallNumberResolver(ArchNameArm64)(250))
	assert.Equal(t, SyscallUnknownName, CallNumberResolver(ArchNameArm64)(100000))
	_, ok := CallNameResolver(ArchNameArm64)("open")
	assert.False(t, ok, "arm64 has no plain open")
	assert.Nil(t, CallNumberResolver(ArchNameUnknown))
}

func TestParseSyscallFilter(t *testing.T) {
	resolve := CallNameResolver(ArchNameAmd64)
	num := func(name string) uint32 {
		n, ok := resolve(name)
		require.True(t, ok, name)
		return n
	}

	f, err := ParseSyscallFilter(ArchNameAmd64, "")
	require.NoError(t, err)
	assert.True(t, f.All())
	assert.True(t, f.Match(num("getpid")))

	f, err = ParseSyscallFilter(ArchNameAmd64, "file")
	require.NoError(t, err)
	for _, name := range []string{"open", "openat", "write", "close", "read"} {
		assert.True(t, f.Match(num(name)), name)
	}
	assert.False(t, f.Match(num("getpid")))
	assert.False(t, f.Match(num("socket")))

	f, err = ParseSyscallFilter(ArchNameAmd64, "network, 39,mmap")
	require.NoError(t, err)
	assert.True(t, f.Match(num("connect")))
	assert.True(t, f.Match(39))
	assert.True(t, f.Match(num("mmap")))
	assert.False(t, f.Match(num("write")))

	f, err = ParseSyscallFilter(ArchNameAmd64, "0-3")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3}, f.Numbers())

	f, err = ParseSyscallFilter(ArchNameAmd64, "!memory")
	require.NoError(t, err)
	assert.False(t, f.Match(num("mmap")))
	assert.True(t, f.Match(num("write")))

	_, err = ParseSyscallFilter(ArchNameAmd64, "write,nosuchcall")
	assert.ErrorIs(t, err, ErrUnknownSyscall)
}

func TestGroups(t *testing.T) {
	for _, arch := range []ArchName{ArchNameAmd64, ArchNameArm64} {
		for _, group := range GroupNames() {
			nums, ok := GroupCalls(arch, group)
			assert.True(t, ok)
			assert.NotEmpty(t, nums, "%s/%s", arch, group)
		}

		assert.Len(t, MapChangingCallNumbers(arch), len(MapChangingCalls))
	}

	_, ok := GroupCalls(ArchNameAmd64, "bogus")
	assert.False(t, ok)
}

func TestRegLayout(t *testing.T) {
	regs := make([]uint64, amd64Regs.Count)
	regs[15] = 1    // orig_rax
	regs[10] = 42   // rax
	regs[14] = 7    // rdi
	regs[7] = 8     // r10
	regs[16] = 0x40 // rip

	l := x86Family64Arch.Regs
	assert.EqualValues(t, 1, l.CallNumber(regs))
	assert.EqualValues(t, 42, l.CallReturnValue(regs))
	assert.EqualValues(t, 7, l.CallParam(regs, 0))
	assert.EqualValues(t, 8, l.CallParam(regs, 3))
	assert.EqualValues(t, 0x40, l.PCValue(regs))
	assert.Zero(t, l.CallParam(regs, 6))
	assert.Zero(t, l.PCValue(nil))
}

func TestArchLookup(t *testing.T) {
	tt := []struct {
		machine elf.Machine
		name    ArchName
	}{
		{machine: elf.EM_X86_64, name: ArchNameAmd64},
		{machine: elf.EM_AARCH64, name: ArchNameArm64},
		{machine: elf.EM_386, name: ArchNameUnknown},
	}

	for _, test := range tt {
		if got := ElfMachineArch(test.machine).Name; got != test.name {
			t.Errorf("ElfMachineArch(%v) = %v, want %v", test.machine, got, test.name)
		}
	}

	assert.Equal(t, ArchNameArm64, LookupArch(ArchNameArm64).Name)
	assert.Equal(t, ArchNameAmd64, MachineToArchName("x86_64"))
}
