package system

// RegLayout describes where the recorder finds things in the flat
// general purpose register dump of an architecture. The dump has the
// elf_gregset_t order, so it can go into NT_PRSTATUS unchanged.
type RegLayout struct {
	Count      int
	PC         int
	SP         int
	SyscallNum int
	Ret        int
	Args       [6]int
}

// x86_64 user_regs_struct:
// r15 r14 r13 r12 rbp rbx r11 r10 r9 r8 rax rcx rdx rsi rdi orig_rax
// rip cs eflags rsp ss fs_base gs_base ds es fs gs
var amd64Regs = RegLayout{
	Count:      27,
	PC:         16,
	SP:         19,
	SyscallNum: 15,
	Ret:        10,
	Args:       [6]int{14, 13, 12, 7, 9, 8},
}

/*
ARM64 SYSCALL REGISTER USE:

Syscall Number:   x8
Return Value:     x0
1st Param (arg0): x0
2nd Param (arg1): x1
3rd Param (arg2): x2
4th Param (arg3): x3
5th Param (arg4): x4
6th Param (arg5): x5

x0..x30 sp pc pstate
*/
var arm64Regs = RegLayout{
	Count:      34,
	PC:         32,
	SP:         31,
	SyscallNum: 8,
	Ret:        0,
	Args:       [6]int{0, 1, 2, 3, 4, 5},
}

func (l RegLayout) get(regs []uint64, idx int) uint64 {
	if idx < 0 || idx >= len(regs) {
		return 0
	}

	return regs[idx]
}

func (l RegLayout) CallNumber(regs []uint64) uint64 {
	return l.get(regs, l.SyscallNum)
}

func (l RegLayout) CallReturnValue(regs []uint64) uint64 {
	return l.get(regs, l.Ret)
}

func (l RegLayout) CallParam(regs []uint64, n int) uint64 {
	if n < 0 || n >= len(l.Args) {
		return 0
	}

	return l.get(regs, l.Args[n])
}

func (l RegLayout) CallParams(regs []uint64) [6]uint64 {
	var params [6]uint64
	for i := range params {
		params[i] = l.CallParam(regs, i)
	}

	return params
}

func (l RegLayout) PCValue(regs []uint64) uint64 {
	return l.get(regs, l.PC)
}

func (l RegLayout) SPValue(regs []uint64) uint64 {
	return l.get(regs, l.SP)
}
