package system

import (
	"debug/elf"
	"runtime"
)

type ArchName string

const (
	ArchNameUnknown     ArchName = "unknown"
	ArchNameUnsupported ArchName = "unsupported"
	ArchNameAmd64       ArchName = "amd64"
	ArchNameArm64       ArchName = "aarch64"
)

type MachineName string

const (
	MachineNameNamex86_64 MachineName = "x86_64"
	MachineNameNameArm64  MachineName = "aarch64"
)

type ArchBits uint8

const (
	ArchBits32 ArchBits = 32
	ArchBits64 ArchBits = 64
)

type ArchFamily string

const (
	ArchFamilyX86 ArchFamily = "x86"
	ArchFamilyArm ArchFamily = "arm"
)

type ArchInfo struct {
	Name       ArchName
	Family     ArchFamily
	Bits       ArchBits
	ElfMachine elf.Machine
	Regs       RegLayout
}

var x86Family64Arch = ArchInfo{
	Name:       ArchNameAmd64,
	Family:     ArchFamilyX86,
	Bits:       ArchBits64,
	ElfMachine: elf.EM_X86_64,
	Regs:       amd64Regs,
}

var ArmFamily64Arch = ArchInfo{
	Name:       ArchNameArm64,
	Family:     ArchFamilyArm,
	Bits:       ArchBits64,
	ElfMachine: elf.EM_AARCH64,
	Regs:       arm64Regs,
}

var unknownArch = ArchInfo{
	Name: ArchNameUnknown,
}

var archMap = map[MachineName]*ArchInfo{
	MachineNameNamex86_64: &x86Family64Arch,
	MachineNameNameArm64:  &ArmFamily64Arch,
}

var goArchMap = map[string]*ArchInfo{
	"amd64": &x86Family64Arch,
	"arm64": &ArmFamily64Arch,
}

func MachineToArchName(mtype string) ArchName {
	if archInfo, ok := archMap[MachineName(mtype)]; ok {
		return archInfo.Name
	}

	return ArchNameUnknown
}

func MachineToArch(mtype string) *ArchInfo {
	if archInfo, ok := archMap[MachineName(mtype)]; ok {
		return archInfo
	}

	return &unknownArch
}

// LookupArch returns the ArchInfo for a recorded arch name.
func LookupArch(name ArchName) *ArchInfo {
	for _, info := range archMap {
		if info.Name == name {
			return info
		}
	}

	return &unknownArch
}

// CurrentArch is the architecture the recorder was built for.
func CurrentArch() *ArchInfo {
	if info, ok := goArchMap[runtime.GOARCH]; ok {
		return info
	}

	return &unknownArch
}

// ElfMachineArch returns the ArchInfo matching an ELF machine type.
func ElfMachineArch(machine elf.Machine) *ArchInfo {
	for _, info := range archMap {
		if info.ElfMachine == machine {
			return info
		}
	}

	return &unknownArch
}
