package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Overrides holds the command line settings. Nil/empty fields leave the
// file value alone. StackSizeKB and HeapSizeKB are in KB, ParamSize in bytes.
type Overrides struct {
	StackSizeKB       *int
	HeapSizeKB        *int
	ParamSize         *int
	Vars              []string
	Funcs             []string
	VDSO              string
	Syscalls          string
	Sigs              string
	DBus              string
	X11               string
	CurrentThreadOnly bool
	Mode              string
	DumpDir           string
}

// Apply merges o into c. Flags always win over file values.
func (c *DumpConfig) Apply(o *Overrides) error {
	if o == nil {
		return nil
	}

	if o.StackSizeKB != nil {
		c.MaxStackSize = *o.StackSizeKB * 1024
	}

	if o.HeapSizeKB != nil {
		c.MaxHeapSize = *o.HeapSizeKB * 1024
	}

	if o.ParamSize != nil {
		c.MaxParamSize = *o.ParamSize
	}

	if len(o.Vars) > 0 {
		c.Vars = nil
		for _, spec := range o.Vars {
			v, err := ParseVarSpec(spec)
			if err != nil {
				return err
			}

			c.Vars = append(c.Vars, v)
		}
	}

	if len(o.Funcs) > 0 {
		c.Funcs = append([]string(nil), o.Funcs...)
	}

	switch strings.ToLower(o.VDSO) {
	case "":
	case "on", "1", "true", "yes":
		c.HookVDSO = true
	case "off", "0", "false", "no":
		c.HookVDSO = false
	default:
		return fmt.Errorf("bad --vdso value %q (expected on|off)", o.VDSO)
	}

	if o.Syscalls != "" {
		c.Syscalls = o.Syscalls
	}

	if o.Sigs != "" {
		sigs, err := ParseSignalList(o.Sigs)
		if err != nil {
			return err
		}

		c.Sigs = sigs
	}

	if o.DBus != "" {
		c.DBus = splitList(o.DBus)
	}

	if o.X11 != "" {
		c.X11 = splitList(o.X11)
	}

	if o.CurrentThreadOnly {
		c.CurrentThreadOnly = true
	}

	if o.Mode != "" {
		c.Mode = Mode(o.Mode)
	}

	if o.DumpDir != "" {
		c.DumpDir = NormalizeDumpDir(o.DumpDir)
	}

	return c.Validate()
}

// ParseVarSpec parses "[*]name[:max_size]". A leading '*' marks a pointer
// whose target is captured instead of the variable itself.
func ParseVarSpec(spec string) (VarSpec, error) {
	v := VarSpec{MaxSize: DefaultVarSize}

	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "*") {
		v.IsPointer = true
		spec = spec[1:]
	}

	name, size, hasSize := strings.Cut(spec, ":")
	if name == "" {
		return v, fmt.Errorf("bad --var spec %q: missing name", spec)
	}

	v.Name = name
	if hasSize {
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			return v, fmt.Errorf("bad --var spec %q: size must be a positive number", spec)
		}

		v.MaxSize = n
	}

	return v, nil
}

// ParseSignalList parses a comma separated list of signal numbers or names
// ("10", "SIGUSR1", "usr1").
func ParseSignalList(list string) ([]int, error) {
	var sigs []int
	for _, item := range splitList(list) {
		if n, err := strconv.Atoi(item); err == nil {
			if n <= 0 || n >= 65 {
				return nil, fmt.Errorf("bad signal number %d", n)
			}

			sigs = append(sigs, n)
			continue
		}

		name := strings.ToUpper(item)
		if !strings.HasPrefix(name, "SIG") {
			name = "SIG" + name
		}

		sig := unix.SignalNum(name)
		if sig == 0 {
			return nil, errors.Errorf("unknown signal %q", item)
		}

		sigs = append(sigs, int(sig))
	}

	return sigs, nil
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}
