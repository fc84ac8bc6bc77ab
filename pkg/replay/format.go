package replay

import (
	"fmt"
	"strings"

	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

// FormatEvent renders one event as a single line. x may be nil.
func FormatEvent(index int, e timeline.EventEntry, x *timeline.ExtraInfo, resolve system.NumberResolverFunc) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d tid=%d %s", index, e.Tid, e.Name(resolve))

	switch e.Kind() {
	case timeline.KindSyscall:
		fmt.Fprintf(&sb, " = %d", e.Result)
	case timeline.KindFunc, timeline.KindDBus, timeline.KindX11:
		if x != nil && x.Text != "" {
			fmt.Fprintf(&sb, " %q", x.Text)
		}
	}

	if x == nil {
		return sb.String()
	}

	if x.Path != "" {
		fmt.Fprintf(&sb, " path=%s", x.Path)
	}

	if n := x.MemSize(); n > 0 {
		fmt.Fprintf(&sb, " mem=%d/%d", len(x.Mem), n)
	}

	return sb.String()
}

// Describe renders the event at index, decoding its extra info.
func Describe(src Source, index int, resolve system.NumberResolverFunc) (string, error) {
	e, err := src.Event(index)
	if err != nil {
		return "", err
	}

	x, err := src.DecodeExtra(index)
	if err != nil {
		return "", err
	}

	return FormatEvent(index, e, x, resolve), nil
}
