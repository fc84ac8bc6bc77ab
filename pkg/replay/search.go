package replay

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/timeline"
)

// Source is the read side of a timeline.
type Source interface {
	Count() int
	Event(index int) (timeline.EventEntry, error)
	DecodeExtra(index int) (*timeline.ExtraInfo, error)
}

// Search returns the indexes of the events matching a filter command
// (sys, sig, x11, dbus, tid), in timeline order.
func Search(src Source, cmd *Command) []int {
	var found []int
	for i := 0; i < src.Count(); i++ {
		e, err := src.Event(i)
		if err != nil {
			break
		}

		if matches(src, i, e, cmd) {
			found = append(found, i)
		}
	}

	return found
}

func matches(src Source, index int, e timeline.EventEntry, cmd *Command) bool {
	switch cmd.Op {
	case OpSys:
		num, ok := e.Syscall()
		if !ok || int64(num) < cmd.From || int64(num) > cmd.To {
			return false
		}
		return cmd.Result.Match(e.Result)
	case OpSig:
		sig, ok := e.Signal()
		return ok && int64(sig) >= cmd.From && int64(sig) <= cmd.To
	case OpX11:
		return e.Kind() == timeline.KindX11 && textMatches(src, index, cmd.Text)
	case OpDBus:
		return e.Kind() == timeline.KindDBus && textMatches(src, index, cmd.Text)
	case OpTid:
		return e.Tid == cmd.Tid
	}

	return false
}

func textMatches(src Source, index int, text string) bool {
	if text == "" {
		return true
	}

	x, err := src.DecodeExtra(index)
	if err != nil {
		log.WithError(err).Debugf("replay: event %d extra info", index)
		return false
	}

	return x != nil && strings.Contains(x.Text, text)
}
