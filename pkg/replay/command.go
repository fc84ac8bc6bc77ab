// Package replay implements the interactive console used to browse a
// recorded timeline and open debugger sessions on synthesized core files.
package replay

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/slimtoolkit/emd/pkg/system"
)

type Op int

const (
	OpNone Op = iota
	OpPrev
	OpNext
	OpGoto
	OpList
	OpSys
	OpSig
	OpX11
	OpDBus
	OpTid
	OpLog
	OpHelp
	OpQuit
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgument    = errors.New("bad argument")
)

// Command is one parsed console line.
type Command struct {
	Op    Op
	Index int
	// inclusive bounds for list, sys and sig
	From int64
	To   int64
	// Text filters x11 and dbus events by substring.
	Text   string
	Tid    int32
	Result *ResultFilter
	Debug  bool
}

// ResultFilter compares an event result against a value.
type ResultFilter struct {
	Op    string
	Value int64
}

func (f *ResultFilter) Match(result int64) bool {
	if f == nil {
		return true
	}

	switch f.Op {
	case "<":
		return result < f.Value
	case "<=":
		return result <= f.Value
	case ">":
		return result > f.Value
	case ">=":
		return result >= f.Value
	case "==", "=":
		return result == f.Value
	case "!=":
		return result != f.Value
	}

	return false
}

var retExpr = regexp.MustCompile(`^ret(<=|>=|==|!=|<|>|=)([-+]?(?:0[xX][0-9a-fA-F]+|[0-9]+))$`)

// ParseCommand parses a console line. An empty line yields OpNone.
// resolve maps syscall names to numbers.
func ParseCommand(line string, resolve system.NameResolverFunc) (*Command, error) {
	parts, err := shlex.Split(strings.TrimSpace(line))
	if err != nil {
		return nil, errors.Wrap(ErrBadArgument, err.Error())
	}

	if len(parts) == 0 {
		return &Command{Op: OpNone}, nil
	}

	name, args := parts[0], parts[1:]
	switch name {
	case "p", "prev":
		return noArgs(OpPrev, args)
	case "n", "next":
		return noArgs(OpNext, args)
	case "h", "help", "?":
		return noArgs(OpHelp, args)
	case "q", "quit", "exit":
		return noArgs(OpQuit, args)
	case "list", "l":
		return parseList(args)
	case "sys":
		return parseSys(args, resolve)
	case "sig":
		return parseSig(args)
	case "x11":
		return &Command{Op: OpX11, Text: strings.Join(args, " ")}, nil
	case "dbus":
		return &Command{Op: OpDBus, Text: strings.Join(args, " ")}, nil
	case "tid":
		if len(args) != 1 {
			return nil, errors.Wrap(ErrBadArgument, "usage: tid <tid>")
		}
		tid, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil || tid <= 0 {
			return nil, errors.Wrapf(ErrBadArgument, "invalid tid '%s'", args[0])
		}
		return &Command{Op: OpTid, Tid: int32(tid)}, nil
	case "log":
		if len(args) != 1 || (args[0] != "0" && args[0] != "1") {
			return nil, errors.Wrap(ErrBadArgument, "usage: log 0|1")
		}
		return &Command{Op: OpLog, Debug: args[0] == "1"}, nil
	}

	if index, err := strconv.Atoi(name); err == nil {
		if len(args) > 0 {
			return nil, errors.Wrapf(ErrBadArgument, "unexpected '%s'", args[0])
		}
		return &Command{Op: OpGoto, Index: index}, nil
	}

	return nil, errors.Wrapf(ErrUnknownCommand, "'%s' (h for help)", name)
}

func noArgs(op Op, args []string) (*Command, error) {
	if len(args) > 0 {
		return nil, errors.Wrapf(ErrBadArgument, "unexpected '%s'", args[0])
	}

	return &Command{Op: op}, nil
}

// parseBounds splits "a[,b]" and resolves both ends with value.
func parseBounds(expr string, value func(string) (int64, error)) (int64, int64, error) {
	first, second, ranged := strings.Cut(expr, ",")
	from, err := value(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, err
	}

	to := from
	if ranged {
		if to, err = value(strings.TrimSpace(second)); err != nil {
			return 0, 0, err
		}
	}

	if from > to {
		return 0, 0, errors.Wrapf(ErrBadArgument, "invalid range '%s'", expr)
	}

	return from, to, nil
}

func number(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrBadArgument, "invalid number '%s'", s)
	}

	return v, nil
}

func parseList(args []string) (*Command, error) {
	if len(args) != 1 {
		return nil, errors.Wrap(ErrBadArgument, "usage: list <from>,<to>")
	}

	from, to, err := parseBounds(args[0], number)
	if err != nil {
		return nil, err
	}

	if from < 0 {
		return nil, errors.Wrapf(ErrBadArgument, "invalid range '%s'", args[0])
	}

	return &Command{Op: OpList, From: from, To: to}, nil
}

func parseSys(args []string, resolve system.NameResolverFunc) (*Command, error) {
	if len(args) == 0 {
		return nil, errors.Wrap(ErrBadArgument, "usage: sys <a>[,<b>] [ret <op> <value>]")
	}

	value := func(s string) (int64, error) {
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			if v < 0 {
				return 0, errors.Wrapf(ErrBadArgument, "invalid syscall '%s'", s)
			}
			return v, nil
		}

		if resolve != nil {
			if num, ok := resolve(s); ok {
				return int64(num), nil
			}
		}

		return 0, errors.Wrapf(ErrBadArgument, "unknown syscall '%s'", s)
	}

	from, to, err := parseBounds(args[0], value)
	if err != nil {
		return nil, err
	}

	cmd := &Command{Op: OpSys, From: from, To: to}
	if len(args) > 1 {
		if cmd.Result, err = parseResultFilter(args[1:]); err != nil {
			return nil, err
		}
	}

	return cmd, nil
}

// parseResultFilter accepts "ret < 0", "ret <0", "ret< 0" and "ret<0".
func parseResultFilter(args []string) (*ResultFilter, error) {
	expr := strings.Join(args, "")
	m := retExpr.FindStringSubmatch(expr)
	if m == nil {
		return nil, errors.Wrapf(ErrBadArgument, "invalid result filter '%s'", strings.Join(args, " "))
	}

	v, err := strconv.ParseInt(m[2], 0, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrBadArgument, "invalid result value '%s'", m[2])
	}

	return &ResultFilter{Op: m[1], Value: v}, nil
}

func signalNumber(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 32); err == nil {
		if v <= 0 || v > 64 {
			return 0, errors.Wrapf(ErrBadArgument, "invalid signal '%s'", s)
		}
		return v, nil
	}

	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}

	if sig := unix.SignalNum(name); sig != 0 {
		return int64(sig), nil
	}

	return 0, errors.Wrapf(ErrBadArgument, "unknown signal '%s'", s)
}

func parseSig(args []string) (*Command, error) {
	if len(args) != 1 {
		return nil, errors.Wrap(ErrBadArgument, "usage: sig <a>[,<b>]")
	}

	from, to, err := parseBounds(args[0], signalNumber)
	if err != nil {
		return nil, err
	}

	return &Command{Op: OpSig, From: from, To: to}, nil
}
