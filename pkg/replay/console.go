package replay

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/c-bata/go-prompt"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/coredump"
	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

const (
	Prompt            = "emd> "
	MsgCoreFailed     = "Failed to create coredump file"
	defaultListLength = 10
)

const helpText = `Commands:
  p                         previous event
  n                         next event
  <N>                       go to event N
  list <a>,<b>              list events a to b
  sys <a>[,<b>] [ret <op> <v>]
                            find syscalls a to b (names or numbers),
                            op is one of < <= > >= == !=
  sig <a>[,<b>]             find signals a to b
  x11 [text]                find x11 events
  dbus [text]               find dbus events
  tid <T>                   find events of thread T
  log 0|1                   disable/enable debug logging
  h                         this help
  q                         quit
`

// CoreFunc writes the core of event index to path and returns the
// executable the core belongs to, "" when unknown.
type CoreFunc func(index int, path string) (string, error)

// Console is the interactive browser of one recorded process.
type Console struct {
	src      Source
	pid      int
	exe      string
	cursor   int
	out      io.Writer
	scratch  string
	debugger Debugger
	core     CoreFunc
	verbose  bool

	resolveNum  system.NumberResolverFunc
	resolveName system.NameResolverFunc
	complete    *completer
}

type ConsoleOptions struct {
	Out      io.Writer
	Debugger Debugger
	// Core defaults to coredump.Write on the timeline.
	Core    CoreFunc
	Verbose bool
}

// NewConsole creates a console over tl. The cursor starts before the first event.
func NewConsole(tl *timeline.Timeline, opts ConsoleOptions) *Console {
	c := newConsole(tl, tl.Pid, tl.ExecPath, system.ElfMachineArch(tl.Machine).Name, opts)
	if c.core == nil {
		c.core = func(index int, path string) (string, error) {
			core, err := coredump.Write(tl, index, path, c.verbose)
			if err != nil {
				return "", err
			}
			return core.Exe, nil
		}
	}

	return c
}

func newConsole(src Source, pid int, exe string, arch system.ArchName, opts ConsoleOptions) *Console {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	return &Console{
		src:         src,
		pid:         pid,
		exe:         exe,
		cursor:      -1,
		out:         out,
		scratch:     config.ScratchDir(),
		debugger:    opts.Debugger,
		core:        opts.Core,
		verbose:     opts.Verbose,
		resolveNum:  system.CallNumberResolver(arch),
		resolveName: system.CallNameResolver(arch),
		complete:    newCompleter(arch),
	}
}

// Cursor is the current event index, -1 before the first navigation.
func (c *Console) Cursor() int {
	return c.cursor
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

// Execute runs one console line and reports whether the console should quit.
func (c *Console) Execute(line string) bool {
	cmd, err := ParseCommand(line, c.resolveName)
	if err != nil {
		c.printf("%v\n", err)
		return false
	}

	switch cmd.Op {
	case OpNone:
	case OpQuit:
		return true
	case OpHelp:
		c.printf("%s", helpText)
	case OpPrev:
		if c.cursor <= 0 {
			c.printf("already at the first event\n")
			return false
		}
		c.navigate(c.cursor - 1)
	case OpNext:
		if c.cursor+1 >= c.src.Count() {
			c.printf("already at the last event\n")
			return false
		}
		c.navigate(c.cursor + 1)
	case OpGoto:
		if cmd.Index < 0 || cmd.Index >= c.src.Count() {
			c.printf("invalid event index %d (count %d)\n", cmd.Index, c.src.Count())
			return false
		}
		c.navigate(cmd.Index)
	case OpList:
		c.list(int(cmd.From), int(cmd.To))
	case OpLog:
		if cmd.Debug {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
		c.printf("log level: %s\n", log.GetLevel())
	default:
		found := Search(c.src, cmd)
		for _, index := range found {
			c.show(index)
		}
		c.printf("%d event(s) found\n", len(found))
	}

	return false
}

func (c *Console) show(index int) {
	line, err := Describe(c.src, index, c.resolveNum)
	if err != nil {
		c.printf("event %d: %v\n", index, err)
		return
	}

	mark := " "
	if index == c.cursor {
		mark = ">"
	}

	c.printf("%s %s\n", mark, line)
}

func (c *Console) list(from, to int) {
	count := c.src.Count()
	if from >= count {
		c.printf("invalid range %d,%d (count %d)\n", from, to, count)
		return
	}

	if to >= count {
		to = count - 1
	}

	for i := from; i <= to; i++ {
		c.show(i)
	}
}

// navigate moves the cursor to a valid index and opens the debugger on it.
func (c *Console) navigate(index int) {
	c.cursor = index
	c.show(index)

	path := filepath.Join(c.scratch, fmt.Sprintf("emd-core-%d-%d", c.pid, index))
	exe, err := c.core(index, path)
	if err != nil {
		log.WithError(err).Debugf("replay: core of event %d", index)
		c.printf("%s\n", MsgCoreFailed)
		return
	}
	defer os.Remove(path)

	if c.debugger == nil {
		c.printf("core: %s\n", path)
		return
	}

	// the final exec when the core does not name one
	if exe == "" {
		exe = c.exe
	}

	if err := c.debugger.Debug(exe, path); err != nil {
		c.printf("debugger: %v\n", err)
	}
}

// Run reads commands from in until q or end of input. A terminal gets the
// interactive prompt with completion.
func (c *Console) Run(in *os.File) {
	c.printf("%s: %d events, pid %d (h for help)\n", c.exe, c.src.Count(), c.pid)

	if in != nil && term.IsTerminal(int(in.Fd())) {
		c.runPrompt()
		return
	}

	c.RunLines(in)
}

func (c *Console) runPrompt() {
	var history []string
	for {
		line := prompt.Input(Prompt, c.complete.suggest,
			prompt.OptionTitle("emd: replay"),
			prompt.OptionHistory(history),
			prompt.OptionPrefixTextColor(prompt.Blue),
			prompt.OptionCompletionWordSeparator(wordSeparator),
		)

		if line != "" {
			history = append(history, line)
		}

		if c.Execute(line) {
			return
		}
	}
}

// RunLines executes the lines of r without prompting interactively.
func (c *Console) RunLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for {
		c.printf("%s", Prompt)
		if !scanner.Scan() {
			c.printf("\n")
			return
		}

		if c.Execute(scanner.Text()) {
			return
		}
	}
}
