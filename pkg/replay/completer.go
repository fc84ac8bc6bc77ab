package replay

import (
	"fmt"
	"strings"

	"github.com/armon/go-radix"
	"github.com/c-bata/go-prompt"

	"github.com/slimtoolkit/emd/pkg/system"
)

const (
	wordSeparator  = " ,"
	maxSuggestions = 16
)

var commandSuggestions = []prompt.Suggest{
	{Text: "p", Description: "previous event"},
	{Text: "n", Description: "next event"},
	{Text: "list", Description: "list a range of events"},
	{Text: "sys", Description: "find syscalls"},
	{Text: "sig", Description: "find signals"},
	{Text: "x11", Description: "find x11 events"},
	{Text: "dbus", Description: "find dbus events"},
	{Text: "tid", Description: "find events of a thread"},
	{Text: "log", Description: "toggle debug logging"},
	{Text: "h", Description: "help"},
	{Text: "q", Description: "quit"},
}

type completer struct {
	commands *radix.Tree
	syscalls *radix.Tree
}

func newCompleter(arch system.ArchName) *completer {
	c := &completer{
		commands: radix.New(),
		syscalls: radix.New(),
	}

	for _, s := range commandSuggestions {
		c.commands.Insert(s.Text, s.Description)
	}

	resolve := system.CallNameResolver(arch)
	for _, name := range system.CallNames(arch) {
		if num, ok := resolve(name); ok {
			c.syscalls.Insert(name, fmt.Sprintf("syscall %d", num))
		}
	}

	return c
}

func walk(tree *radix.Tree, prefix string) []prompt.Suggest {
	var out []prompt.Suggest
	tree.WalkPrefix(prefix, func(key string, v interface{}) bool {
		out = append(out, prompt.Suggest{Text: key, Description: v.(string)})
		return len(out) >= maxSuggestions
	})

	return out
}

// Complete returns the suggestions for the text before the cursor.
func (c *completer) Complete(before string) []prompt.Suggest {
	fields := strings.Fields(before)
	word := ""
	if idx := strings.LastIndexAny(before, wordSeparator); idx >= 0 {
		word = before[idx+1:]
	} else {
		word = before
	}

	if len(fields) == 0 || (len(fields) == 1 && word != "") {
		if word == "" {
			return nil
		}
		return walk(c.commands, word)
	}

	if fields[0] == "sys" && word != "" {
		return walk(c.syscalls, word)
	}

	return nil
}

func (c *completer) suggest(doc prompt.Document) []prompt.Suggest {
	return c.Complete(doc.TextBeforeCursor())
}
