package app

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/util/errutil"
)

type ExecutionContext struct {
	Out             *Output
	cleanupHandlers []func()
}

func (ref *ExecutionContext) Exit(exitCode int) {
	ref.doCleanup()
	os.Exit(exitCode)
}

func (ref *ExecutionContext) AddCleanupHandler(handler func()) {
	if handler != nil {
		ref.cleanupHandlers = append(ref.cleanupHandlers, handler)
	}
}

func (ref *ExecutionContext) doCleanup() {
	if len(ref.cleanupHandlers) == 0 {
		return
	}

	//call cleanup handlers in reverse order
	for i := len(ref.cleanupHandlers) - 1; i >= 0; i-- {
		cleanup := ref.cleanupHandlers[i]
		if cleanup != nil {
			cleanup()
		}
	}

	ref.cleanupHandlers = nil
}

func (ref *ExecutionContext) FailOn(err error) {
	if err != nil {
		ref.doCleanup()
	}

	errutil.FailOn(err)
}

// UserError prints an actionable message to stderr and exits with code 1.
func (ref *ExecutionContext) UserError(format string, args ...interface{}) {
	ref.doCleanup()
	errutil.Exit(1, "%s: "+format, append([]interface{}{consts.AppName}, args...)...)
}

func NewExecutionContext(cmdName string, quiet bool) *ExecutionContext {
	ref := &ExecutionContext{
		Out: NewOutput(cmdName, quiet),
	}

	return ref
}

// Output prints the cmd=... key=value status lines. The traced program owns
// stdout, so status lines go to stderr.
type Output struct {
	CmdName string
	Quiet   bool
	w       io.Writer
}

func NewOutput(cmdName string, quiet bool) *Output {
	ref := &Output{
		CmdName: cmdName,
		Quiet:   quiet,
		w:       os.Stderr,
	}

	return ref
}

func NoColor() {
	color.NoColor = true
}

type OutVars map[string]interface{}

var (
	itcolor = color.New(color.FgMagenta, color.Bold).SprintFunc()
	kcolor  = color.New(color.FgHiGreen, color.Bold).SprintFunc()
	vcolor  = color.New(color.FgHiBlue).SprintfFunc()
)

func sortedKeys(kvSet OutVars) []string {
	keys := make([]string, 0, len(kvSet))
	for k := range kvSet {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}

func formatVars(kvSet OutVars, skip string, colored bool) string {
	var builder strings.Builder
	for _, k := range sortedKeys(kvSet) {
		if k == skip {
			continue
		}

		if colored {
			builder.WriteString(kcolor(k))
			builder.WriteString("=")
			builder.WriteString(fmt.Sprintf("'%s'", vcolor("%v", kvSet[k])))
		} else {
			builder.WriteString(fmt.Sprintf("%s=%v", k, kvSet[k]))
		}
		builder.WriteString(" ")
	}

	return strings.TrimSpace(builder.String())
}

func (ref *Output) Error(errType string, data string) {
	color.Set(color.FgHiRed)
	defer color.Unset()

	fmt.Fprintf(ref.w, "cmd=%s error=%s message='%s'\n", ref.CmdName, errType, data)
}

func (ref *Output) Message(data string) {
	if ref.Quiet {
		return
	}

	color.Set(color.FgHiMagenta)
	defer color.Unset()

	fmt.Fprintf(ref.w, "cmd=%s message='%s'\n", ref.CmdName, data)
}

func (ref *Output) State(state string, params ...OutVars) {
	if ref.Quiet {
		return
	}

	var exitInfo string
	var info string

	if len(params) > 0 {
		kvSet := params[0]
		if exitCode, ok := kvSet["exit.code"]; ok {
			exitInfo = fmt.Sprintf(" code=%d", exitCode)
		}

		if data := formatVars(kvSet, "exit.code", false); data != "" {
			info = " " + data
		}
	}

	if state == "exited" || state == "error" {
		color.Set(color.FgHiRed, color.Bold)
	} else {
		color.Set(color.FgCyan, color.Bold)
	}
	defer color.Unset()

	fmt.Fprintf(ref.w, "cmd=%s state=%s%s%s\n", ref.CmdName, state, exitInfo, info)
}

func (ref *Output) Info(infoType string, params ...OutVars) {
	if ref.Quiet {
		return
	}

	var data string
	if len(params) > 0 {
		if vars := formatVars(params[0], "", true); vars != "" {
			data = " " + vars
		}
	}

	fmt.Fprintf(ref.w, "cmd=%s info=%s%s\n", ref.CmdName, itcolor(infoType), data)
}
