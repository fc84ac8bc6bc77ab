package dump

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"

	"github.com/slimtoolkit/emd/pkg/app"
	"github.com/slimtoolkit/emd/pkg/app/emd/command"
	"github.com/slimtoolkit/emd/pkg/replay"
	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

type ovars = app.OutVars

// WriteEvents prints one line per event of tl.
func WriteEvents(w io.Writer, tl *timeline.Timeline) error {
	resolve := system.CallNumberResolver(system.ElfMachineArch(tl.Machine).Name)
	bw := bufio.NewWriter(w)
	for i := 0; i < tl.Count(); i++ {
		line, err := replay.Describe(tl, i, resolve)
		if err != nil {
			return err
		}

		fmt.Fprintln(bw, line)
	}

	return bw.Flush()
}

type nameCount struct {
	name  string
	count int
}

// Summarize counts the events of tl by name, most frequent first.
func Summarize(tl *timeline.Timeline) []nameCount {
	resolve := system.CallNumberResolver(system.ElfMachineArch(tl.Machine).Name)
	counts := map[string]int{}
	for _, e := range tl.Events() {
		counts[e.Name(resolve)]++
	}

	var out []nameCount
	for name, count := range counts {
		out = append(out, nameCount{name: name, count: count})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})

	return out
}

// OnCommand implements the 'dump' command
func OnCommand(xc *app.ExecutionContext, gparams *command.GenericParams, dirArg, pidArg string, summary bool) {
	cfg := command.LoadConfig(gparams)
	dir, err := command.ResolveTraceDir(dirArg, cfg)
	if errors.Cause(err) == command.ErrNoTraceDir {
		xc.UserError("can't find directory `%s`", dir)
	}
	xc.FailOn(err)

	pid, err := command.ResolvePid(dir, pidArg)
	if err != nil {
		xc.UserError("%v", err)
	}

	tl, err := timeline.OpenDir(dir, pid)
	if err != nil {
		xc.UserError("can't open the recording of pid %d in `%s`: %v", pid, dir, err)
	}
	xc.AddCleanupHandler(func() { tl.Close() })
	defer tl.Close()

	xc.Out.Info("process", ovars{
		"pid":       pid,
		"exe":       tl.ExecPath,
		"events":    tl.Count(),
		"snapshots": len(tl.Maps),
		"truncated": tl.Truncated,
	})

	if !summary {
		xc.FailOn(WriteEvents(os.Stdout, tl))
		return
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Event", "Count"})
	for _, nc := range Summarize(tl) {
		tw.AppendRow(table.Row{nc.name, nc.count})
	}
	tw.AppendFooter(table.Row{"Total", tl.Count()})

	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	fmt.Printf("%s\n", tw.Render())
}
