package ps

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/app"
	"github.com/slimtoolkit/emd/pkg/app/emd/command"
	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/report"
	"github.com/slimtoolkit/emd/pkg/timeline"
	"github.com/slimtoolkit/emd/pkg/util/jsonutil"
)

type ovars = app.OutVars

// ProcessRow describes one recorded process.
type ProcessRow struct {
	Pid       int    `json:"pid"`
	ParentPid int    `json:"ppid,omitempty"`
	Root      bool   `json:"root,omitempty"`
	Exe       string `json:"exe"`
	Events    int    `json:"events"`
	Snapshots int    `json:"snapshots"`
	Size      int64  `json:"size"`
	ExitCode  int    `json:"exit_code"`
	FatalSig  int    `json:"fatal_sig,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ListProcesses collects the recorded processes of dir.
func ListProcesses(dir string) ([]ProcessRow, error) {
	pids, err := timeline.ListPids(dir)
	if err != nil {
		return nil, err
	}

	rep, err := report.LoadSessionReport(filepath.Join(dir, consts.SessionFileName))
	if err != nil {
		log.WithError(err).Debug("ps: no session manifest")
		rep = nil
	}

	var rows []ProcessRow
	for _, pid := range pids {
		tl, err := timeline.OpenDir(dir, pid)
		if err != nil {
			log.WithError(err).Warnf("ps: skipping pid %d", pid)
			continue
		}

		row := ProcessRow{
			Pid:       pid,
			Exe:       tl.ExecPath,
			Events:    tl.Count(),
			Snapshots: len(tl.Maps),
			Truncated: tl.Truncated,
		}
		tl.Close()

		if info, err := os.Stat(filepath.Join(dir, timeline.ContextFileName(pid))); err == nil {
			row.Size = info.Size()
		}

		if rep != nil {
			row.Root = pid == rep.RootPid
			if pinfo, ok := rep.Processes[fmt.Sprint(pid)]; ok {
				row.ParentPid = pinfo.ParentPid
				row.ExitCode = pinfo.ExitCode
				row.FatalSig = pinfo.FatalSig
			}
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// OnCommand implements the 'ps' command
func OnCommand(xc *app.ExecutionContext, gparams *command.GenericParams, dirArg string, asJSON bool) {
	cfg := command.LoadConfig(gparams)
	dir, err := command.ResolveTraceDir(dirArg, cfg)
	if errors.Cause(err) == command.ErrNoTraceDir {
		xc.UserError("can't find directory `%s`", dir)
	}
	xc.FailOn(err)

	rows, err := ListProcesses(dir)
	xc.FailOn(err)

	if asJSON {
		fmt.Print(jsonutil.ToPretty(rows))
		return
	}

	xc.Out.Info("recording", ovars{"dir": dir, "processes": len(rows)})

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"PID", "PPID", "Exe", "Events", "Snapshots", "Size", "Exit"})
	for _, row := range rows {
		pid := fmt.Sprint(row.Pid)
		if row.Root {
			pid += "*"
		}

		exit := fmt.Sprint(row.ExitCode)
		if row.FatalSig > 0 {
			exit = fmt.Sprintf("signal %d", row.FatalSig)
		}

		events := fmt.Sprint(row.Events)
		if row.Truncated {
			events += " (truncated)"
		}

		tw.AppendRow(table.Row{
			pid,
			row.ParentPid,
			row.Exe,
			events,
			row.Snapshots,
			humanize.Bytes(uint64(row.Size)),
			exit,
		})
	}

	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	fmt.Printf("%s\n", tw.Render())
}
