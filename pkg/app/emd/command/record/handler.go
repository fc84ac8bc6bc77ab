package record

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/slimtoolkit/emd/pkg/app"
	"github.com/slimtoolkit/emd/pkg/app/emd/command"
	cmd "github.com/slimtoolkit/emd/pkg/command"
	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/recorder"
	"github.com/slimtoolkit/emd/pkg/report"
	v "github.com/slimtoolkit/emd/pkg/version"
)

type ovars = app.OutVars

const topSyscalls = 10

// OnCommand implements the 'record' command. The process exits with the
// exit code of the recorded program.
func OnCommand(
	xc *app.ExecutionContext,
	gparams *command.GenericParams,
	overrides *config.Overrides,
	target string,
	args []string) {
	logger := log.WithFields(log.Fields{"app": command.AppName, "cmd": cmd.Record})

	cfg := command.LoadConfig(gparams)
	if err := cfg.Apply(overrides); err != nil {
		xc.UserError("%v", err)
	}

	preload := recorder.FindPreloadLib()
	logger.Debugf("config: %+v preload=%q", cfg, preload)

	xc.Out.State("started", ovars{"target": target, "version": v.Current()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	rep, err := recorder.Record(ctx, cfg, recorder.Options{
		Path:       target,
		Args:       args,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		PreloadLib: preload,
	})

	if rep == nil {
		xc.Out.Error("record.error", fmt.Sprint(err))
		xc.Exit(1)
	}

	printSummary(xc, rep)

	if err != nil {
		xc.Out.Error("record.error", err.Error())
		xc.Out.State("exited", ovars{"exit.code": 1})
		xc.Exit(1)
	}

	xc.Out.State(string(rep.State), ovars{"exit.code": rep.ExitCode})
	stop()
	xc.Exit(rep.ExitCode)
}

func printSummary(xc *app.ExecutionContext, rep *report.SessionReport) {
	xc.Out.Info("recording", ovars{
		"dir":       rep.TraceDir,
		"mode":      rep.Mode,
		"events":    rep.EventCount,
		"syscalls":  rep.SyscallCount,
		"signals":   rep.SignalCount,
		"processes": len(rep.Processes),
		"size":      rep.BytesWrittenHuman,
		"budget":    humanize.IBytes(uint64(rep.MaxDumpBytes)),
	})

	if rep.BudgetExhausted {
		xc.Out.Message("the dump byte budget ran out, the recording stops at the last stored event")
	}

	if xc.Out.Quiet || len(rep.SyscallStats) == 0 {
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stderr)
	tw.AppendHeader(table.Row{"Syscall", "Num", "Count"})
	for _, info := range rep.TopSyscalls(topSyscalls) {
		tw.AppendRow(table.Row{info.Name, info.Number, info.Count})
	}

	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	tw.Render()
}
