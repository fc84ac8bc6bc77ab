package replay

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/app"
	"github.com/slimtoolkit/emd/pkg/app/emd/command"
	cmd "github.com/slimtoolkit/emd/pkg/command"
	"github.com/slimtoolkit/emd/pkg/replay"
	"github.com/slimtoolkit/emd/pkg/timeline"
)

type ovars = app.OutVars

// OnCommand implements the 'replay' command
func OnCommand(xc *app.ExecutionContext, gparams *command.GenericParams, dirArg, pidArg string) {
	logger := log.WithFields(log.Fields{"app": command.AppName, "cmd": cmd.Replay})

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
	defer tl.Close()

	if tl.Count() == 0 {
		xc.UserError("no events recorded for pid %d in `%s`", pid, dir)
	}

	debugger, err := replay.NewExternalDebugger()
	xc.FailOn(err)

	logger.Debugf("dir=%s pid=%d events=%d debugger=%v", dir, pid, tl.Count(), debugger.Command)
	xc.Out.State("started", ovars{"dir": dir, "pid": pid})

	console := replay.NewConsole(tl, replay.ConsoleOptions{
		Debugger: debugger,
		Verbose:  gparams.Debug || gparams.Verbose,
	})
	console.Run(os.Stdin)

	xc.Out.State("done")
}
