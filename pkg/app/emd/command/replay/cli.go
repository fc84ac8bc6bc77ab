package replay

import (
	"github.com/urfave/cli/v2"

	"github.com/slimtoolkit/emd/pkg/app"
	"github.com/slimtoolkit/emd/pkg/app/emd/command"
	cmd "github.com/slimtoolkit/emd/pkg/command"
)

const (
	Name      = string(cmd.Replay)
	Usage     = "Browse a recorded process and open its state at any event in the debugger"
	ArgsUsage = "[trace-dir] [pid]"
)

var CLI = &cli.Command{
	Name:      Name,
	Usage:     Usage,
	ArgsUsage: ArgsUsage,
	Action: func(ctx *cli.Context) error {
		gcvalues := command.GlobalFlagValues(ctx)
		xc := app.NewExecutionContext(Name, gcvalues.Quiet)

		OnCommand(xc, gcvalues, ctx.Args().Get(0), ctx.Args().Get(1))
		return nil
	},
}
