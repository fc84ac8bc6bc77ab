package dump

import (
	"github.com/urfave/cli/v2"

	"github.com/slimtoolkit/emd/pkg/app"
	"github.com/slimtoolkit/emd/pkg/app/emd/command"
	cmd "github.com/slimtoolkit/emd/pkg/command"
)

const (
	Name      = string(cmd.Dump)
	Usage     = "Print the events of a recorded process"
	ArgsUsage = "[trace-dir] [pid]"

	FlagSummary      = "summary"
	FlagSummaryUsage = "print event counts instead of the event list"
)

var CLI = &cli.Command{
	Name:      Name,
	Usage:     Usage,
	ArgsUsage: ArgsUsage,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  FlagSummary,
			Usage: FlagSummaryUsage,
		},
	},
	Action: func(ctx *cli.Context) error {
		gcvalues := command.GlobalFlagValues(ctx)
		xc := app.NewExecutionContext(Name, gcvalues.Quiet)

		OnCommand(xc, gcvalues, ctx.Args().Get(0), ctx.Args().Get(1), ctx.Bool(FlagSummary))
		return nil
	},
}
