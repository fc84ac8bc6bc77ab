package ps

import (
	"github.com/urfave/cli/v2"

	"github.com/slimtoolkit/emd/pkg/app"
	"github.com/slimtoolkit/emd/pkg/app/emd/command"
	cmd "github.com/slimtoolkit/emd/pkg/command"
)

const (
	Name      = string(cmd.Ps)
	Usage     = "List the processes of a recording"
	ArgsUsage = "[trace-dir]"

	FlagJSON      = "json"
	FlagJSONUsage = "print the process list as JSON"
)

var CLI = &cli.Command{
	Name:      Name,
	Usage:     Usage,
	ArgsUsage: ArgsUsage,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  FlagJSON,
			Usage: FlagJSONUsage,
		},
	},
	Action: func(ctx *cli.Context) error {
		gcvalues := command.GlobalFlagValues(ctx)
		xc := app.NewExecutionContext(Name, gcvalues.Quiet)

		OnCommand(xc, gcvalues, ctx.Args().First(), ctx.Bool(FlagJSON))
		return nil
	},
}
