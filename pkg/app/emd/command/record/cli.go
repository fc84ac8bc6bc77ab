package record

import (
	"github.com/urfave/cli/v2"

	"github.com/slimtoolkit/emd/pkg/app"
	"github.com/slimtoolkit/emd/pkg/app/emd/command"
	cmd "github.com/slimtoolkit/emd/pkg/command"
)

const (
	Name      = string(cmd.Record)
	Usage     = "Record the events of a program (the default command)"
	ArgsUsage = "executable [args...]"
	Alias     = "r"
)

// Action runs a recording with the flags and arguments of ctx.
func Action(ctx *cli.Context) error {
	gcvalues := command.GlobalFlagValues(ctx)
	xc := app.NewExecutionContext(Name, gcvalues.Quiet)

	if ctx.NArg() == 0 {
		cli.ShowAppHelpAndExit(ctx, 1)
	}

	OnCommand(xc, gcvalues, command.RecordOverrides(ctx), ctx.Args().First(), ctx.Args().Tail())
	return nil
}

var CLI = &cli.Command{
	Name:      Name,
	Aliases:   []string{Alias},
	Usage:     Usage,
	ArgsUsage: ArgsUsage,
	Flags:     command.RecordFlags(),
	Action:    Action,
}
