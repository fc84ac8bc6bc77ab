package command

import (
	"github.com/urfave/cli/v2"

	"github.com/slimtoolkit/emd/pkg/config"
)

func intFlag(ctx *cli.Context, name string) *int {
	if !ctx.IsSet(name) {
		return nil
	}

	v := ctx.Int(name)
	return &v
}

// RecordOverrides collects the record flags that were set.
func RecordOverrides(ctx *cli.Context) *config.Overrides {
	return &config.Overrides{
		StackSizeKB:       intFlag(ctx, FlagStackSize),
		HeapSizeKB:        intFlag(ctx, FlagHeapSize),
		ParamSize:         intFlag(ctx, FlagParamSize),
		Vars:              ctx.StringSlice(FlagVar),
		Funcs:             ctx.StringSlice(FlagFunc),
		VDSO:              ctx.String(FlagVDSO),
		Syscalls:          ctx.String(FlagSys),
		Sigs:              ctx.String(FlagSig),
		DBus:              ctx.String(FlagDBus),
		X11:               ctx.String(FlagX11),
		CurrentThreadOnly: ctx.Bool(FlagCurrentThread),
		Mode:              ctx.String(FlagMode),
		DumpDir:           ctx.String(FlagDumpDir),
	}
}
