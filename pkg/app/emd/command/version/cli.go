package version

import (
	"fmt"

	"github.com/urfave/cli/v2"

	cmd "github.com/slimtoolkit/emd/pkg/command"
	"github.com/slimtoolkit/emd/pkg/system"
	v "github.com/slimtoolkit/emd/pkg/version"
)

const (
	Name  = string(cmd.Version)
	Usage = "Shows emd version information"
	Alias = "v"
)

var CLI = &cli.Command{
	Name:    Name,
	Aliases: []string{Alias},
	Usage:   Usage,
	Action: func(ctx *cli.Context) error {
		info := system.GetSystemInfo()
		fmt.Printf("emd: version=%s\n", v.Current())
		fmt.Printf("emd: kernel=%s %s arch=%s\n", info.Sysname, info.Release, system.CurrentArch().Name)
		return nil
	},
}
