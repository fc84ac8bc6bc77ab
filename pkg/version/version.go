package version

import (
	"fmt"
	"runtime"

	"github.com/slimtoolkit/emd/pkg/consts"
)

// set at build time with -ldflags "-X github.com/slimtoolkit/emd/pkg/version.appVersionTag=..."
var (
	appVersionTag  = "latest"
	appVersionRev  = "latest"
	appVersionTime = "latest"
)

// Info describes the running build.
type Info struct {
	Name      string `json:"name"`
	Tag       string `json:"tag"`
	Revision  string `json:"revision"`
	BuildTime string `json:"build_time"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func (i Info) String() string {
	return fmt.Sprintf("%v|%v|%v|%v|%v|%v", i.OS, i.Arch, i.Name, i.Tag, i.Revision, i.BuildTime)
}

func Get() Info {
	return Info{
		Name:      consts.AppVersionName,
		Tag:       appVersionTag,
		Revision:  appVersionRev,
		BuildTime: appVersionTime,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Current returns the current version information
func Current() string {
	return Get().String()
}

func Tag() string {
	return appVersionTag
}
