package main

import (
	"github.com/slimtoolkit/emd/pkg/app/emd"
	"github.com/slimtoolkit/emd/pkg/launcher"
)

func main() {
	if launcher.IsChild() {
		// re-executed as the tracee stub: stop for the tracer, then exec the target
		launcher.RunChild()
		return
	}

	app.Run()
}
