package recorder

import (
	"os"
	"path/filepath"

	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/util/fsutil"
)

// SelectMode resolves the capture mode of a run. The shared buffer can
// only carry plain syscall records of a single thread, so FAST needs
// current_thread_only, no heap capture, no watched globals and an
// available preload library.
func SelectMode(cfg *config.DumpConfig, preloadPath string) config.Mode {
	switch {
	case cfg.Mode == config.ModeDryRun:
		return config.ModeDryRun
	case cfg.Mode != config.ModeNormal &&
		cfg.CurrentThreadOnly &&
		cfg.MaxHeapSize == 0 &&
		len(cfg.Vars) == 0 &&
		preloadPath != "":
		return config.ModeFast
	}

	return config.ModeNormal
}

// FindPreloadLib returns the path of the FAST mode preload library or an
// empty string. $EMD_PRELOAD_LIB wins over the locations next to the
// recorder binary.
func FindPreloadLib() string {
	if path := os.Getenv(consts.EnvPreloadLib); path != "" {
		if fsutil.IsRegularFile(path) {
			return path
		}
		return ""
	}

	self, err := os.Executable()
	if err != nil {
		return ""
	}

	dir := filepath.Dir(self)
	for _, candidate := range []string{
		filepath.Join(dir, consts.PreloadLibName),
		filepath.Join(dir, "..", "lib", consts.AppName, consts.PreloadLibName),
	} {
		if fsutil.IsRegularFile(candidate) {
			return candidate
		}
	}

	return ""
}
