// Package config loads the recorder run configuration from the JSON config
// file and the command line.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"

	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/util/fsutil"
)

type Mode string

const (
	ModeAuto   Mode = ""
	ModeDryRun Mode = "dry_run"
	ModeNormal Mode = "normal"
	ModeFast   Mode = "fast"
)

func (m Mode) String() string {
	if m == ModeAuto {
		return "auto"
	}

	return string(m)
}

// Default limits
const (
	DefaultCompressLevel    = 1
	DefaultMaxStackSize     = 32 * 1024
	DefaultMaxHeapSize      = 0
	DefaultMaxParamSize     = 256
	DefaultSharedBufferSize = 4 * 1024 * 1024
	DefaultMaxDumpBytes     = int64(4) << 30
	DefaultVarSize          = 8
)

type VarSpec struct {
	Name      string `json:"name"`
	MaxSize   int    `json:"max_size"`
	IsPointer bool   `json:"is_pointer"`
}

func (v VarSpec) String() string {
	s := v.Name
	if v.IsPointer {
		s = "*" + s
	}

	return fmt.Sprintf("%s:%d", s, v.MaxSize)
}

type LogConfig struct {
	Level  string `json:"level"`
	File   string `json:"file"`
	Format string `json:"format"`
}

// DumpConfig is the resolved run configuration. Sizes are in bytes.
type DumpConfig struct {
	DumpDir             string    `json:"dump_dir"`
	Mode                Mode      `json:"mode"`
	CompressLevel       int       `json:"compress_level"`
	MaxStackSize        int       `json:"max_stack_size"`
	MaxHeapSize         int       `json:"max_heap_size"`
	MaxParamSize        int       `json:"max_param_size"`
	SharedBufferSize    int       `json:"shared_buffer_size"`
	MaxDumpBytes        int64     `json:"max_dump_bytes"`
	DumpPthreadList     bool      `json:"dump_pthread_list"`
	DumpRobustMutexList bool      `json:"dump_robust_mutex_list"`
	CurrentThreadOnly   bool      `json:"current_thread_only"`
	HookVDSO            bool      `json:"hook_vdso"`
	Modules             []string  `json:"modules"`
	Vars                []VarSpec `json:"vars"`
	Funcs               []string  `json:"funcs"`
	Syscalls            string    `json:"syscalls"`
	Sigs                []int     `json:"sigs"`
	DBus                []string  `json:"dbus"`
	X11                 []string  `json:"x11"`
	Log                 LogConfig `json:"log"`
}

var knownKeys = map[string]struct{}{}

func init() {
	for _, key := range jsonKeys(DumpConfig{}) {
		knownKeys[key] = struct{}{}
	}
}

// Default returns the configuration used when no config file is usable.
func Default() *DumpConfig {
	return &DumpConfig{
		DumpDir:          defaultDumpDir(),
		CompressLevel:    DefaultCompressLevel,
		MaxStackSize:     DefaultMaxStackSize,
		MaxHeapSize:      DefaultMaxHeapSize,
		MaxParamSize:     DefaultMaxParamSize,
		SharedBufferSize: DefaultSharedBufferSize,
		MaxDumpBytes:     DefaultMaxDumpBytes,
		HookVDSO:         true,
	}
}

// FilePath returns $ST2_CONFIG_FILE or the default per-user config location.
func FilePath() string {
	if path := os.Getenv(consts.EnvConfigFile); path != "" {
		return path
	}

	home, err := fsutil.HomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, consts.DefaultConfigFile)
}

// Load reads the config file at path. On failure it still returns a usable
// config holding the defaults, together with the error for the caller to log.
func Load(path string) (*DumpConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("config.Load: no config file path")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config.Load")
	}

	if err := cfg.parse(raw); err != nil {
		return Default(), errors.Wrapf(err, "config.Load: %s", path)
	}

	return cfg, nil
}

// Parse decodes a config document on top of the defaults.
func Parse(data []byte) (*DumpConfig, error) {
	cfg := Default()
	if err := cfg.parse(data); err != nil {
		return Default(), err
	}

	return cfg, nil
}

func (c *DumpConfig) parse(data []byte) error {
	data = jsonc.ToJSON(data)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	for _, key := range sortedKeys(fields) {
		if _, ok := knownKeys[key]; !ok {
			log.WithField("key", key).Warn("config: unknown key ignored")
		}
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	c.DumpDir = NormalizeDumpDir(c.DumpDir)
	for i := range c.Vars {
		if c.Vars[i].MaxSize <= 0 {
			c.Vars[i].MaxSize = DefaultVarSize
		}
	}

	return c.Validate()
}

// Validate checks value ranges that would break capture.
func (c *DumpConfig) Validate() error {
	switch c.Mode {
	case ModeAuto, ModeDryRun, ModeNormal, ModeFast:
	default:
		return fmt.Errorf("bad mode %q", c.Mode)
	}

	if c.CompressLevel < 0 {
		return fmt.Errorf("bad compress_level %d", c.CompressLevel)
	}

	if c.MaxStackSize < 0 || c.MaxHeapSize < 0 || c.MaxParamSize < 0 || c.SharedBufferSize < 0 || c.MaxDumpBytes < 0 {
		return errors.New("negative size limit")
	}

	for _, pattern := range c.Modules {
		if _, err := doublestar.Match(pattern, ""); err != nil {
			return errors.Wrapf(err, "bad module pattern %q", pattern)
		}
	}

	return nil
}

func defaultDumpDir() string {
	home, err := fsutil.HomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "emd") + "/"
	}

	return filepath.Join(home, consts.DefaultDumpDir) + "/"
}

// NormalizeDumpDir maps an empty dump dir to the default location and "~/x" to $HOME/x.
func NormalizeDumpDir(dir string) string {
	switch {
	case dir == "":
		return defaultDumpDir()
	case strings.HasPrefix(dir, "~"):
		return fsutil.ExpandHomeDir(dir)
	}

	return dir
}

// MatchModule reports whether a mapped file is in the module allow-list.
// Patterns are doublestar globs matched against the full path and the base name.
func (c *DumpConfig) MatchModule(path string) bool {
	for _, pattern := range c.Modules {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}

		if ok, _ := doublestar.Match(pattern, filepath.Base(path)); ok {
			return true
		}
	}

	return false
}

// ScratchDir returns the directory for temporary core files.
func ScratchDir() string {
	for _, name := range []string{consts.EnvRRTmpDir, consts.EnvTmpDir} {
		if dir := os.Getenv(name); dir != "" {
			return dir
		}
	}

	return "/tmp"
}

// TraceeEnv returns the environment entries passed to the traced program.
func (c *DumpConfig) TraceeEnv() []string {
	hookVDSO := "0"
	if c.HookVDSO {
		hookVDSO = "1"
	}

	env := []string{
		fmt.Sprintf("%s=%d", consts.EnvSyscallBufferSize, c.SharedBufferSize),
		fmt.Sprintf("%s=%s", consts.EnvHookVDSO, hookVDSO),
		fmt.Sprintf("%s=1", consts.EnvRunningUnderRR),
	}

	if len(c.DBus) > 0 {
		env = append(env, fmt.Sprintf("%s=%s", consts.EnvDBusFilter, strings.Join(c.DBus, ",")))
	}

	if len(c.X11) > 0 {
		env = append(env, fmt.Sprintf("%s=%s", consts.EnvX11Filter, strings.Join(c.X11, ",")))
	}

	return env
}

func jsonKeys(v interface{}) []string {
	raw, _ := json.Marshal(v)
	var m map[string]json.RawMessage
	_ = json.Unmarshal(raw, &m)
	return sortedKeys(m)
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}
