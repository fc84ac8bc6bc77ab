package consts

// App version constants
const (
	AppName        = "emd"
	AppVersionName = "Replay"
)

// Environment variables consumed by the recorder and its tracees
const (
	EnvConfigFile        = "ST2_CONFIG_FILE"
	EnvSyscallBufferSize = "ST2_SYSCALL_BUFFER_SIZE"
	EnvHookVDSO          = "ST2_HOOK_VDSO"
	EnvDBusFilter        = "ST2_DBUS_FILTER"
	EnvX11Filter         = "ST2_X11_FILTER"
	EnvRunningUnderRR    = "RUNNING_UNDER_RR"
	EnvRRTmpDir          = "RR_TMPDIR"
	EnvTmpDir            = "TMPDIR"
	EnvPreloadLib        = "EMD_PRELOAD_LIB"
	EnvDebugger          = "EMD_DEBUGGER"
)

const (
	DefaultConfigFile = ".config/emd.json"
	DefaultDumpDir    = ".local/share/emd/"
	LatestLinkName    = "latest"
	SessionFileName   = "session.json"
	PreloadLibName    = "libemd_preload.so"
	DefaultDebugger   = "gdb"
)

// MinReservedSpace is the free space left untouched on /tmp and the dump directory.
const MinReservedSpace = 256 * 1024 * 1024
