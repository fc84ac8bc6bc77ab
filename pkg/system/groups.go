package system

// Syscall classes usable in --sys filters. Names missing on an architecture
// are skipped when the group is resolved.
const (
	GroupFile    = "file"
	GroupProcess = "process"
	GroupNetwork = "network"
	GroupSignal  = "signal"
	GroupIPC     = "ipc"
	GroupDesc    = "desc"
	GroupMemory  = "memory"
)

var callGroups = map[string][]string{
	// Path based calls plus the plain I/O done on the descriptors they return.
	GroupFile: {
		"open", "openat", "openat2", "creat", "close", "close_range",
		"read", "write", "pread64", "pwrite64", "readv", "writev",
		"preadv", "pwritev", "preadv2", "pwritev2", "lseek",
		"stat", "lstat", "fstat", "newfstatat", "statx", "statfs", "fstatfs",
		"access", "faccessat", "faccessat2",
		"chdir", "fchdir", "chroot", "getcwd",
		"rename", "renameat", "renameat2",
		"mkdir", "mkdirat", "rmdir",
		"link", "linkat", "unlink", "unlinkat", "symlink", "symlinkat",
		"readlink", "readlinkat",
		"chmod", "fchmod", "fchmodat", "fchmodat2",
		"chown", "fchown", "lchown", "fchownat",
		"truncate", "ftruncate", "fallocate",
		"utime", "utimes", "utimensat", "futimesat",
		"mknod", "mknodat", "getdents", "getdents64",
		"fsync", "fdatasync", "sync_file_range", "flock",
		"setxattr", "lsetxattr", "fsetxattr", "getxattr", "lgetxattr", "fgetxattr",
		"listxattr", "llistxattr", "flistxattr", "removexattr", "lremovexattr", "fremovexattr",
		"execve", "execveat", "name_to_handle_at", "open_by_handle_at",
		"inotify_add_watch", "fanotify_mark", "sendfile", "copy_file_range",
	},
	GroupProcess: {
		"clone", "clone3", "fork", "vfork", "execve", "execveat",
		"exit", "exit_group", "wait4", "waitid",
		"kill", "tkill", "tgkill", "unshare", "setns",
		"prctl", "arch_prctl", "ptrace", "seccomp", "personality",
		"set_tid_address", "pidfd_open", "pidfd_send_signal", "pidfd_getfd",
	},
	GroupNetwork: {
		"socket", "socketpair", "bind", "listen", "accept", "accept4",
		"connect", "getsockname", "getpeername", "sendto", "recvfrom",
		"sendmsg", "recvmsg", "sendmmsg", "recvmmsg",
		"setsockopt", "getsockopt", "shutdown",
	},
	GroupSignal: {
		"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "rt_sigpending",
		"rt_sigtimedwait", "rt_sigqueueinfo", "rt_tgsigqueueinfo", "rt_sigsuspend",
		"sigaltstack", "kill", "tkill", "tgkill", "pause",
		"signalfd", "signalfd4", "pidfd_send_signal",
	},
	GroupIPC: {
		"shmget", "shmat", "shmctl", "shmdt",
		"semget", "semop", "semctl", "semtimedop",
		"msgget", "msgsnd", "msgrcv", "msgctl",
		"mq_open", "mq_unlink", "mq_timedsend", "mq_timedreceive", "mq_notify", "mq_getsetattr",
	},
	GroupDesc: {
		"read", "write", "close", "close_range", "lseek", "pread64", "pwrite64",
		"readv", "writev", "preadv", "pwritev", "preadv2", "pwritev2",
		"dup", "dup2", "dup3", "fcntl", "ioctl", "pipe", "pipe2",
		"select", "pselect6", "poll", "ppoll",
		"epoll_create", "epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait", "epoll_pwait2",
		"eventfd", "eventfd2", "timerfd_create", "timerfd_settime", "timerfd_gettime",
		"signalfd", "signalfd4", "inotify_init", "inotify_init1", "fanotify_init",
		"memfd_create", "fstat", "fstatfs", "fsync", "fdatasync", "ftruncate", "fallocate",
		"getdents", "getdents64", "flock", "sendfile", "splice", "tee", "vmsplice",
		"openat", "open", "creat", "openat2",
	},
	GroupMemory: {
		"mmap", "munmap", "mprotect", "mremap", "brk", "madvise", "msync", "mincore",
		"mlock", "mlock2", "munlock", "mlockall", "munlockall", "remap_file_pages",
		"mbind", "set_mempolicy", "get_mempolicy", "pkey_mprotect",
		"memfd_secret", "process_madvise", "map_shadow_stack", "mseal",
		"shmat", "shmdt",
	},
}

// MapChangingCalls change the tracee address space and are always recorded
// so the memory layout can be replayed up to any event.
var MapChangingCalls = []string{
	"mmap", "munmap", "mprotect", "pkey_mprotect", "mremap", "brk", "shmat", "shmdt",
}

// GroupNames returns the supported group names.
func GroupNames() []string {
	return []string{GroupFile, GroupProcess, GroupNetwork, GroupSignal, GroupIPC, GroupDesc, GroupMemory}
}

// GroupCalls returns the syscall numbers of a group on arch.
func GroupCalls(arch ArchName, group string) ([]uint32, bool) {
	names, ok := callGroups[group]
	if !ok {
		return nil, false
	}

	return resolveNames(arch, names), true
}

// MapChangingCallNumbers resolves MapChangingCalls on arch.
func MapChangingCallNumbers(arch ArchName) []uint32 {
	return resolveNames(arch, MapChangingCalls)
}

func resolveNames(arch ArchName, names []string) []uint32 {
	resolve := CallNameResolver(arch)
	if resolve == nil {
		return nil
	}

	var nums []uint32
	for _, name := range names {
		if num, ok := resolve(name); ok {
			nums = append(nums, num)
		}
	}

	return nums
}
