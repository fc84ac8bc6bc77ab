//go:build linux
// +build linux

// Package launcher starts a target program under ptrace.
//
// The recorder re-executes itself with a hidden marker argument. That
// child stops itself with SIGSTOP and only then execs the target. The
// parent seizes it without event options, so the threads of the stub's
// own runtime stay untraced, and hands it over stopped at the exec of the
// target with the session options set.
package launcher

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/slimtoolkit/emd/pkg/ptrace"
	"github.com/slimtoolkit/emd/pkg/waitstatus"
)

// ChildMarker is argv[1] of the re-executed recorder.
const ChildMarker = "__emd_tracee__"

// descriptors the tracee inherits
const (
	ControlFD = 3
	BufferFD  = 4
)

var (
	ErrTraceeDied = errors.New("Tracee died before reaching SIGSTOP")
	ErrExecFailed = errors.New("Tracee died before reaching exec")
)

func init() {
	if IsChild() {
		// keep the main goroutine on the thread group leader, the thread that execs
		runtime.LockOSThread()
	}
}

// IsChild reports a re-executed launcher child.
func IsChild() bool {
	return len(os.Args) > 2 && os.Args[1] == ChildMarker
}

// RunChild stops the calling process with SIGSTOP and replaces it with the
// target named in os.Args. It only returns on failure, exiting the process.
func RunChild() {
	path, err := exec.LookPath(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "emd: %v\n", err)
		os.Exit(127)
	}

	if err := unix.Tgkill(unix.Getpid(), unix.Gettid(), unix.SIGSTOP); err != nil {
		fmt.Fprintf(os.Stderr, "emd: raise(SIGSTOP): %v\n", err)
		os.Exit(126)
	}

	err = unix.Exec(path, os.Args[2:], os.Environ())
	fmt.Fprintf(os.Stderr, "emd: execve(%s): %v\n", path, err)
	os.Exit(127)
}

// Options describe the target to launch.
type Options struct {
	Path string
	Args []string
	Dir  string
	// Env is the complete tracee environment; nil inherits the recorder's.
	Env []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ControlSocket and SharedBuffer become ControlFD and BufferFD in the tracee.
	ControlSocket *os.File
	SharedBuffer  *os.File

	TraceSyscall bool
}

// Start launches the target and returns once it is stopped at the
// PTRACE_EVENT_EXEC of the target, with the session options set.
// It must run on the OS thread that later drives the tracee.
func Start(opts Options) (*exec.Cmd, error) {
	log.Debugf("launcher.Start(%v,%v,%v)", opts.Path, opts.Args, opts.Dir)

	self, err := os.Executable()
	if err != nil {
		self = "/proc/self/exe"
	}

	args := append([]string{ChildMarker, opts.Path}, opts.Args...)
	app := exec.Command(self, args...)
	app.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}

	app.Dir = opts.Dir
	app.Env = opts.Env
	app.Stdin = opts.Stdin
	app.Stdout = opts.Stdout
	app.Stderr = opts.Stderr
	if app.Stdin == nil {
		app.Stdin = os.Stdin
	}

	// ExtraFiles[i] is fd 3+i in the child
	if opts.ControlSocket != nil || opts.SharedBuffer != nil {
		devNull, err := os.Open(os.DevNull)
		if err != nil {
			return nil, err
		}
		defer devNull.Close()

		files := []*os.File{devNull, devNull}
		if opts.ControlSocket != nil {
			files[ControlFD-3] = opts.ControlSocket
		}
		if opts.SharedBuffer != nil {
			files[BufferFD-3] = opts.SharedBuffer
		}
		app.ExtraFiles = files
	}

	if err := app.Start(); err != nil {
		log.Warnf("launcher.Start: error - %v", err)
		return nil, err
	}

	pid := app.Process.Pid
	fail := func(err error) (*exec.Cmd, error) {
		app.Process.Kill()
		unix.Wait4(pid, nil, unix.WALL, nil)
		return nil, err
	}

	if err := ptrace.Attach(pid); err != nil {
		return fail(err)
	}

	if err := waitForStop(pid); err != nil {
		return fail(err)
	}

	if err := ptrace.SetOptions(pid, unix.PTRACE_O_TRACEEXEC); err != nil {
		return fail(err)
	}

	// SIGSTOP is not delivered
	if err := ptrace.Cont(pid, 0); err != nil {
		return fail(err)
	}

	if err := waitForExec(pid); err != nil {
		return fail(err)
	}

	if err := ptrace.SetOptions(pid, ptrace.Options(opts.TraceSyscall)); err != nil {
		return fail(err)
	}

	log.Debugf("launcher.Start: started target app --> PID=%d", pid)
	return app, nil
}

// waitForStop waits for the SIGSTOP the child raises. Depending on
// whether the seize or the raise came first it shows up as a signal
// delivery stop or as a group stop.
func waitForStop(pid int) error {
	for {
		wpid, ws, err := ptrace.Wait(pid)
		if err != nil {
			return errors.Wrap(err, "wait4")
		}

		log.Tracef("launcher.waitForStop: wpid=%d status=%v", wpid, ws)
		switch ws.Type() {
		case waitstatus.SignalStop:
			if ws.StopSig() == int(unix.SIGSTOP) {
				return nil
			}

			// something else reached the child first (SIGURG from the
			// runtime), let it through
			if err := ptrace.Cont(pid, ws.StopSig()); err != nil {
				return err
			}
		case waitstatus.GroupStop:
			return nil
		case waitstatus.Exit, waitstatus.FatalSignal:
			return errors.Wrapf(ErrTraceeDied, "status %v", ws)
		default:
			return errors.Wrapf(ErrTraceeDied, "unexpected status %v", ws)
		}
	}
}

// waitForExec runs the child up to the exec of the target.
func waitForExec(pid int) error {
	for {
		wpid, ws, err := ptrace.Wait(pid)
		if err != nil {
			return errors.Wrap(err, "wait4")
		}

		log.Tracef("launcher.waitForExec: wpid=%d status=%v", wpid, ws)
		switch ws.Type() {
		case waitstatus.PtraceEvent:
			if ws.PtraceEvent() == unix.PTRACE_EVENT_EXEC {
				return nil
			}

			if err := ptrace.Cont(pid, 0); err != nil {
				return err
			}
		case waitstatus.SignalStop:
			if err := ptrace.Cont(pid, ws.StopSig()); err != nil {
				return err
			}
		case waitstatus.GroupStop:
			if err := ptrace.Cont(pid, 0); err != nil {
				return err
			}
		case waitstatus.Exit, waitstatus.FatalSignal:
			return errors.Wrapf(ErrExecFailed, "status %v", ws)
		default:
			return errors.Wrapf(ErrExecFailed, "unexpected status %v", ws)
		}
	}
}
