package recorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/slimtoolkit/emd/pkg/command"
	"github.com/slimtoolkit/emd/pkg/config"
	emderrors "github.com/slimtoolkit/emd/pkg/errors"
	"github.com/slimtoolkit/emd/pkg/launcher"
	"github.com/slimtoolkit/emd/pkg/procfs"
	"github.com/slimtoolkit/emd/pkg/ptrace"
	"github.com/slimtoolkit/emd/pkg/shmring"
	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
	"github.com/slimtoolkit/emd/pkg/waitstatus"
)

type AppState string

const (
	AppStarted AppState = "app.started"
	AppFailed  AppState = "app.failed"
	AppDone    AppState = "app.done"
)

// time between SIGTERM and SIGKILL on cancellation
const killGrace = 3 * time.Second

// Options describe the program to record.
type Options struct {
	Path string
	Args []string
	Dir  string
	// Env is the base tracee environment; nil means the recorder's own.
	Env []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// PreloadLib is the FAST mode library, empty when not available.
	PreloadLib string
}

// Recorder drives one recording session. All ptrace work happens on the
// goroutine running trace, locked to its OS thread.
type Recorder struct {
	ctx     context.Context
	opts    Options
	cfg     *config.DumpConfig
	session *Session

	arch     *system.ArchInfo
	resolve  system.NumberResolverFunc
	filter   *system.SyscallFilter
	mapCalls map[uint32]string
	sigs     map[int]struct{}

	threads  *ptrace.ThreadTable
	bps      *ptrace.Breakpoints
	cap      *capturer
	entryMem map[int][]timeline.MemCapture

	control *controlChannel
	ring    *shmring.Ring
	cmd     *exec.Cmd
	rootPid int
	live    liveSet
	// set once the budget ran out and the tracees are being detached
	releasing bool

	StateCh chan AppState
	err     error

	logger *log.Entry
}

// New validates the run configuration and creates the session of a recording.
func New(ctx context.Context, cfg *config.DumpConfig, opts Options) (*Recorder, error) {
	arch := system.CurrentArch()
	filter, err := system.ParseSyscallFilter(arch.Name, cfg.Syscalls)
	if err != nil {
		return nil, emderrors.SE("recorder.New", "config.error", err)
	}

	path, err := exec.LookPath(opts.Path)
	if err != nil {
		return nil, emderrors.SE("recorder.New", "exec.lookup", err)
	}

	mode := SelectMode(cfg, opts.PreloadLib)
	session, err := NewSession(cfg, mode, path, opts.Args)
	if err != nil {
		return nil, emderrors.SE("recorder.New", "session.error", err)
	}

	r := &Recorder{
		ctx:      ctx,
		opts:     opts,
		cfg:      cfg,
		session:  session,
		arch:     arch,
		resolve:  system.CallNumberResolver(arch.Name),
		filter:   filter,
		mapCalls: map[uint32]string{},
		sigs:     map[int]struct{}{},
		threads:  ptrace.NewThreadTable(),
		bps:      ptrace.NewBreakpoints(arch.Regs),
		entryMem: map[int][]timeline.MemCapture{},
		StateCh:  make(chan AppState, 3),
		logger: logger().WithFields(log.Fields{
			"session": session.ID,
			"mode":    mode.String(),
		}),
	}

	for _, num := range system.MapChangingCallNumbers(arch.Name) {
		r.mapCalls[num] = r.resolve(num)
	}

	for _, sig := range cfg.Sigs {
		r.sigs[sig] = struct{}{}
	}

	r.opts.Path = path
	return r, nil
}

func (r *Recorder) Session() *Session {
	return r.session
}

func (r *Recorder) Mode() config.Mode {
	return r.session.Mode
}

func (r *Recorder) fast() bool {
	return r.session.Mode == config.ModeFast
}

// trace starts the target and runs the capture loop. StateCh gets
// AppStarted or AppFailed, then AppDone.
func (r *Recorder) trace() {
	logger := r.logger.WithField("op", "recorder.trace")
	logger.Debug("call")
	defer logger.Debug("exit")

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := r.start(); err != nil {
		r.err = emderrors.SE("recorder.trace.start", "call.error", err)
		r.cleanup()
		r.session.Close(command.StateError, err)
		r.StateCh <- AppFailed
		return
	}

	r.StateCh <- AppStarted

	stop := make(chan struct{})
	go r.watchCancel(stop)

	err := r.collect()
	close(stop)
	r.drainRing()
	r.drainControl()
	r.cleanup()

	state := command.State(command.StateCompleted)
	switch {
	case err != nil:
		state = command.StateError
		r.err = emderrors.SE("recorder.trace.collect", "call.error", err)
	case r.ctx.Err() != nil:
		state = command.StateCanceled
	case r.session.Exhausted():
		state = command.StateTruncated
	}

	if cerr := r.session.Close(state, err); cerr != nil {
		logger.WithError(cerr).Error("session close")
		if r.err == nil {
			r.err = emderrors.SE("recorder.trace.close", "call.error", cerr)
		}
	}

	r.StateCh <- AppDone
}

func (r *Recorder) start() error {
	logger := r.logger.WithField("op", "recorder.start")

	var err error
	if r.control, err = newControlChannel(); err != nil {
		return errors.Wrap(err, "control socket")
	}

	env := r.opts.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(env, r.cfg.TraceeEnv()...)

	lopts := launcher.Options{
		Path:          r.opts.Path,
		Args:          r.opts.Args,
		Dir:           r.opts.Dir,
		Stdin:         r.opts.Stdin,
		Stdout:        r.opts.Stdout,
		Stderr:        r.opts.Stderr,
		ControlSocket: r.control.remote,
		TraceSyscall:  !r.fast(),
	}

	if r.fast() {
		r.ring, err = shmring.Create("emd-syscalls", r.cfg.SharedBufferSize)
		if err != nil {
			logger.WithError(err).Warn("shared buffer unavailable, falling back to normal mode")
			r.session.Mode = config.ModeNormal
			r.session.Report.Mode = r.session.Mode.String()
			lopts.TraceSyscall = true
		} else {
			lopts.SharedBuffer = r.ring.File()
			env = append(env, preloadEnv(env, r.opts.PreloadLib))
		}
	}
	lopts.Env = env

	r.cmd, err = launcher.Start(lopts)
	if err != nil {
		return err
	}

	r.control.closeRemote()
	r.control.start()

	r.rootPid = r.cmd.Process.Pid
	r.session.RootPid = r.rootPid
	r.session.Report.RootPid = r.rootPid
	r.live.add(r.rootPid)

	// the launcher hands the root over in its exec stop
	t, _ := r.threads.Add(r.rootPid, r.rootPid)
	t.State = ptrace.StateRunning
	if lopts.TraceSyscall {
		// its execve exit stop is still to come
		t.State = ptrace.StateInSyscall
	}
	r.session.openProcess(r.rootPid, 0, "")
	r.cap = &capturer{cfg: r.cfg, arch: r.arch, read: r.reader(r.rootPid)}
	r.onEvent(t, unix.PTRACE_EVENT_EXEC)

	logger.WithFields(log.Fields{
		"pid":  r.rootPid,
		"exe":  r.opts.Path,
		"args": r.opts.Args,
		"dir":  r.session.Dir,
	}).Info("target started")

	return r.resume(r.rootPid, 0)
}

func preloadEnv(env []string, lib string) string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "LD_PRELOAD=") && len(kv) > len("LD_PRELOAD=") {
			return kv + ":" + lib
		}
	}

	return "LD_PRELOAD=" + lib
}

func (r *Recorder) reader(pid int) memReader {
	return func(addr uint64, buf []byte) (int, error) {
		return procfs.ReadMemory(pid, addr, buf)
	}
}

// collect is the capture loop.
func (r *Recorder) collect() error {
	logger := r.logger.WithField("op", "recorder.collect")
	logger.Debug("call")
	defer logger.Debug("exit")

	for {
		wpid, ws, err := ptrace.Wait(-1)
		if err != nil {
			if errors.Is(err, unix.ECHILD) {
				if n := r.threads.Len(); n > 0 {
					logger.Debugf("wait4: ECHILD with %d threads left %v, dropping them", n, r.threads.Tids())
					for _, tid := range r.threads.Tids() {
						r.threads.Drop(tid)
					}
				}
				return nil
			}

			return errors.Wrap(err, "wait4")
		}

		r.drainRing()
		r.drainControl()
		r.handle(wpid, ws)
	}
}

func (r *Recorder) handle(tid int, ws waitstatus.Status) {
	t, ok := r.threads.Get(tid)
	if !ok {
		// auto-attached before its clone event was reported
		tgid, err := procfs.ReadTgid(tid)
		if err != nil {
			tgid = tid
		}

		t, _ = r.threads.Add(tid, tgid)
		if tgid == tid {
			r.openChild(tid, 0)
		}
	}

	next, action := ptrace.Transition(t.State, ws.Type())
	r.logger.Tracef("tid=%d status=%v %v -> %v (%v)", tid, ws, t.State, next, action)
	t.State = next

	var err error
	switch action {
	case ptrace.ActionAttachStop:
		r.onAttach(t)
		err = r.resume(tid, 0)
	case ptrace.ActionSyscallEntry:
		r.onSyscallEntry(t)
		err = r.resume(tid, 0)
	case ptrace.ActionSyscallExit:
		r.onSyscallExit(t)
		err = r.resume(tid, 0)
	case ptrace.ActionSignal:
		err = r.resume(tid, r.onSignal(t, ws.StopSig()))
	case ptrace.ActionGroupStop:
		err = r.onGroupStop(t, ws.GroupStop())
	case ptrace.ActionEvent:
		r.onEvent(t, ws.PtraceEvent())
		err = r.resume(tid, 0)
	case ptrace.ActionReap:
		r.onReap(t, ws)
	default:
		r.logger.Debugf("tid=%d: unexpected status %v in state %v", tid, ws, t.State)
		err = r.resume(tid, 0)
	}

	if err != nil {
		// ESRCH: killed while stopped, its final status follows
		r.logger.WithError(err).Debugf("tid=%d resume", tid)
	}
}

// wanted reports whether events of t are recorded.
func (r *Recorder) wanted(t *ptrace.Thread) bool {
	return !r.cfg.CurrentThreadOnly || t.Tid == r.rootPid
}

// resume continues tid, or lets it go once the budget is exhausted.
func (r *Recorder) resume(tid int, sig int) error {
	if r.session.Exhausted() {
		r.stopAll(tid)
		return r.release(tid, sig)
	}

	if r.fast() {
		return ptrace.Cont(tid, sig)
	}

	return ptrace.Syscall(tid, sig)
}

// stopAll interrupts every other thread once so each gets released at its next stop.
func (r *Recorder) stopAll(current int) {
	if r.releasing {
		return
	}
	r.releasing = true

	for _, tid := range r.threads.Tids() {
		if tid == current {
			continue
		}

		if err := ptrace.Interrupt(tid); err != nil {
			r.logger.WithError(err).Debugf("tid=%d interrupt", tid)
		}
	}
}

// release detaches tid, putting back the breakpoints it may run into.
func (r *Recorder) release(tid int, sig int) error {
	if r.bps.Len() > 0 {
		if t, ok := r.threads.Get(tid); ok && t.Tgid == r.rootPid {
			r.bps.Clear(tid)
		}
	}

	r.threads.Drop(tid)
	return ptrace.Detach(tid, sig)
}

func (r *Recorder) openChild(pid, parent int) *process {
	exe := ""
	if pp, ok := r.session.process(parent); ok {
		exe = pp.exe
	} else if path, err := procfs.ReadExe(pid); err == nil {
		exe = path
	}

	r.live.add(pid)
	return r.session.openProcess(pid, parent, exe)
}

func (r *Recorder) onAttach(t *ptrace.Thread) {
	if t.Tid != t.Tgid {
		return
	}

	if p, ok := r.session.process(t.Tid); ok && p.count == 0 {
		r.session.snapshot(p)
	}
}

// getRegs reads the registers of t at its current stop.
func (r *Recorder) getRegs(t *ptrace.Thread) ([]uint64, error) {
	regs, err := ptrace.GetRegs(t.Tid)
	if err == nil {
		t.SetRegs(regs)
	}

	return regs, err
}

func (r *Recorder) processOf(t *ptrace.Thread) *process {
	if p, ok := r.session.process(t.Tgid); ok {
		return p
	}

	return r.openChild(t.Tgid, 0)
}

func (r *Recorder) onSyscallEntry(t *ptrace.Thread) {
	regs, err := r.getRegs(t)
	if err != nil {
		r.logger.WithError(err).Debug("syscall entry")
		t.Pending = &ptrace.Call{}
		return
	}

	if r.arch.Name == system.ArchNameAmd64 && int64(r.arch.Regs.CallReturnValue(regs)) != -int64(unix.ENOSYS) {
		// an exit stop: the entry stop was missed
		r.logger.Debugf("tid=%d: syscall exit without entry, resynchronizing", t.Tid)
		t.State = ptrace.StateRunning
		t.Pending = nil
		return
	}

	num := uint32(r.arch.Regs.CallNumber(regs))
	_, mapCall := r.mapCalls[num]
	call := &ptrace.Call{
		Num:    num,
		Args:   r.arch.Regs.CallParams(regs),
		Regs:   regs,
		Record: mapCall || (r.wanted(t) && r.filter.Match(num)),
	}
	t.Pending = call
	delete(r.entryMem, t.Tid)
	if !call.Record {
		return
	}

	name := r.resolve(num)
	if _, ok := fdCalls[name]; ok {
		call.Path = r.fdPath(t.Tid, call.Args[0])
	}
	if mapCall && name == "mmap" && call.Args[mmapFlagsArg]&unix.MAP_ANONYMOUS == 0 {
		call.Path = r.fdPath(t.Tid, call.Args[mmapFdArg])
	}

	if r.wanted(t) {
		r.entryMem[t.Tid] = entryParams(r.reader(t.Tid), name, call.Args, r.cfg.MaxParamSize)
	}
}

func (r *Recorder) fdPath(tid int, arg uint64) string {
	fd := int(int32(arg))
	if fd < 0 {
		return ""
	}

	path, err := procfs.ReadFdPath(tid, fd)
	if err != nil {
		return ""
	}

	return path
}

func (r *Recorder) onSyscallExit(t *ptrace.Thread) {
	call := t.Pending
	t.Pending = nil
	mem := r.entryMem[t.Tid]
	delete(r.entryMem, t.Tid)

	if call == nil {
		r.logger.Debugf("tid=%d: syscall exit without entry", t.Tid)
		return
	}

	if !call.Record {
		return
	}

	regs, err := r.getRegs(t)
	if err != nil {
		r.logger.WithError(err).Debug("syscall exit")
		return
	}

	result := int64(r.arch.Regs.CallReturnValue(regs))
	r.recordCall(t, call, regs, result, mem)
}

// recordCall appends a finished syscall.
func (r *Recorder) recordCall(t *ptrace.Thread, call *ptrace.Call, regs []uint64, result int64, mem []timeline.MemCapture) {
	p := r.processOf(t)
	name := r.resolve(call.Num)

	x := &timeline.ExtraInfo{
		Regs:    regs,
		Args:    call.Args[:],
		Path:    call.Path,
		Threads: r.threads.TakeRegs(t.Tgid, t.Tid),
	}

	if r.wanted(t) {
		read := r.reader(t.Tid)
		mem = append(mem, exitParams(read, name, call.Args, result, r.cfg.MaxParamSize)...)
		mem = append(mem, r.captureThread(p, t, regs)...)
		x.Mem = mem

		if _, ok := fdResultCalls[name]; ok && result >= 0 {
			x.Path = r.fdPath(t.Tid, uint64(result))
		}
	}

	r.session.appendEvent(p, timeline.EventEntry{
		Type:      uint16(call.Num),
		ThreadNum: t.Num,
		Tid:       int32(t.Tid),
		Result:    result,
	}, x)

	if _, ok := r.mapCalls[call.Num]; ok && !isErrorResult(result) {
		r.session.mapChanged(p, name == "shmat")
	}
}

// captureThread returns the memory captures of an event of t.
func (r *Recorder) captureThread(p *process, t *ptrace.Thread, regs []uint64) []timeline.MemCapture {
	c := *r.cap
	c.read = r.reader(t.Tid)
	if p.pid != r.rootPid {
		c.vars = nil
	}

	mem := c.all(r.session.layout(p), regs)

	if r.cfg.DumpPthreadList {
		if tp, err := ptrace.ThreadPointer(t.Tid, regs); err == nil {
			if m, ok := readRange(c.read, tp, pthreadSize, pthreadSize, timeline.MemPthreadList, "pthread"); ok {
				mem = append(mem, m)
			}
		}
	}

	if r.cfg.DumpRobustMutexList {
		if head, size, err := robustList(t.Tid); err == nil {
			if m, ok := readRange(c.read, head, size, int(size), timeline.MemRobustList, "robust_list"); ok {
				mem = append(mem, m)
			}
		}
	}

	return mem
}

func robustList(tid int) (uint64, uint64, error) {
	var head, size uint64
	_, _, errno := unix.Syscall(unix.SYS_GET_ROBUST_LIST, uintptr(tid),
		uintptr(unsafe.Pointer(&head)), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, 0, errno
	}

	return head, size, nil
}

// recordStop appends a non syscall event of t with its registers and memory.
func (r *Recorder) recordStop(t *ptrace.Thread, typ uint16, text string) {
	if !r.wanted(t) {
		return
	}

	p := r.processOf(t)
	x := &timeline.ExtraInfo{Text: text}
	if regs, err := r.getRegs(t); err == nil {
		x.Regs = regs
		x.Mem = r.captureThread(p, t, regs)
	}
	x.Threads = r.threads.TakeRegs(t.Tgid, t.Tid)

	r.session.appendEvent(p, timeline.EventEntry{
		Type:      typ,
		ThreadNum: t.Num,
		Tid:       int32(t.Tid),
	}, x)
}

// onSignal records a signal-delivery-stop and returns the signal to inject.
func (r *Recorder) onSignal(t *ptrace.Thread, sig int) int {
	if sig == int(unix.SIGTRAP) && r.bps.Len() > 0 {
		if regs, err := r.getRegs(t); err == nil {
			if bp, ok := r.bps.Hit(regs); ok {
				r.onBreakpoint(t, bp, regs)
				return 0
			}
		}
	}

	if len(r.sigs) == 0 || r.matchSignal(sig) {
		r.recordStop(t, timeline.SignalType(sig), waitstatus.SignalName(sig))
	}

	return sig
}

func (r *Recorder) matchSignal(sig int) bool {
	_, ok := r.sigs[sig]
	return ok
}

func (r *Recorder) onBreakpoint(t *ptrace.Thread, bp *ptrace.Breakpoint, regs []uint64) {
	// report the function entry, not the address after the trap
	regs[r.arch.Regs.PC] = bp.Addr
	if r.wanted(t) {
		p := r.processOf(t)
		x := &timeline.ExtraInfo{
			Regs:    regs,
			Text:    bp.Name,
			Mem:     r.captureThread(p, t, regs),
			Threads: r.threads.TakeRegs(t.Tgid, t.Tid),
		}

		r.session.appendEvent(p, timeline.EventEntry{
			Type:      timeline.DumpReasonFunc,
			ThreadNum: t.Num,
			Tid:       int32(t.Tid),
		}, x)
	}

	if err := r.bps.StepOver(t.Tid, bp, regs); err != nil {
		r.logger.WithError(err).Debugf("step over %v", bp)
	}
}

func (r *Recorder) onGroupStop(t *ptrace.Thread, sig int) error {
	if r.session.Exhausted() {
		r.stopAll(t.Tid)
		return r.release(t.Tid, 0)
	}

	switch unix.Signal(sig) {
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		// stay stopped until SIGCONT
		return ptrace.Listen(t.Tid)
	}

	// PTRACE_INTERRUPT
	return r.resume(t.Tid, 0)
}

func (r *Recorder) onEvent(t *ptrace.Thread, event int) {
	typ := timeline.PtraceType(event)
	text := waitstatus.EventName(event)

	switch event {
	case unix.PTRACE_EVENT_CLONE, unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
		msg, err := ptrace.EventMsg(t.Tid)
		if err != nil {
			r.logger.WithError(err).Debug("clone event")
			break
		}

		child := int(msg)
		tgid := child
		if event == unix.PTRACE_EVENT_CLONE {
			if id, err := procfs.ReadTgid(child); err == nil {
				tgid = id
			} else {
				tgid = t.Tgid
			}
		}

		r.threads.Add(child, tgid)
		if tgid == child {
			r.openChild(child, t.Tgid)
		}
		text = fmt.Sprintf("%s %d", text, child)

	case unix.PTRACE_EVENT_EXEC:
		msg, err := ptrace.EventMsg(t.Tid)
		former := t.Tid
		if err == nil {
			former = int(msg)
		}

		r.threads.Exec(t.Tid, former)
		if former != t.Tid {
			r.entryMem[t.Tid] = r.entryMem[former]
			delete(r.entryMem, former)
		}

		p := r.processOf(t)
		exe, err := procfs.ReadExe(t.Tid)
		if err != nil {
			r.logger.WithError(err).Debug("exec event")
		}
		r.session.setExe(p, exe)
		text = exe

		r.recordStop(t, typ, text)
		r.session.snapshot(p)
		if p.pid == r.rootPid {
			r.onRootExec(p)
		}
		return

	case unix.PTRACE_EVENT_EXIT:
		if status, err := ptrace.EventMsg(t.Tid); err == nil {
			text = fmt.Sprintf("%s %v", text, waitstatus.Decode(int(status)))
		}

		// exit and exit_group never return
		if call := t.Pending; call != nil && call.Record {
			if regs, err := r.getRegs(t); err == nil {
				r.recordCall(t, call, regs, 0, r.entryMem[t.Tid])
			}
		}
		t.Pending = nil
		delete(r.entryMem, t.Tid)

		r.threads.ExitEvent(t.Tid)
	}

	r.recordStop(t, typ, text)
}

// onRootExec resolves --func and --var symbols in the new program.
func (r *Recorder) onRootExec(p *process) {
	r.bps.Forget()
	r.cap.vars = nil
	if len(r.cfg.Funcs) == 0 && len(r.cfg.Vars) == 0 {
		return
	}

	syms, err := LoadSymbols(p.exe)
	if err != nil {
		r.logger.WithError(err).Warn("no symbols for --func/--var")
		return
	}

	base, _ := LoadBase(r.session.layout(p), p.exe)
	for _, name := range r.cfg.Funcs {
		sym, err := syms.Lookup(name, base)
		if err != nil || !sym.Func {
			r.logger.Warnf("function %q not found in %s", name, p.exe)
			continue
		}

		if err := r.bps.Insert(p.pid, sym.Value, name); err != nil {
			r.logger.WithError(err).Warnf("breakpoint on %s", name)
		}
	}

	for _, spec := range r.cfg.Vars {
		sym, err := syms.Lookup(spec.Name, base)
		if err != nil {
			r.logger.Warnf("variable %q not found in %s", spec.Name, p.exe)
			continue
		}

		r.cap.vars = append(r.cap.vars, watchedVar{spec: spec, addr: sym.Value})
	}
}

func (r *Recorder) onReap(t *ptrace.Thread, ws waitstatus.Status) {
	if t.Tid == t.Tgid {
		if p, ok := r.session.process(t.Tgid); ok {
			switch ws.Type() {
			case waitstatus.Exit:
				p.info.ExitCode = ws.ExitCode()
			case waitstatus.FatalSignal:
				p.info.FatalSig = ws.FatalSig()
				p.info.ExitCode = 128 + ws.FatalSig()
			}

			if p.pid == r.rootPid {
				r.session.Report.ExitCode = p.info.ExitCode
			}
		}
		r.live.remove(t.Tid)
	}

	delete(r.entryMem, t.Tid)
	if !r.threads.Reaped(t.Tid) {
		// killed threads may never report PTRACE_EVENT_EXIT
		r.threads.Drop(t.Tid)
	}
}

func (r *Recorder) drainRing() {
	if r.ring == nil {
		return
	}

	n, err := r.ring.Drain(func(rec *shmring.Record) error {
		r.onRingRecord(rec)
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Error("shared buffer")
	}
	if n > 0 {
		r.logger.Tracef("shared buffer: %d records", n)
	}
}

func (r *Recorder) onRingRecord(rec *shmring.Record) {
	t, ok := r.threads.Get(int(rec.Tid))
	if !ok || !r.wanted(t) {
		return
	}

	num := uint32(rec.Type)
	_, mapCall := r.mapCalls[num]
	if rec.Type < timeline.DumpReasonSignal && !mapCall && !r.filter.Match(num) {
		return
	}

	p := r.processOf(t)
	x := &timeline.ExtraInfo{Args: rec.Args[:]}
	if len(rec.Payload) > 0 {
		if rec.Type < timeline.DumpReasonSignal {
			x.Path = string(rec.Payload)
		} else {
			x.Text = string(rec.Payload)
		}
	}

	r.session.appendEvent(p, timeline.EventEntry{
		Type:      rec.Type,
		ThreadNum: t.Num,
		Tid:       rec.Tid,
		Result:    rec.Result,
	}, x)

	if mapCall && !isErrorResult(rec.Result) {
		r.session.mapChanged(p, r.resolve(num) == "shmat")
	}
}

func (r *Recorder) drainControl() {
	if r.control == nil {
		return
	}

	for _, msg := range r.control.pending() {
		t, ok := r.threads.Get(int(msg.Tid))
		if !ok {
			r.logger.Debugf("control message from unknown tid %d", msg.Tid)
			continue
		}

		if !r.wanted(t) {
			continue
		}

		p := r.processOf(t)
		r.session.appendEvent(p, timeline.EventEntry{
			Type:      msg.Type,
			ThreadNum: t.Num,
			Tid:       msg.Tid,
		}, &timeline.ExtraInfo{Text: msg.Text})
	}
}

func (r *Recorder) cleanup() {
	if r.control != nil {
		r.control.Close()
	}

	if r.ring != nil {
		if dropped := r.ring.Dropped(); dropped > 0 {
			r.logger.Warnf("shared buffer overflow, %d syscall records lost", dropped)
		}
		r.ring.Close()
	}
}

// watchCancel terminates the tracees when the context is canceled. The
// capture loop then sees them die.
func (r *Recorder) watchCancel(stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-r.ctx.Done():
	}

	r.logger.Info("canceled, terminating the traced processes")
	ptrace.Kill(r.live.list(), unix.SIGTERM)

	select {
	case <-stop:
	case <-time.After(killGrace):
		ptrace.Kill(r.live.list(), unix.SIGKILL)
	}
}

// liveSet is the set of traced thread groups, shared with the cancel watcher.
type liveSet struct {
	mu   sync.Mutex
	pids map[int]struct{}
}

func (s *liveSet) add(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pids == nil {
		s.pids = map[int]struct{}{}
	}
	s.pids[pid] = struct{}{}
}

func (s *liveSet) remove(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pids, pid)
}

func (s *liveSet) list() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.pids))
	for pid := range s.pids {
		out = append(out, pid)
	}

	sort.Ints(out)
	return out
}
