// Package recorder runs a program under ptrace and writes its event timeline.
package recorder

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/command"
	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/procfs"
	"github.com/slimtoolkit/emd/pkg/report"
	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/timeline"
	"github.com/slimtoolkit/emd/pkg/util/fsutil"
	v "github.com/slimtoolkit/emd/pkg/version"
)

// snapshotInterval is the number of mapping changes between two full maps snapshots.
const snapshotInterval = 64

func logger() *log.Entry {
	return log.WithFields(log.Fields{
		"app": consts.AppName,
		"com": "recorder",
	})
}

// Session is the state of one recording: its trace directory, the per
// process timeline files and the shared byte budget.
type Session struct {
	ID      string
	Dir     string
	Exe     string
	Args    []string
	Config  *config.DumpConfig
	Mode    config.Mode
	Arch    *system.ArchInfo
	RootPid int
	Budget  *Budget
	Report  *report.SessionReport

	resolve   system.NumberResolverFunc
	procs     map[int]*process
	exhausted bool
	logger    *log.Entry
}

// process is one traced thread group and its timeline files.
type process struct {
	pid    int
	parent int
	exe    string
	events *timeline.Writer
	maps   *timeline.MapsWriter
	// count is the number of events of the process, also when nothing is persisted
	count      int
	mapChanges int
	// regions caches /proc/<pid>/maps until the next mapping change
	regions []procfs.Region
	info    *report.ProcessInfo
}

// NewSession prepares the trace directory of a recording of exe. In
// dry run mode nothing is created on disk.
func NewSession(cfg *config.DumpConfig, mode config.Mode, exe string, args []string) (*Session, error) {
	s := &Session{
		ID:      ksuid.New().String(),
		Exe:     exe,
		Args:    args,
		Config:  cfg,
		Mode:    mode,
		Arch:    system.CurrentArch(),
		Budget:  NewBudget(cfg.MaxDumpBytes),
		procs:   map[int]*process{},
		logger:  logger(),
		resolve: system.CallNumberResolver(system.CurrentArch().Name),
	}

	if mode != config.ModeDryRun {
		if err := os.MkdirAll(cfg.DumpDir, 0755); err != nil {
			return nil, errors.Wrapf(err, "can't create directory `%s`", cfg.DumpDir)
		}

		limit, err := DiskLimit(cfg.MaxDumpBytes, cfg.DumpDir)
		if err != nil {
			return nil, errors.Wrap(err, "recorder.NewSession")
		}
		if limit == 0 {
			s.logger.Warnf("not enough free space, less than %d bytes would be left on /tmp or %s; recording disabled",
				consts.MinReservedSpace, cfg.DumpDir)
		}
		s.Budget = NewBudget(limit)

		s.Dir = filepath.Join(cfg.DumpDir, filepath.Base(exe)+"-"+s.ID)
		if err := os.MkdirAll(s.Dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "can't create directory `%s`", s.Dir)
		}

		latest := filepath.Join(cfg.DumpDir, consts.LatestLinkName)
		if err := fsutil.UpdateSymlink(filepath.Base(s.Dir), latest); err != nil {
			s.logger.WithError(err).Errorf("failed to update %s", latest)
		}
	}

	location := ""
	if s.Dir != "" {
		location = filepath.Join(s.Dir, report.DefaultSessionReportFileName)
	}

	s.Report = report.NewSessionReport(location)
	s.Report.Version = v.Current()
	s.Report.TraceDir = s.Dir
	s.Report.Mode = mode.String()
	s.Report.Args = args
	s.Report.ArchName = string(s.Arch.Name)
	s.Report.MaxDumpBytes = s.Budget.Limit()
	s.Report.StartTime = time.Now()
	s.Report.State = command.StateStarted
	s.Report.Executable.Path = exe
	if digest, size, err := report.DigestFile(exe); err == nil {
		s.Report.Executable.Digest = digest
		s.Report.Executable.Size = size
	} else {
		s.logger.WithError(err).Debug("executable digest")
	}

	info := system.GetSystemInfo()
	s.Report.System = report.SystemMetadata{
		Type:    info.Sysname,
		Release: info.Release,
		OS:      info.Version,
		Machine: info.Machine,
	}

	return s, nil
}

func (s *Session) persist() bool {
	return s.Mode != config.ModeDryRun && !s.exhausted
}

// Exhausted reports that the byte budget ran out.
func (s *Session) Exhausted() bool {
	return s.exhausted
}

func (s *Session) setExhausted() {
	if s.exhausted {
		return
	}

	s.exhausted = true
	s.Report.BudgetExhausted = true
	s.logger.Warnf("max_dump_bytes reached (%d bytes), recording stopped", s.Budget.Limit())
}

// openProcess starts the timeline files of pid.
func (s *Session) openProcess(pid, parent int, exe string) *process {
	if p, ok := s.procs[pid]; ok {
		return p
	}

	p := &process{pid: pid, parent: parent, exe: exe, info: s.Report.Process(pid)}
	p.info.ParentPid = parent
	p.info.Exe = exe
	s.procs[pid] = p

	if !s.persist() {
		return p
	}

	w, err := timeline.Create(filepath.Join(s.Dir, timeline.ContextFileName(pid)), timeline.WriterOptions{
		Pid:           pid,
		Machine:       s.Arch.ElfMachine,
		CompressLevel: s.Config.CompressLevel,
		Budget:        s.Budget,
	})
	if err != nil {
		s.fileError(pid, err)
		return p
	}
	p.events = w

	mw, err := timeline.CreateMaps(filepath.Join(s.Dir, timeline.MapsFileName(pid)), pid, s.Arch.ElfMachine, s.Budget)
	if err != nil {
		s.fileError(pid, err)
		return p
	}
	p.maps = mw

	if exe != "" {
		s.writeExec(p)
	}

	return p
}

func (s *Session) fileError(pid int, err error) {
	if errors.Is(err, timeline.ErrBudgetExhausted) {
		s.setExhausted()
		return
	}

	s.logger.WithError(err).WithField("pid", pid).Error("timeline file")
}

func (s *Session) writeExec(p *process) {
	if !s.persist() {
		return
	}

	if err := timeline.WriteExecFile(s.Dir, p.pid, p.exe); err != nil {
		s.logger.WithError(err).WithField("pid", p.pid).Error("exec file")
	}
}

func (s *Session) process(pid int) (*process, bool) {
	p, ok := s.procs[pid]
	return p, ok
}

// setExe records a successful exec in p.
func (s *Session) setExe(p *process, exe string) {
	p.exe = exe
	p.info.Exe = exe
	p.regions = nil
	s.writeExec(p)
}

// appendEvent adds one event to the timeline of p. It reports false once
// the budget is exhausted.
func (s *Session) appendEvent(p *process, e timeline.EventEntry, x *timeline.ExtraInfo) (int, bool) {
	if s.exhausted {
		return -1, false
	}

	index := p.count
	if s.persist() && p.events != nil {
		var err error
		index, err = p.events.Append(e, x)
		if err != nil {
			s.fileError(p.pid, err)
			if index < 0 {
				return -1, false
			}
		}
	}

	p.count = index + 1
	p.info.EventCount++
	s.Report.EventCount++

	switch e.Kind() {
	case timeline.KindSyscall:
		num, _ := e.Syscall()
		s.Report.AddSyscall(num, s.resolve(num))
	case timeline.KindSignal:
		s.Report.SignalCount++
	}

	s.logger.Tracef("event pid=%d #%d %s tid=%d result=%d", p.pid, index, e.Name(s.resolve), e.Tid, e.Result)
	return index, true
}

// snapshot writes the full memory layout of p as the state before its next event.
func (s *Session) snapshot(p *process) {
	regions, err := procfs.ReadMaps(p.pid)
	if err != nil {
		s.logger.WithError(err).WithField("pid", p.pid).Debug("snapshot: maps")
		return
	}
	p.regions = regions

	if !s.persist() || p.maps == nil {
		p.info.Snapshots++
		return
	}

	snap := &timeline.MapsSnapshot{
		EventIndex: p.count,
		Regions:    regions,
		Exe:        p.exe,
	}

	if auxv, err := procfs.ReadAuxv(p.pid); err == nil {
		snap.Auxv = auxv
	}

	if err := p.maps.Append(snap); err != nil {
		s.fileError(p.pid, err)
		return
	}

	p.info.Snapshots++
}

// mapChanged accounts for a successful mapping change in p and takes a
// snapshot every snapshotInterval changes or when force is set.
func (s *Session) mapChanged(p *process, force bool) {
	p.regions = nil
	p.mapChanges++
	if force || p.mapChanges%snapshotInterval == 0 {
		s.snapshot(p)
	}
}

// layout returns the cached memory layout of p, reading it when stale.
func (s *Session) layout(p *process) []procfs.Region {
	if p.regions == nil {
		regions, err := procfs.ReadMaps(p.pid)
		if err != nil {
			return nil
		}
		p.regions = regions
	}

	return p.regions
}

// Close flushes every timeline file and saves the session manifest.
func (s *Session) Close(state command.State, runErr error) error {
	var firstErr error
	for _, p := range s.procs {
		if p.events != nil {
			if err := p.events.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if p.maps != nil {
			if err := p.maps.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Report.RootPid = s.RootPid
	s.Report.EndTime = time.Now()
	s.Report.SetBytesWritten(s.Budget.Used())
	s.Report.State = state
	if runErr != nil {
		s.Report.Error = runErr.Error()
	}

	if err := s.Report.Save(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
