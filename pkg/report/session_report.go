package report

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/slimtoolkit/emd/pkg/command"
	"github.com/slimtoolkit/emd/pkg/consts"
	"github.com/slimtoolkit/emd/pkg/util/jsonutil"
)

// DefaultSessionReportFileName is the manifest name inside a trace directory
const DefaultSessionReportFileName = consts.SessionFileName

// SyscallStatInfo contains various system call activity metadata
type SyscallStatInfo struct {
	Number uint32 `json:"num"`
	Name   string `json:"name"`
	Count  uint64 `json:"count"`
}

// SystemMetadata provides basic system metadata
type SystemMetadata struct {
	Type    string `json:"type"`
	Release string `json:"release"`
	OS      string `json:"os"`
	Machine string `json:"machine"`
}

// ExecutableInfo identifies the recorded program
type ExecutableInfo struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"blake3,omitempty"`
}

// ProcessInfo contains the per process recording metadata
type ProcessInfo struct {
	Pid        int    `json:"pid"`
	ParentPid  int    `json:"ppid,omitempty"`
	Exe        string `json:"exe,omitempty"`
	EventCount uint64 `json:"event_count"`
	Snapshots  int    `json:"snapshots"`
	ExitCode   int    `json:"exit_code"`
	FatalSig   int    `json:"fatal_sig,omitempty"`
}

// SessionReport is the manifest of one recording
type SessionReport struct {
	reportLocation string

	Type     command.Type  `json:"type"`
	State    command.State `json:"state"`
	Error    string        `json:"error,omitempty"`
	Version  string        `json:"version"`
	TraceDir string        `json:"trace_dir"`
	Mode     string        `json:"mode"`

	Executable ExecutableInfo `json:"executable"`
	Args       []string       `json:"args,omitempty"`
	RootPid    int            `json:"root_pid"`
	ExitCode   int            `json:"exit_code"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ArchName string         `json:"arch_name"`
	System   SystemMetadata `json:"system"`

	EventCount   uint64                     `json:"event_count"`
	SignalCount  uint64                     `json:"signal_count"`
	SyscallCount uint64                     `json:"syscall_count"`
	SyscallNum   uint32                     `json:"syscall_num"`
	SyscallStats map[string]SyscallStatInfo `json:"syscall_stats"`
	Processes    map[string]*ProcessInfo    `json:"processes"`

	BytesWritten      int64  `json:"bytes_written"`
	BytesWrittenHuman string `json:"bytes_written_human"`
	MaxDumpBytes      int64  `json:"max_dump_bytes"`
	BudgetExhausted   bool   `json:"budget_exhausted,omitempty"`
}

// NewSessionReport creates a new 'record' command report
func NewSessionReport(reportLocation string) *SessionReport {
	return &SessionReport{
		reportLocation: reportLocation,
		Type:           command.Record,
		State:          command.StateUnknown,
		SyscallStats:   map[string]SyscallStatInfo{},
		Processes:      map[string]*ProcessInfo{},
	}
}

func (p *SessionReport) ReportLocation() string {
	return p.reportLocation
}

// AddSyscall counts one recorded syscall
func (p *SessionReport) AddSyscall(num uint32, name string) {
	p.SyscallCount++
	key := strconv.FormatInt(int64(num), 10)
	info := p.SyscallStats[key]
	info.Number = num
	info.Name = name
	info.Count++
	p.SyscallStats[key] = info
	p.SyscallNum = uint32(len(p.SyscallStats))
}

// Process returns the entry of pid, creating it on first use
func (p *SessionReport) Process(pid int) *ProcessInfo {
	key := strconv.Itoa(pid)
	info, ok := p.Processes[key]
	if !ok {
		info = &ProcessInfo{Pid: pid}
		p.Processes[key] = info
	}

	return info
}

// TopSyscalls returns the n most frequent syscalls, most frequent first
func (p *SessionReport) TopSyscalls(n int) []SyscallStatInfo {
	stats := make([]SyscallStatInfo, 0, len(p.SyscallStats))
	for _, info := range p.SyscallStats {
		stats = append(stats, info)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Number < stats[j].Number
	})

	if n > 0 && len(stats) > n {
		stats = stats[:n]
	}

	return stats
}

// SetBytesWritten records the trace size
func (p *SessionReport) SetBytesWritten(n int64) {
	p.BytesWritten = n
	p.BytesWrittenHuman = humanize.Bytes(uint64(n))
}

// Save saves the report data to the configured location
func (p *SessionReport) Save() error {
	if p.reportLocation == "" {
		return nil
	}

	if dirName := filepath.Dir(p.reportLocation); dirName != "." {
		if err := os.MkdirAll(dirName, 0777); err != nil {
			return err
		}
	}

	var reportData bytes.Buffer
	if err := jsonutil.Encode(&reportData, p, true); err != nil {
		return err
	}

	return os.WriteFile(p.reportLocation, reportData.Bytes(), 0644)
}

// LoadSessionReport reads a saved manifest
func LoadSessionReport(path string) (*SessionReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	p := NewSessionReport(path)
	if err := json.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, path)
	}

	return p, nil
}

// DigestFile returns the blake3 digest and the size of a file
func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := blake3.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
