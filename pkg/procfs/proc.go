package procfs

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Auxiliary vector keys used when rebuilding cores
const (
	AtNull  = 0
	AtPhdr  = 3
	AtPhent = 4
	AtPhnum = 5
	AtBase  = 7
	AtEntry = 9
)

// ReadAuxv returns the raw auxiliary vector (native endian uint64 pairs).
func ReadAuxv(pid int) ([]byte, error) {
	return os.ReadFile(procPath(pid, "auxv"))
}

// ParseAuxv decodes a raw 64-bit little endian auxiliary vector.
func ParseAuxv(data []byte) map[uint64]uint64 {
	out := map[uint64]uint64{}
	for len(data) >= 16 {
		key := binary.LittleEndian.Uint64(data)
		val := binary.LittleEndian.Uint64(data[8:])
		if key == AtNull {
			break
		}

		out[key] = val
		data = data[16:]
	}

	return out
}

// ReadExe resolves /proc/<pid>/exe.
func ReadExe(pid int) (string, error) {
	return os.Readlink(procPath(pid, "exe"))
}

// ReadFdPath resolves an open descriptor of pid to its path.
func ReadFdPath(pid, fd int) (string, error) {
	return os.Readlink(procPath(pid, "fd/"+strconv.Itoa(fd)))
}

// ReadCmdline returns the argv of pid.
func ReadCmdline(pid int) ([]string, error) {
	data, err := os.ReadFile(procPath(pid, "cmdline"))
	if err != nil {
		return nil, err
	}

	data = bytes.TrimRight(data, "\x00")
	if len(data) == 0 {
		return nil, nil
	}

	return strings.Split(string(data), "\x00"), nil
}

// Status holds the /proc/<pid>/status fields the recorder needs.
type Status struct {
	Name   string
	State  string
	Tgid   int
	Pid    int
	PPid   int
	Uid    int
	Gid    int
	Thread int
}

func ParseStatus(data []byte) (*Status, error) {
	st := &Status{}
	found := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)
		first := value
		if fields := strings.Fields(value); len(fields) > 0 {
			first = fields[0]
		}

		switch key {
		case "Name":
			st.Name = value
		case "State":
			st.State = first
		case "Tgid":
			st.Tgid, _ = strconv.Atoi(first)
			found = true
		case "Pid":
			st.Pid, _ = strconv.Atoi(first)
		case "PPid":
			st.PPid, _ = strconv.Atoi(first)
		case "Uid":
			st.Uid, _ = strconv.Atoi(first)
		case "Gid":
			st.Gid, _ = strconv.Atoi(first)
		case "Threads":
			st.Thread, _ = strconv.Atoi(first)
		}
	}

	if !found {
		return nil, errors.New("procfs: no Tgid in status")
	}

	return st, scanner.Err()
}

func ReadStatus(pid int) (*Status, error) {
	data, err := os.ReadFile(procPath(pid, "status"))
	if err != nil {
		return nil, err
	}

	return ParseStatus(data)
}

// ReadTgid returns the thread group (process) id of tid.
func ReadTgid(tid int) (int, error) {
	st, err := ReadStatus(tid)
	if err != nil {
		return 0, err
	}

	return st.Tgid, nil
}

// ThreadIDs lists /proc/<pid>/task.
func ThreadIDs(pid int) ([]int, error) {
	entries, err := os.ReadDir(procPath(pid, "task"))
	if err != nil {
		return nil, err
	}

	var tids []int
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			tids = append(tids, tid)
		}
	}

	sort.Ints(tids)
	return tids, nil
}
