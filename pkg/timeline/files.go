package timeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	contextPrefix = "context_"
	mapsPrefix    = "maps_"
	execPrefix    = "exec_"
)

func ContextFileName(pid int) string { return fmt.Sprintf("%s%d", contextPrefix, pid) }
func MapsFileName(pid int) string    { return fmt.Sprintf("%s%d", mapsPrefix, pid) }
func ExecFileName(pid int) string    { return fmt.Sprintf("%s%d", execPrefix, pid) }

// ListPids returns the pids that have a context file in dir, ascending.
func ListPids(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, contextPrefix) {
			continue
		}

		if pid, err := strconv.Atoi(strings.TrimPrefix(name, contextPrefix)); err == nil {
			pids = append(pids, pid)
		}
	}

	sort.Ints(pids)
	return pids, nil
}

// WriteExecFile records the executable path of pid.
func WriteExecFile(dir string, pid int, path string) error {
	return os.WriteFile(filepath.Join(dir, ExecFileName(pid)), []byte(path+"\n"), 0644)
}

func ReadExecFile(dir string, pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, ExecFileName(pid)))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}
