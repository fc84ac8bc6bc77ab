// Package procfs reads the /proc state of traced processes.
package procfs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrBadMapsLine = errors.New("bad maps line")

// Region is one line of /proc/<pid>/maps.
type Region struct {
	Start  uint64 `cbor:"start" json:"start"`
	End    uint64 `cbor:"end" json:"end"`
	Perms  string `cbor:"perms" json:"perms"`
	Offset uint64 `cbor:"offset" json:"offset"`
	Dev    string `cbor:"dev,omitempty" json:"dev,omitempty"`
	Inode  uint64 `cbor:"inode,omitempty" json:"inode,omitempty"`
	Path   string `cbor:"path,omitempty" json:"path,omitempty"`
}

func (r Region) Size() uint64 {
	return r.End - r.Start
}

func (r Region) Readable() bool   { return len(r.Perms) > 0 && r.Perms[0] == 'r' }
func (r Region) Writable() bool   { return len(r.Perms) > 1 && r.Perms[1] == 'w' }
func (r Region) Executable() bool { return len(r.Perms) > 2 && r.Perms[2] == 'x' }
func (r Region) Shared() bool     { return len(r.Perms) > 3 && r.Perms[3] == 's' }

// IsFile reports a file backed mapping (not [heap], [stack], anonymous).
func (r Region) IsFile() bool {
	return r.Path != "" && !strings.HasPrefix(r.Path, "[") && r.Inode != 0
}

func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

func (r Region) String() string {
	return fmt.Sprintf("%x-%x %s %08x %s %d %s", r.Start, r.End, r.Perms, r.Offset, r.Dev, r.Inode, r.Path)
}

// ParseMapsLine parses "start-end perms offset dev inode [path]".
func ParseMapsLine(line string) (Region, error) {
	var r Region

	fields := strings.Fields(line)
	if len(fields) < 5 {
		return r, errors.Wrapf(ErrBadMapsLine, "%q", line)
	}

	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return r, errors.Wrapf(ErrBadMapsLine, "%q", line)
	}

	var err error
	if r.Start, err = strconv.ParseUint(bounds[0], 16, 64); err != nil {
		return r, errors.Wrapf(ErrBadMapsLine, "%q", line)
	}

	if r.End, err = strconv.ParseUint(bounds[1], 16, 64); err != nil || r.End < r.Start {
		return r, errors.Wrapf(ErrBadMapsLine, "%q", line)
	}

	r.Perms = fields[1]
	if r.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return r, errors.Wrapf(ErrBadMapsLine, "%q", line)
	}

	r.Dev = fields[3]
	if r.Inode, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
		return r, errors.Wrapf(ErrBadMapsLine, "%q", line)
	}

	if len(fields) > 5 {
		// paths may contain spaces; keep everything after the inode column
		idx := strings.Index(line, fields[5])
		r.Path = strings.TrimSpace(line[idx:])
	}

	return r, nil
}

func ParseMaps(reader io.Reader) ([]Region, error) {
	var regions []Region

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		region, err := ParseMapsLine(line)
		if err != nil {
			return nil, err
		}

		regions = append(regions, region)
	}

	return regions, scanner.Err()
}

func ReadMaps(pid int) ([]Region, error) {
	source, err := os.Open(procPath(pid, "maps"))
	if err != nil {
		return nil, err
	}

	defer source.Close()
	return ParseMaps(source)
}

// FindRegion returns the region holding addr.
func FindRegion(regions []Region, addr uint64) (Region, bool) {
	for _, r := range regions {
		if r.Contains(addr) {
			return r, true
		}
	}

	return Region{}, false
}

// RegionsByPath returns the regions whose path equals ident ("[heap]", "/usr/lib/libc.so.6").
func RegionsByPath(regions []Region, ident string) []Region {
	var out []Region
	for _, r := range regions {
		if r.Path == ident {
			out = append(out, r)
		}
	}

	return out
}

func procPath(pid int, name string) string {
	return fmt.Sprintf("/proc/%d/%s", pid, name)
}
