package fsutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Directory and file related errors
var (
	ErrNoFileData = errors.New("no file data")
	ErrNoHomeDir  = errors.New("no home directory")
)

// Exists returns true if the target file system object exists
func Exists(target string) bool {
	if _, err := os.Stat(target); err != nil {
		return false
	}

	return true
}

// DirExists returns true if the target exists and it's a directory
func DirExists(target string) bool {
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return true
	}

	return false
}

// IsRegularFile returns true if the target file system object is a regular file
func IsRegularFile(target string) bool {
	info, err := os.Lstat(target)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular()
}

// IsSymlink returns true if the target file system object is a symlink
func IsSymlink(target string) bool {
	info, err := os.Lstat(target)
	if err != nil {
		return false
	}

	return (info.Mode() & os.ModeSymlink) == os.ModeSymlink
}

func HasWriteAccess(dst string) (bool, error) {
	err := unix.Access(dst, unix.W_OK)
	if err == nil {
		return true, nil
	}

	if err == unix.EACCES {
		return false, nil
	}

	return false, err
}

// HomeDir returns $HOME, falling back to the passwd entry lookup in os.UserHomeDir.
func HomeDir() (string, error) {
	if home := os.Getenv("HOME"); home != "" {
		return home, nil
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", ErrNoHomeDir
	}

	return home, nil
}

// ExpandHomeDir turns "~" and "~/x" into paths under $HOME.
func ExpandHomeDir(target string) string {
	if target != "~" && !strings.HasPrefix(target, "~/") {
		return target
	}

	home, err := HomeDir()
	if err != nil {
		log.Debugf("fsutil.ExpandHomeDir(%s): %v", target, err)
		return target
	}

	return filepath.Join(home, strings.TrimPrefix(target, "~"))
}

// FreeSpace returns the number of bytes available to unprivileged users
// on the file system holding target.
func FreeSpace(target string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(target, &st); err != nil {
		return 0, err
	}

	return st.Bavail * uint64(st.Bsize), nil
}

// UpdateSymlink points linkPath at target, replacing any previous link.
// Another process racing on the same link is tolerated: EEXIST from the
// final symlink call is ignored, anything else is returned.
func UpdateSymlink(target, linkPath string) error {
	if err := os.Remove(linkPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Debugf("fsutil.UpdateSymlink: remove(%s) - %v", linkPath, err)
	}

	if err := os.Symlink(target, linkPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}

		return err
	}

	return nil
}

// LoadStructFromFile creates a struct from a file
func LoadStructFromFile(filePath string, out interface{}) error {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	if len(raw) == 0 {
		return ErrNoFileData
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	return decoder.Decode(out)
}

// SaveStructToFile writes the JSON form of data next to filePath and renames it into place.
func SaveStructToFile(filePath string, data interface{}) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), "."+filepath.Base(filePath)+".*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), filePath)
}
