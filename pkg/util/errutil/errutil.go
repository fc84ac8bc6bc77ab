package errutil

import (
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/pkg/errors"

	"github.com/slimtoolkit/emd/pkg/version"
)

// FailOnWithInfo logs the error information with additional context info (terminates the application)
func FailOnWithInfo(err error, info map[string]string) {
	if err != nil {
		showInfo(info)

		stackData := debug.Stack()
		log.WithError(err).WithFields(log.Fields{
			"version": version.Current(),
			"stack":   string(stackData),
		}).Fatal("emd: failure")
	}
}

// FailOn logs the error information (terminates the application)
func FailOn(err error) {
	if err != nil {
		stackData := debug.Stack()
		log.WithError(err).WithFields(log.Fields{
			"version": version.Current(),
			"stack":   string(stackData),
		}).Fatal("emd: failure")
	}
}

// WarnOn logs the error information as a warning
func WarnOn(err error) {
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"version": version.Current(),
		}).Warn("emd: warning")
	}
}

// FailWhen logs the given message if the condition is true (terminates the application)
func FailWhen(cond bool, msg string) {
	if cond {
		stackData := debug.Stack()
		log.WithFields(log.Fields{
			"version": version.Current(),
			"error":   msg,
			"stack":   string(stackData),
		}).Fatal("emd: failure")
	}
}

// Exit prints a user facing message to stderr and exits with the given code.
// Used for errors the user can fix (bad paths, bad flags), where a stack is noise.
func Exit(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}

func showInfo(info map[string]string) {
	if len(info) > 0 {
		fmt.Println("Error Context Info:")
		for k, v := range info {
			fmt.Printf("'%s': '%s'\n", k, v)
		}
	}
}

// IsNoChildProcesses reports whether a wait call failed because nothing is left to reap.
func IsNoChildProcesses(err error) bool {
	return errors.Is(err, unix.ECHILD)
}

// IsNoSuchProcess reports whether the traced thread is already gone.
func IsNoSuchProcess(err error) bool {
	return errors.Is(err, unix.ESRCH)
}
