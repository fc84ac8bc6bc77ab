package errutil

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func TestIsNoChildProcesses(t *testing.T) {
	tt := []struct {
		err    error
		expect bool
	}{
		{err: nil, expect: false},
		{err: unix.ECHILD, expect: true},
		{err: errors.Wrap(unix.ECHILD, "wait4"), expect: true},
		{err: fmt.Errorf("wait: %w", unix.ECHILD), expect: true},
		{err: unix.EINTR, expect: false},
	}

	for _, test := range tt {
		if got := IsNoChildProcesses(test.err); got != test.expect {
			t.Errorf("IsNoChildProcesses(%v) = %v, want %v", test.err, got, test.expect)
		}
	}
}

func TestIsNoSuchProcess(t *testing.T) {
	if !IsNoSuchProcess(errors.WithStack(unix.ESRCH)) {
		t.Error("expected ESRCH to match")
	}
	if IsNoSuchProcess(unix.EPERM) {
		t.Error("EPERM must not match")
	}
}
