package errors

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSEChain(t *testing.T) {
	inner := SE("ptrace.Attach", "ptrace.seize", unix.EPERM)
	require.NotNil(t, inner.Wrapped)
	assert.Equal(t, "syscall.Errno", inner.Wrapped.Type)
	assert.NotZero(t, inner.Wrapped.Line)

	outer := SE("recorder.Session.Run", "call.error", inner)
	assert.Nil(t, outer.Wrapped)
	assert.Same(t, inner, outer.Next)
	assert.True(t, errors.Is(outer, unix.EPERM))
	assert.True(t, strings.HasPrefix(outer.Error(), "TraceError{Op:recorder.Session.Run,Kind:call.error,Next:TraceError{Op:ptrace.Attach"))
}

func TestSENil(t *testing.T) {
	e := SE("op", "kind", nil)
	assert.Nil(t, e.Next)
	assert.Nil(t, e.Wrapped)
	assert.Equal(t, "TraceError{Op:op,Kind:kind}", e.Error())
}

func TestDrain(t *testing.T) {
	ch := make(chan error, 3)
	ch <- errors.New("one")
	ch <- errors.New("two")
	assert.Len(t, Drain(ch), 2)
	assert.Empty(t, Drain(ch))
}
