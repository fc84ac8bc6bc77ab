package errors

import (
	"fmt"
	"runtime"
)

// TraceError is a chainable recorder error carrying the failed operation
// and the error class ("call.error", "ptrace.seize", ...).
type TraceError struct {
	Op      string        `json:"op"`
	Kind    string        `json:"kind"`
	Next    *TraceError   `json:"next,omitempty"`
	Wrapped *WrappedError `json:"wrapped,omitempty"`
}

type WrappedError struct {
	Type string `json:"type"`
	Info string `json:"info"`
	File string `json:"file"`
	Line int    `json:"line"`
	err  error
}

func (e *TraceError) Error() string {
	errStr := ""
	if e.Next != nil {
		errStr = fmt.Sprintf(",Next:%s", e.Next.Error())
	}
	if e.Wrapped != nil {
		errStr = fmt.Sprintf("%s,Wrapped:{Type=%s,Info=%s,Line:%d,File:%s}",
			errStr, e.Wrapped.Type, e.Wrapped.Info, e.Wrapped.Line, e.Wrapped.File)
	}

	return fmt.Sprintf("TraceError{Op:%s,Kind:%s%s}", e.Op, e.Kind, errStr)
}

// Unwrap exposes the original error so errors.Is works through the chain.
func (e *TraceError) Unwrap() error {
	if e.Next != nil {
		return e.Next
	}
	if e.Wrapped != nil {
		return e.Wrapped.err
	}
	return nil
}

// SE wraps err with the operation name and error kind.
func SE(op string, kind string, err error) *TraceError {
	e := &TraceError{
		Op:   op,
		Kind: kind,
	}

	if err == nil {
		return e
	}

	if next, ok := err.(*TraceError); ok {
		e.Next = next
	} else {
		e.Wrapped = &WrappedError{
			Type: fmt.Sprintf("%T", err),
			Info: err.Error(),
			err:  err,
		}

		if _, file, line, ok := runtime.Caller(1); ok {
			e.Wrapped.File = file
			e.Wrapped.Line = line
		}
	}

	return e
}

func Drain(ch <-chan error) (arr []error) {
	for {
		select {
		case e := <-ch:
			arr = append(arr, e)
		default:
			return arr
		}
	}
}
