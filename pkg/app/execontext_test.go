package app

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func testOutput(quiet bool) (*Output, *bytes.Buffer) {
	color.NoColor = true
	var buf bytes.Buffer
	out := NewOutput("record", quiet)
	out.w = &buf
	return out, &buf
}

func TestOutputState(t *testing.T) {
	tt := []struct {
		state  string
		params []OutVars
		want   string
	}{
		{state: "started", want: "cmd=record state=started\n"},
		{
			state:  "exited",
			params: []OutVars{{"exit.code": 3, "pid": 42, "dir": "/tmp/x"}},
			want:   "cmd=record state=exited code=3 dir=/tmp/x pid=42\n",
		},
	}

	for _, test := range tt {
		out, buf := testOutput(false)
		out.State(test.state, test.params...)
		assert.Equal(t, test.want, buf.String(), test.state)
	}
}

func TestOutputQuiet(t *testing.T) {
	out, buf := testOutput(true)
	out.State("started")
	out.Message("hello")
	out.Info("session", OutVars{"pid": 1})
	assert.Empty(t, buf.String())

	out.Error("recorder", "boom")
	assert.Equal(t, "cmd=record error=recorder message='boom'\n", buf.String())
}

func TestOutputInfo(t *testing.T) {
	out, buf := testOutput(false)
	out.Info("session", OutVars{"b": 2, "a": 1})
	assert.Equal(t, "cmd=record info=session a='1' b='2'\n", buf.String())
}

func TestCleanupOrder(t *testing.T) {
	var order []int
	xc := NewExecutionContext("record", true)
	xc.AddCleanupHandler(func() { order = append(order, 1) })
	xc.AddCleanupHandler(nil)
	xc.AddCleanupHandler(func() { order = append(order, 2) })

	xc.doCleanup()
	xc.doCleanup()
	assert.Equal(t, []int{2, 1}, order)
}
