package timeline

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

type MemKind uint8

const (
	MemStack MemKind = iota + 1
	MemHeap
	MemParam
	MemVar
	MemModule
	MemPthreadList
	MemRobustList
	MemFunc
)

var memKindNames = map[MemKind]string{
	MemStack:       "stack",
	MemHeap:        "heap",
	MemParam:       "param",
	MemVar:         "var",
	MemModule:      "module",
	MemPthreadList: "pthread",
	MemRobustList:  "robust",
	MemFunc:        "func",
}

func (k MemKind) String() string {
	if name, ok := memKindNames[k]; ok {
		return name
	}

	return "mem"
}

// MemCapture is a range of tracee memory copied at capture time.
type MemCapture struct {
	Addr  uint64  `cbor:"addr"`
	Kind  MemKind `cbor:"kind"`
	Label string  `cbor:"label,omitempty"`
	Data  []byte  `cbor:"data"`
	// Truncated is set when the range was cut to the configured size limit.
	Truncated bool `cbor:"truncated,omitempty"`
}

func (m MemCapture) End() uint64 {
	return m.Addr + uint64(len(m.Data))
}

// ExtraInfo is the variable length payload of an event.
type ExtraInfo struct {
	Regs      []uint64     `cbor:"regs,omitempty"`
	Args      []uint64     `cbor:"args,omitempty"`
	Mem       []MemCapture `cbor:"mem,omitempty"`
	Text      string       `cbor:"text,omitempty"`
	Path      string       `cbor:"path,omitempty"`
	ExtResult *int64       `cbor:"ext_result,omitempty"`
	// Threads holds the registers of the other threads of the process
	// at the time of the event, keyed by tid.
	Threads map[int32][]uint64 `cbor:"threads,omitempty"`
}

func (x *ExtraInfo) Empty() bool {
	return x == nil || (len(x.Regs) == 0 && len(x.Args) == 0 && len(x.Mem) == 0 &&
		x.Text == "" && x.Path == "" && x.ExtResult == nil && len(x.Threads) == 0)
}

// MemSize is the number of captured memory bytes.
func (x *ExtraInfo) MemSize() int {
	if x == nil {
		return 0
	}

	n := 0
	for _, m := range x.Mem {
		n += len(m.Data)
	}

	return n
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("timeline: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("timeline: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// DecodeExtraInfo decodes a raw extra info blob as returned by Timeline.ExtraInfo.
func DecodeExtraInfo(data []byte) (*ExtraInfo, error) {
	var x ExtraInfo
	if err := unmarshal(data, &x); err != nil {
		return nil, err
	}

	return &x, nil
}
