package recorder

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/slimtoolkit/emd/pkg/timeline"
)

// Control datagrams sent by the preload library on the control socket:
//
//	tid i32, type u16, reserved u16, UTF-8 text
//
// type is timeline.DumpReasonDBus or timeline.DumpReasonX11.
const controlHeaderSize = 8

var ErrBadControlMsg = errors.New("bad control message")

type controlMsg struct {
	Tid  int32
	Type uint16
	Text string
}

func parseControlMsg(data []byte) (controlMsg, error) {
	if len(data) < controlHeaderSize {
		return controlMsg{}, errors.Wrapf(ErrBadControlMsg, "%d bytes", len(data))
	}

	msg := controlMsg{
		Tid:  int32(binary.LittleEndian.Uint32(data)),
		Type: binary.LittleEndian.Uint16(data[4:]),
		Text: string(data[controlHeaderSize:]),
	}

	switch msg.Type {
	case timeline.DumpReasonDBus, timeline.DumpReasonX11:
	default:
		return controlMsg{}, errors.Wrapf(ErrBadControlMsg, "type %#x", msg.Type)
	}

	return msg, nil
}

func (m controlMsg) encode() []byte {
	out := make([]byte, controlHeaderSize+len(m.Text))
	binary.LittleEndian.PutUint32(out, uint32(m.Tid))
	binary.LittleEndian.PutUint16(out[4:], m.Type)
	copy(out[controlHeaderSize:], m.Text)
	return out
}
