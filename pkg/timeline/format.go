package timeline

import (
	"debug/elf"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

const (
	contextMagic  = "EMDCTX01"
	mapsMagic     = "EMDMAP01"
	formatVersion = 1

	fileHeaderSize   = 24
	recordHeaderSize = 32
	checksumOffset   = 24
)

const flagExtendedResult = 1 << 0

var (
	ErrBadMagic         = errors.New("timeline: bad file magic")
	ErrBadVersion       = errors.New("timeline: unsupported format version")
	ErrIndexOutOfRange  = errors.New("timeline: event index out of range")
	ErrShortBuffer      = errors.New("timeline: buffer too small for extra info")
	ErrBudgetExhausted  = errors.New("timeline: dump byte budget exhausted")
	ErrChecksumMismatch = errors.New("timeline: record checksum mismatch")
	ErrClosed           = errors.New("timeline: closed")
)

// fileHeader starts both the context and the maps file.
//
//	magic[8] version u16 machine u16 compress u16 reserved u16 pid i32 reserved u32
type fileHeader struct {
	Magic    string
	Version  uint16
	Machine  elf.Machine
	Compress uint16
	Pid      int32
}

func (h *fileHeader) encode() []byte {
	buf := make([]byte, fileHeaderSize)
	copy(buf, h.Magic)
	binary.LittleEndian.PutUint16(buf[8:], h.Version)
	binary.LittleEndian.PutUint16(buf[10:], uint16(h.Machine))
	binary.LittleEndian.PutUint16(buf[12:], h.Compress)
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.Pid))
	return buf
}

func decodeFileHeader(buf []byte, magic string) (*fileHeader, error) {
	if len(buf) < fileHeaderSize || string(buf[:8]) != magic {
		return nil, ErrBadMagic
	}

	h := &fileHeader{
		Magic:    magic,
		Version:  binary.LittleEndian.Uint16(buf[8:]),
		Machine:  elf.Machine(binary.LittleEndian.Uint16(buf[10:])),
		Compress: binary.LittleEndian.Uint16(buf[12:]),
		Pid:      int32(binary.LittleEndian.Uint32(buf[16:])),
	}

	if h.Version != formatVersion {
		return nil, errors.Wrapf(ErrBadVersion, "%d", h.Version)
	}

	return h, nil
}

// recordHeader precedes every event's stored blob in the context file.
//
//	type u16 threadnum u16 tid i32 result i32 codec u8 flags u8 reserved u16
//	rawlen u32 datalen u32 checksum u64
//
// The checksum is xxhash64 over the first 24 header bytes and the blob.
type recordHeader struct {
	Type      uint16
	ThreadNum uint16
	Tid       int32
	Result    int32
	Codec     CompressionTag
	Flags     uint8
	RawLen    uint32
	DataLen   uint32
	Checksum  uint64
}

func (h *recordHeader) encode(blob []byte) []byte {
	buf := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:], h.Type)
	binary.LittleEndian.PutUint16(buf[2:], h.ThreadNum)
	binary.LittleEndian.PutUint32(buf[4:], uint32(h.Tid))
	binary.LittleEndian.PutUint32(buf[8:], uint32(h.Result))
	buf[12] = uint8(h.Codec)
	buf[13] = h.Flags
	binary.LittleEndian.PutUint32(buf[16:], h.RawLen)
	binary.LittleEndian.PutUint32(buf[20:], h.DataLen)
	h.Checksum = recordChecksum(buf[:checksumOffset], blob)
	binary.LittleEndian.PutUint64(buf[checksumOffset:], h.Checksum)
	return buf
}

func decodeRecordHeader(buf []byte) recordHeader {
	return recordHeader{
		Type:      binary.LittleEndian.Uint16(buf[0:]),
		ThreadNum: binary.LittleEndian.Uint16(buf[2:]),
		Tid:       int32(binary.LittleEndian.Uint32(buf[4:])),
		Result:    int32(binary.LittleEndian.Uint32(buf[8:])),
		Codec:     CompressionTag(buf[12]),
		Flags:     buf[13],
		RawLen:    binary.LittleEndian.Uint32(buf[16:]),
		DataLen:   binary.LittleEndian.Uint32(buf[20:]),
		Checksum:  binary.LittleEndian.Uint64(buf[checksumOffset:]),
	}
}

func recordChecksum(hdr []byte, blob []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(hdr)
	_, _ = d.Write(blob)
	return d.Sum64()
}
