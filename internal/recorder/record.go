package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/yanun0323/errors"

	"backtest/internal/schema"
)

// Audit record layout, little endian:
//
//	0:4   magic "AUD1"
//	4:6   format version
//	6:8   event type
//	8:10  payload schema version
//	10:12 reserved
//	12:16 payload length
//	16:24 sequence
//	24:32 event timestamp, unix nanoseconds
//
// The payload follows the header and a CRC32-C of header and payload closes
// the record.
const (
	formatVersion      uint16 = 2
	recordHeaderSize          = 32
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'A', 'U', 'D', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic       = errors.New("audit invalid magic")
	ErrUnsupportedFormat  = errors.New("audit unsupported format version")
	ErrUnsupportedSchema  = errors.New("audit unsupported payload schema version")
	ErrUnknownEventType   = errors.New("audit unknown event type")
	ErrTruncatedRecord    = errors.New("audit truncated record")
	ErrChecksumMismatch   = errors.New("audit checksum mismatch")
	ErrSequenceOutOfOrder = errors.New("audit sequence out of order")
)

// knownEvent reports whether t is one of the record types the kernel writes.
func knownEvent(t schema.EventType) bool {
	switch t {
	case schema.EventDecision, schema.EventOrder, schema.EventFill,
		schema.EventEquity, schema.EventTrade, schema.EventSummary:
		return true
	default:
		return false
	}
}

func encodeHeader(dst []byte, header schema.EventHeader, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], formatVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(header.Type))
	binary.LittleEndian.PutUint16(dst[8:10], header.Version)
	binary.LittleEndian.PutUint16(dst[10:12], 0)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], header.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(header.TsEvent))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

// decodeHeader parses and checks a record header. Records of a type the kernel
// does not write, or of a newer payload schema, are rejected here so callers
// never see a payload they cannot decode.
func decodeHeader(src []byte) (schema.EventHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return schema.EventHeader{}, 0, ErrTruncatedRecord
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return schema.EventHeader{}, 0, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint16(src[4:6]); v != formatVersion {
		return schema.EventHeader{}, 0, errors.Wrapf(ErrUnsupportedFormat, "version %d", v)
	}
	h := schema.EventHeader{
		Type:    schema.EventType(binary.LittleEndian.Uint16(src[6:8])),
		Version: binary.LittleEndian.Uint16(src[8:10]),
		Seq:     binary.LittleEndian.Uint64(src[16:24]),
		TsEvent: int64(binary.LittleEndian.Uint64(src[24:32])),
	}
	if !knownEvent(h.Type) {
		return h, 0, errors.Wrapf(ErrUnknownEventType, "type %d at seq %d", uint16(h.Type), h.Seq)
	}
	if h.Version == 0 || h.Version > schema.SchemaVersion {
		return h, 0, errors.Wrapf(ErrUnsupportedSchema, "schema %d at seq %d", h.Version, h.Seq)
	}
	return h, binary.LittleEndian.Uint32(src[12:16]), nil
}
