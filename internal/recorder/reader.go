package recorder

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/yanun0323/errors"

	"backtest/internal/codec"
	"backtest/internal/schema"
)

// Event is one decoded audit record. Exactly one payload field is set, the
// one matching Header.Type.
type Event struct {
	Header   schema.EventHeader
	Size     int
	Decision *schema.Decision
	Order    *schema.Order
	Fill     *schema.Fill
	Equity   *schema.EquityRow
	Trade    *schema.Trade
	// Summary is the raw JSON of a run summary record.
	Summary []byte
}

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes audit records from one segment.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	payload   []byte
}

// NewReader wraps an io.Reader with audit record decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next reads and decodes the next record. It returns io.EOF at a clean end of
// segment and ErrTruncatedRecord when the segment ends inside a record.
func (r *Reader) Next() (Event, error) {
	header, payload, err := r.next()
	if err != nil {
		return Event{Header: header}, err
	}
	ev, err := decodeEvent(header, payload)
	if err != nil {
		return ev, errors.Wrapf(err, "%s record at seq %d", header.Type, header.Seq)
	}
	return ev, nil
}

func (r *Reader) next() (schema.EventHeader, []byte, error) {
	if _, err := io.ReadFull(r.r, r.headerBuf); err != nil {
		if err == io.EOF {
			return schema.EventHeader{}, nil, io.EOF
		}
		return schema.EventHeader{}, nil, truncated(err)
	}
	header, payloadLen, err := decodeHeader(r.headerBuf)
	if err != nil {
		return header, nil, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return header, nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes at seq %d", payloadLen, header.Seq)
	}

	if cap(r.payload) < int(payloadLen) {
		r.payload = make([]byte, payloadLen)
	}
	r.payload = r.payload[:payloadLen]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return header, nil, truncated(err)
	}
	var sum [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, sum[:]); err != nil {
		return header, nil, truncated(err)
	}
	if !r.opts.DisableChecksum && binary.LittleEndian.Uint32(sum[:]) != checksum(r.headerBuf, r.payload) {
		return header, nil, errors.Wrapf(ErrChecksumMismatch, "seq %d", header.Seq)
	}
	return header, r.payload, nil
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncatedRecord
	}
	return err
}

// decodeEvent turns a payload into the typed record for its header. Decoded
// values do not alias the read buffer.
func decodeEvent(header schema.EventHeader, payload []byte) (Event, error) {
	ev := Event{Header: header, Size: len(payload)}
	switch header.Type {
	case schema.EventDecision:
		d, err := codec.DecodeDecision(payload)
		if err != nil {
			return ev, err
		}
		ev.Decision = &d
	case schema.EventOrder:
		o, err := codec.DecodeOrder(payload)
		if err != nil {
			return ev, err
		}
		ev.Order = &o
	case schema.EventFill:
		f, ok := codec.DecodeFill(payload)
		if !ok {
			return ev, codec.ErrTruncated
		}
		ev.Fill = &f
	case schema.EventEquity:
		row, ok := codec.DecodeEquity(payload)
		if !ok {
			return ev, codec.ErrTruncated
		}
		ev.Equity = &row
	case schema.EventTrade:
		t, err := codec.DecodeTrade(payload)
		if err != nil {
			return ev, err
		}
		ev.Trade = &t
	case schema.EventSummary:
		ev.Summary = append([]byte(nil), payload...)
	}
	return ev, nil
}
