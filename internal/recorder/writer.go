package recorder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yanun0323/errors"

	"backtest/internal/schema"
)

var (
	ErrClosed          = errors.New("audit writer closed")
	ErrPayloadTooLarge = errors.New("audit payload too large")
)

const maxPayloadLen = uint64(^uint32(0))

// Writer appends records to numbered audit segments. It is synchronous and not
// safe for concurrent use; the kernel loop is its only caller.
type Writer struct {
	cfg Config

	seg         *segmentWriter
	segID       uint64
	headerBuf   []byte
	checksumBuf [recordChecksumSize]byte
	closed      bool
}

// NewWriter creates an audit writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{
		cfg:       cfg,
		headerBuf: make([]byte, recordHeaderSize),
	}, nil
}

// Append writes one record.
func (w *Writer) Append(header schema.EventHeader, payload []byte) error {
	if w.closed {
		return ErrClosed
	}
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if !knownEvent(header.Type) {
		return errors.Wrapf(ErrUnknownEventType, "type %d", uint16(header.Type))
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}

	recordSize := int64(recordHeaderSize + len(payload) + recordChecksumSize)
	if w.shouldRotate(recordSize) {
		if err := w.closeSegment(); err != nil {
			return err
		}
		if err := w.openSegment(); err != nil {
			return err
		}
	}

	encodeHeader(w.headerBuf, header, len(payload))
	sum := checksum(w.headerBuf, payload)
	binary.LittleEndian.PutUint32(w.checksumBuf[:], sum)

	if _, err := w.seg.buf.Write(w.headerBuf); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.seg.buf.Write(payload); err != nil {
			return err
		}
	}
	if _, err := w.seg.buf.Write(w.checksumBuf[:]); err != nil {
		return err
	}
	w.seg.size += recordSize
	return nil
}

// Flush writes buffered records to the current segment.
func (w *Writer) Flush() error {
	if w.seg == nil {
		return nil
	}
	return w.seg.buf.Flush()
}

// Close flushes and closes the current segment.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeSegment()
}

func (w *Writer) shouldRotate(nextSize int64) bool {
	if w.seg == nil {
		return true
	}
	return w.cfg.SegmentMaxBytes > 0 && w.seg.size > 0 && w.seg.size+nextSize > w.cfg.SegmentMaxBytes
}

func (w *Writer) closeSegment() error {
	seg := w.seg
	if seg == nil {
		return nil
	}
	w.seg = nil
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (w *Writer) openSegment() error {
	w.segID++
	name := fmt.Sprintf("%s-%06d.log", w.cfg.FilePrefix, w.segID)
	path := filepath.Join(w.cfg.Dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.seg = &segmentWriter{
		file: file,
		buf:  bufio.NewWriterSize(file, w.cfg.BufferSize),
	}
	return nil
}

type segmentWriter struct {
	file *os.File
	buf  *bufio.Writer
	size int64
}
