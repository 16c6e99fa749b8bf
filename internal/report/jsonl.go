package report

import (
	"bufio"
	"os"
	"path/filepath"

	"backtest/internal/codec"
	"backtest/internal/schema"
)

// JSONL file names written under the output directory.
const (
	FileDecisions = "decisions.jsonl"
	FileOrders    = "orders.jsonl"
	FileFills     = "fills.jsonl"
	FileTrades    = "trades.jsonl"
	FileEquity    = "equity.jsonl"
)

// JSONLWriter writes each record kind to its own JSON-lines file.
type JSONLWriter struct {
	files   []*os.File
	writers map[string]*bufio.Writer
}

// NewJSONLWriter creates dir and truncates the record files in it.
func NewJSONLWriter(dir string) (*JSONLWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &JSONLWriter{writers: make(map[string]*bufio.Writer)}
	for _, name := range []string{FileDecisions, FileOrders, FileFills, FileTrades, FileEquity} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		w.files = append(w.files, f)
		w.writers[name] = bufio.NewWriter(f)
	}
	return w, nil
}

func (w *JSONLWriter) OnDecision(d schema.Decision) error { return w.write(FileDecisions, d) }
func (w *JSONLWriter) OnOrder(o schema.Order) error       { return w.write(FileOrders, o) }
func (w *JSONLWriter) OnFill(f schema.Fill) error         { return w.write(FileFills, f) }
func (w *JSONLWriter) OnTrade(t schema.Trade) error       { return w.write(FileTrades, t) }
func (w *JSONLWriter) OnEquity(r schema.EquityRow) error  { return w.write(FileEquity, r) }

func (w *JSONLWriter) write(name string, v any) error {
	line, err := codec.EncodeJSON(v)
	if err != nil {
		return err
	}
	buf := w.writers[name]
	if _, err := buf.Write(line); err != nil {
		return err
	}
	return buf.WriteByte('\n')
}

// Close flushes and closes every file.
func (w *JSONLWriter) Close() error {
	var first error
	for _, f := range w.files {
		if buf, ok := w.writers[filepath.Base(f.Name())]; ok {
			if err := buf.Flush(); err != nil && first == nil {
				first = err
			}
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.files = nil
	return first
}

// WriteJSON writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	data, err := codec.EncodeJSONIndent(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
