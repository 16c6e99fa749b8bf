package feed

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// LoadCSV reads timestamp,open,high,low,close,volume rows for one symbol. The
// timestamp is RFC3339 or unix seconds. A header row is skipped.
func LoadCSV(r io.Reader, symbol string) ([]schema.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 6
	reader.TrimLeadingSpace = true

	var bars []schema.Bar
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(exception.ErrValidation, "%s: %v", symbol, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "timestamp") {
			continue
		}
		bar, err := parseRow(symbol, record)
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d", symbol, line)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseRow(symbol string, record []string) (schema.Bar, error) {
	ts, err := parseTime(record[0])
	if err != nil {
		return schema.Bar{}, err
	}
	var vals [5]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return schema.Bar{}, errors.Wrapf(exception.ErrValidation, "column %d: %v", i+2, err)
		}
		vals[i] = v
	}
	bar := schema.Bar{
		Symbol: symbol,
		Ts:     ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	return bar, bar.Validate()
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(exception.ErrValidation, "timestamp %q is neither RFC3339 nor unix seconds", raw)
	}
	if _, offset := ts.Zone(); offset != 0 {
		return time.Time{}, errors.Wrapf(exception.ErrValidation, "timestamp %q is not UTC", raw)
	}
	return ts.UTC(), nil
}

// LoadDir reads every *.csv file in dir; the file name without extension is
// the symbol.
func LoadDir(dir string) (map[string][]schema.Bar, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make(map[string][]schema.Bar, len(paths))
	for _, path := range paths {
		symbol := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		bars, err := loadFile(path, symbol)
		if err != nil {
			return nil, err
		}
		out[symbol] = bars
	}
	return out, nil
}

func loadFile(path, symbol string) ([]schema.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f, symbol)
}
