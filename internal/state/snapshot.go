package state

import (
	"math"
	"os"
	"path/filepath"

	"github.com/yanun0323/errors"

	"backtest/internal/codec"
	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// Snapshot captures the account and its positions at a point in time. Fills
// counts the fills applied to the portfolio; AuditSeq is the sequence of the
// last audit record written or read, 0 when the run kept no audit log.
type Snapshot struct {
	Ts            int64           `json:"ts"`
	Fills         int             `json:"fills"`
	AuditSeq      uint64          `json:"auditSeq,omitempty"`
	Cash          float64         `json:"cash"`
	Equity        float64         `json:"equity"`
	RealizedPnL   float64         `json:"realizedPnl"`
	UnrealizedPnL float64         `json:"unrealizedPnl"`
	UsedMargin    float64         `json:"usedMargin"`
	FreeMargin    float64         `json:"freeMargin"`
	Positions     []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	Symbol        string        `json:"symbol"`
	State         PositionState `json:"state"`
	Side          schema.Side   `json:"side"`
	Qty           float64       `json:"qty"`
	AvgEntry      float64       `json:"avgEntry"`
	RealizedPnL   float64       `json:"realizedPnl"`
	UnrealizedPnL float64       `json:"unrealizedPnl"`
	MarkPrice     float64       `json:"markPrice"`
}

// Snapshot builds a snapshot from the current ledger, sorted by symbol.
func (p *Portfolio) Snapshot(ts int64) Snapshot {
	entries := make([]PositionEntry, 0, len(p.symbols))
	for _, sym := range p.symbols {
		pos := p.positions[sym]
		entries = append(entries, PositionEntry{
			Symbol:        sym,
			State:         pos.State,
			Side:          pos.Side,
			Qty:           pos.Qty,
			AvgEntry:      pos.AvgEntry,
			RealizedPnL:   pos.RealizedPnL,
			UnrealizedPnL: pos.UnrealizedPnL,
			MarkPrice:     pos.MarkPrice,
		})
	}
	return Snapshot{
		Ts:            ts,
		Fills:         p.fills,
		Cash:          p.cash,
		Equity:        p.equity,
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: p.unrealizedPnL,
		UsedMargin:    p.usedMargin,
		FreeMargin:    p.freeMargin,
		Positions:     entries,
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := codec.EncodeJSONIndent(snapshot)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := codec.DecodeJSON(data, &snap); err != nil {
		return Snapshot{}, errors.Wrapf(exception.ErrValidation, "snapshot %s: %v", path, err)
	}
	return snap, nil
}

// CompareSnapshots checks that the fill-derived figures of two snapshots match
// within tol. Marks and unrealized PnL are not compared because fills alone do
// not determine them. A mismatch is an ErrInvariantViolation.
func CompareSnapshots(expected, actual Snapshot, tol float64) error {
	if tol <= 0 {
		tol = DefaultInvariantTolerance
	}
	if expected.Fills != actual.Fills {
		return mismatch("fill count expected=%d actual=%d", expected.Fills, actual.Fills)
	}
	if !near(expected.Cash, actual.Cash, tol) {
		return mismatch("cash mismatch: expected=%v actual=%v", expected.Cash, actual.Cash)
	}
	if !near(expected.RealizedPnL, actual.RealizedPnL, tol) {
		return mismatch("realized mismatch: expected=%v actual=%v", expected.RealizedPnL, actual.RealizedPnL)
	}
	if len(expected.Positions) != len(actual.Positions) {
		return mismatch("length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[string]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.Symbol] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.Symbol]
		if !ok {
			return mismatch("missing symbol: %s", entry.Symbol)
		}
		if want.Side != entry.Side || !near(want.Qty, entry.Qty, tol) {
			return mismatch("qty mismatch: symbol=%s expected=%s %v actual=%s %v",
				entry.Symbol, want.Side, want.Qty, entry.Side, entry.Qty)
		}
		if !near(want.AvgEntry, entry.AvgEntry, tol) {
			return mismatch("entry mismatch: symbol=%s expected=%v actual=%v", entry.Symbol, want.AvgEntry, entry.AvgEntry)
		}
	}
	return nil
}

func mismatch(format string, args ...any) error {
	return errors.Wrapf(exception.ErrInvariantViolation, "snapshot "+format, args...)
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
