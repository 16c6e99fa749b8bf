package store

import (
	"time"

	"backtest/internal/schema"
)

// RunRecord is one backtest run.
type RunRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	Strategy    string `gorm:"size:64;index"`
	Config      string `gorm:"type:text"`
	Ticks       int
	LastTs      time.Time
	StartEquity float64
	EndEquity   float64
	TotalReturn float64
	MaxDrawdown float64
	Trades      int
	WinRate     float64
	TotalFees   string `gorm:"size:64"`
	Error       string `gorm:"type:text"`
}

func (RunRecord) TableName() string { return "backtest_runs" }

// DecisionRecord is one risk decision.
type DecisionRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"size:36;index"`
	Seq        int
	Ts         time.Time
	Symbol     string `gorm:"size:32"`
	Side       string `gorm:"size:8"`
	SignalType string `gorm:"size:64"`
	Confidence float64
	StopKind   string `gorm:"size:16"`
	Approved   bool
	Reason     string `gorm:"size:48;index"`
	OrderID    uint64
	Qty        float64
	Message    string `gorm:"type:text"`
}

func (DecisionRecord) TableName() string { return "backtest_decisions" }

// FillRecord is one simulated fill with its cost breakdown.
type FillRecord struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	RunID          string `gorm:"size:36;index"`
	Seq            int
	OrderID        uint64
	Ts             time.Time
	Symbol         string `gorm:"size:32"`
	Side           string `gorm:"size:8"`
	Qty            float64
	Price          float64
	Fee            float64
	Slippage       float64
	ReferencePrice float64
	SpreadCost     float64
	CloseOnly      bool
	Tag            string `gorm:"size:64"`
}

func (FillRecord) TableName() string { return "backtest_fills" }

// TradeRecord is one closed trade.
type TradeRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"size:36;index"`
	Seq        int
	Symbol     string `gorm:"size:32"`
	Side       string `gorm:"size:8"`
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	EntryTs    time.Time
	ExitTs     time.Time
	PnL        float64
	Fees       float64
	Slippage   float64
	MAE        float64
	MFE        float64
	RMultiple  float64
	RValid     bool
	Tag        string `gorm:"size:64"`
}

func (TradeRecord) TableName() string { return "backtest_trades" }

// EquityRecord is one equity row.
type EquityRecord struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	RunID         string `gorm:"size:36;index"`
	Seq           int
	Ts            time.Time
	Cash          float64
	Equity        float64
	RealizedPnL   float64
	UnrealizedPnL float64
	UsedMargin    float64
	FreeMargin    float64
	Liquidation   string `gorm:"size:64"`
}

func (EquityRecord) TableName() string { return "backtest_equity" }

func decisionRecord(runID string, seq int, d schema.Decision) DecisionRecord {
	return DecisionRecord{
		RunID:      runID,
		Seq:        seq,
		Ts:         d.Ts,
		Symbol:     d.Symbol,
		Side:       d.Side.String(),
		SignalType: d.SignalType,
		Confidence: d.Confidence,
		StopKind:   string(d.StopKind),
		Approved:   d.Approved,
		Reason:     string(d.Reason),
		OrderID:    d.OrderID,
		Qty:        d.Qty,
		Message:    d.Message,
	}
}

func fillRecord(runID string, seq int, f schema.Fill) FillRecord {
	return FillRecord{
		RunID:          runID,
		Seq:            seq,
		OrderID:        f.OrderID,
		Ts:             f.Ts,
		Symbol:         f.Symbol,
		Side:           f.Side.String(),
		Qty:            f.Qty,
		Price:          f.Price,
		Fee:            f.Fee,
		Slippage:       f.Slippage,
		ReferencePrice: f.Costs.ReferencePrice,
		SpreadCost:     f.Costs.SpreadCost,
		CloseOnly:      f.CloseOnly,
		Tag:            f.Tag,
	}
}

func tradeRecord(runID string, seq int, t schema.Trade) TradeRecord {
	return TradeRecord{
		RunID:      runID,
		Seq:        seq,
		Symbol:     t.Symbol,
		Side:       t.Side.String(),
		Qty:        t.Qty,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		EntryTs:    t.EntryTs,
		ExitTs:     t.ExitTs,
		PnL:        t.PnL,
		Fees:       t.Fees,
		Slippage:   t.Slippage,
		MAE:        t.MAE,
		MFE:        t.MFE,
		RMultiple:  t.RMultiple(),
		RValid:     t.Risk.RMetricsValid,
		Tag:        t.Tag,
	}
}

func equityRecord(runID string, seq int, r schema.EquityRow) EquityRecord {
	return EquityRecord{
		RunID:         runID,
		Seq:           seq,
		Ts:            r.Ts,
		Cash:          r.Cash,
		Equity:        r.Equity,
		RealizedPnL:   r.RealizedPnL,
		UnrealizedPnL: r.UnrealizedPnL,
		UsedMargin:    r.UsedMargin,
		FreeMargin:    r.FreeMargin,
		Liquidation:   r.Liquidation,
	}
}
