// Package report turns run output into summaries and export files.
package report

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"backtest/internal/schema"
)

// reconcileTolerance bounds float drift between per-fill and per-trade cost sums.
var reconcileTolerance = decimal.New(1, -8)

// runNamespace scopes run ids derived from configuration content.
var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("backtest/run"))

// RunID derives a stable id from the config content and strategy params, so
// rerunning the same inputs yields the same id.
func RunID(config []byte, params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := append([]byte{}, config...)
	for _, k := range keys {
		data = append(data, 0)
		data = append(data, k...)
		data = append(data, '=')
		data = strconv.AppendFloat(data, params[k], 'g', -1, 64)
	}
	return uuid.NewSHA1(runNamespace, data).String()
}

// Summary is the headline result of a run. Cost totals are exact decimal sums
// of the per-fill breakdowns.
type Summary struct {
	RunID       string  `json:"runId"`
	Strategy    string  `json:"strategy"`
	Ticks       int     `json:"ticks"`
	StartEquity float64 `json:"startEquity"`
	EndEquity   float64 `json:"endEquity"`
	TotalReturn float64 `json:"totalReturn"`
	MaxDrawdown float64 `json:"maxDrawdown"`

	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"winRate"`
	AvgR         float64 `json:"avgR"`
	ValidRTrades int     `json:"validRTrades"`

	Fills            int `json:"fills"`
	LiquidationFills int `json:"liquidationFills"`

	TotalFees     decimal.Decimal `json:"totalFees"`
	TotalSlippage decimal.Decimal `json:"totalSlippage"`
	TotalSpread   decimal.Decimal `json:"totalSpread"`

	Reconciliation Reconciliation `json:"reconciliation"`
}

// Reconciliation compares cost totals seen from fills and from closed trades.
type Reconciliation struct {
	OK            bool            `json:"ok"`
	TradeFees     decimal.Decimal `json:"tradeFees"`
	TradeSlippage decimal.Decimal `json:"tradeSlippage"`
	Issues        []string        `json:"issues,omitempty"`
}

// Input is everything Summarize reads.
type Input struct {
	RunID       string
	Strategy    string
	Ticks       int
	InitialCash float64
	FinalCash   float64
	Fills       []schema.Fill
	Trades      []schema.Trade
	Equity      []schema.EquityRow
	// Flat is true when every position was closed, so trade costs must
	// account for every fill cost.
	Flat bool
}

// Summarize computes the run summary.
func Summarize(in Input) Summary {
	s := Summary{
		RunID:       in.RunID,
		Strategy:    in.Strategy,
		Ticks:       in.Ticks,
		StartEquity: in.InitialCash,
		EndEquity:   in.InitialCash,
		Trades:      len(in.Trades),
		Fills:       len(in.Fills),
	}
	if n := len(in.Equity); n > 0 {
		s.EndEquity = in.Equity[n-1].Equity
	}
	if in.InitialCash > 0 {
		s.TotalReturn = s.EndEquity/in.InitialCash - 1
	}
	s.MaxDrawdown = MaxDrawdown(in.InitialCash, in.Equity)

	var sumR float64
	for _, t := range in.Trades {
		if t.PnL-t.Fees > 0 {
			s.Wins++
		}
		if r := t.RMultiple(); t.Risk.RMetricsValid && t.Risk.RiskAmount > 0 {
			sumR += r
			s.ValidRTrades++
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	if s.ValidRTrades > 0 {
		s.AvgR = sumR / float64(s.ValidRTrades)
	}

	var breakdownFees, breakdownSlip decimal.Decimal
	for _, f := range in.Fills {
		s.TotalFees = s.TotalFees.Add(decimal.NewFromFloat(f.Fee))
		s.TotalSlippage = s.TotalSlippage.Add(decimal.NewFromFloat(f.Slippage))
		s.TotalSpread = s.TotalSpread.Add(decimal.NewFromFloat(f.Costs.SpreadCost))
		breakdownFees = breakdownFees.Add(decimal.NewFromFloat(f.Costs.Fee))
		breakdownSlip = breakdownSlip.Add(decimal.NewFromFloat(f.Costs.SlippageCost))
		if strings.HasPrefix(f.Tag, "liquidation") {
			s.LiquidationFills++
		}
	}
	s.Reconciliation = reconcile(in, s, breakdownFees, breakdownSlip)
	return s
}

func reconcile(in Input, s Summary, breakdownFees, breakdownSlip decimal.Decimal) Reconciliation {
	rec := Reconciliation{OK: true}
	for _, t := range in.Trades {
		rec.TradeFees = rec.TradeFees.Add(decimal.NewFromFloat(t.Fees))
		rec.TradeSlippage = rec.TradeSlippage.Add(decimal.NewFromFloat(t.Slippage))
	}
	fail := func(format string, args ...any) {
		rec.OK = false
		rec.Issues = append(rec.Issues, fmt.Sprintf(format, args...))
	}

	if !s.TotalFees.Equal(breakdownFees) {
		fail("fill fees %s != cost breakdown fees %s", s.TotalFees, breakdownFees)
	}
	if !s.TotalSlippage.Equal(breakdownSlip) {
		fail("fill slippage %s != cost breakdown slippage %s", s.TotalSlippage, breakdownSlip)
	}
	cash := decimal.NewFromFloat(in.InitialCash).Sub(s.TotalFees)
	if cash.Sub(decimal.NewFromFloat(in.FinalCash)).Abs().GreaterThan(reconcileTolerance) {
		fail("initial cash less fees %s != final cash %v", cash, in.FinalCash)
	}
	if in.Flat {
		if rec.TradeFees.Sub(s.TotalFees).Abs().GreaterThan(reconcileTolerance) {
			fail("trade fees %s != fill fees %s", rec.TradeFees, s.TotalFees)
		}
		if rec.TradeSlippage.Sub(s.TotalSlippage).Abs().GreaterThan(reconcileTolerance) {
			fail("trade slippage %s != fill slippage %s", rec.TradeSlippage, s.TotalSlippage)
		}
	}
	return rec
}

// MaxDrawdown returns the largest peak-to-trough equity decline as a fraction
// of the peak, starting from initial.
func MaxDrawdown(initial float64, rows []schema.EquityRow) float64 {
	peak := initial
	var worst float64
	for _, row := range rows {
		if row.Equity > peak {
			peak = row.Equity
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-row.Equity)/peak)
		}
	}
	return worst
}
