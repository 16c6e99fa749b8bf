package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"backtest/internal/recorder"
	"backtest/internal/state"
)

func main() {
	dir := flag.String("dir", "out/audit", "Audit log directory")
	prefix := flag.String("prefix", "", "Audit file prefix (default: audit)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	decode := flag.Bool("decode", false, "Decode known payload types")
	verify := flag.String("verify", "", "Rebuild the portfolio from fills and compare it with this snapshot")
	initialCash := flag.Float64("initial-cash", 100000, "Initial cash used when rebuilding the portfolio")
	maxLeverage := flag.Float64("max-leverage", 1, "Max leverage used when rebuilding the portfolio")
	flag.Parse()

	ctx := context.Background()
	if *verify != "" {
		if err := runVerify(ctx, *dir, *prefix, *noChecksum, *maxPayload, *verify, *initialCash, *maxLeverage); err != nil {
			log.Fatalf("verify failed: %v", err)
		}
		return
	}

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	var index int
	err = pb.Run(ctx, func(ev recorder.Event) error {
		index++
		fmt.Printf("%06d seq=%d type=%s ts_event=%d len=%d\n", index, ev.Header.Seq, ev.Header.Type, ev.Header.TsEvent, ev.Size)
		if *decode {
			printEvent(ev)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}
}

func runVerify(ctx context.Context, dir, prefix string, noChecksum bool, maxPayload int, snapshotPath string, initialCash, maxLeverage float64) error {
	expected, err := state.ReadSnapshot(snapshotPath)
	if err != nil {
		return err
	}
	res, err := state.Replay(ctx, state.ReplayConfig{
		AuditDir:        dir,
		FilePrefix:      prefix,
		DisableChecksum: noChecksum,
		MaxPayloadSize:  maxPayload,
		Portfolio: state.PortfolioConfig{
			InitialCash: initialCash,
			MaxLeverage: maxLeverage,
		},
	})
	if err != nil {
		return err
	}
	actual := res.Snapshot()
	if err := state.CompareSnapshots(expected, actual, 0); err != nil {
		return err
	}
	fmt.Printf("verified %d fills up to seq %d: cash=%.8f realized=%.8f positions=%d\n",
		res.Fills, res.AuditSeq, actual.Cash, actual.RealizedPnL, len(actual.Positions))
	return nil
}

func printEvent(ev recorder.Event) {
	switch {
	case ev.Decision != nil:
		d := ev.Decision
		fmt.Printf("  decision %s %s type=%s approved=%v reason=%s order=%d qty=%v\n",
			d.Symbol, d.Side, d.SignalType, d.Approved, d.Reason, d.OrderID, d.Qty)
	case ev.Order != nil:
		o := ev.Order
		fmt.Printf("  order id=%d %s %s qty=%v state=%s delay=%d tag=%s\n",
			o.ID, o.Symbol, o.Side, o.Qty, o.State, o.DelayRemaining, o.Tag)
	case ev.Fill != nil:
		f := ev.Fill
		fmt.Printf("  fill order=%d %s %s qty=%v price=%v fee=%v slippage=%v spread=%v\n",
			f.OrderID, f.Symbol, f.Side, f.Qty, f.Price, f.Fee, f.Slippage, f.Costs.SpreadCost)
	case ev.Equity != nil:
		row := ev.Equity
		fmt.Printf("  equity=%v cash=%v realized=%v unrealized=%v free=%v %s\n",
			row.Equity, row.Cash, row.RealizedPnL, row.UnrealizedPnL, row.FreeMargin, row.Liquidation)
	case ev.Trade != nil:
		tr := ev.Trade
		fmt.Printf("  trade %s %s qty=%v entry=%v exit=%v pnl=%v fees=%v r=%v\n",
			tr.Symbol, tr.Side, tr.Qty, tr.EntryPrice, tr.ExitPrice, tr.PnL, tr.Fees, tr.RMultiple())
	case ev.Summary != nil:
		fmt.Printf("  summary %s\n", ev.Summary)
	}
}
