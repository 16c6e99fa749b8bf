// Package app wires configuration, data and the kernel into complete runs.
package app

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"backtest/internal/core"
	"backtest/internal/cost"
	"backtest/internal/execution"
	"backtest/internal/feed"
	"backtest/internal/obs"
	"backtest/internal/ops"
	"backtest/internal/recorder"
	"backtest/internal/report"
	"backtest/internal/risk"
	"backtest/internal/schema"
	"backtest/internal/state"
	"backtest/internal/store"
	"backtest/internal/strategy"
)

// Artifact file names written to the run directory.
const (
	FileSummary  = "summary.json"
	FileSnapshot = "snapshot.json"
	DirAudit     = "audit"
)

// Options selects the outputs of one run.
type Options struct {
	// OutDir receives the run artifacts. Nothing is written when empty.
	OutDir   string
	Audit    bool
	JSONL    bool
	Snapshot bool
	// Store persists the run when set.
	Store   *store.Store
	Metrics *obs.Metrics
	// Registry builds strategies; nil means the built-in registry.
	Registry *strategy.Registry
}

// Outcome is what one run produced.
type Outcome struct {
	RunID   string
	Params  map[string]float64
	Result  core.Result
	Summary report.Summary
}

// Run executes one backtest of loaded over bars with params replacing the
// configured strategy params. The outcome is filled in even when the run
// fails part way.
func Run(ctx context.Context, loaded ops.Loaded, bars map[string][]schema.Bar, params map[string]float64, opts Options) (Outcome, error) {
	if params == nil {
		params = loaded.Strategy.Params
	}
	out := Outcome{
		RunID:  report.RunID(loaded.Raw, params),
		Params: params,
	}

	deps, err := buildDeps(loaded, params, opts)
	if err != nil {
		return out, err
	}
	reg, err := loaded.NewRegistry()
	if err != nil {
		return out, err
	}
	merged, err := feed.Merge(reg, bars)
	if err != nil {
		return out, err
	}

	sinks, closers, audit, err := openSinks(loaded, out.RunID, opts)
	if err != nil {
		return out, err
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logs.Errorf("run %s: close sink: %+v", out.RunID, err)
			}
		}
	}()
	var runSink *store.RunSink
	if opts.Store != nil {
		runSink = opts.Store.NewRunSink(out.RunID)
		sinks = append(sinks, runSink)
	}
	if opts.Metrics != nil {
		sinks = append(sinks, opts.Metrics)
	}
	deps.Sinks = sinks
	deps.Metrics = opts.Metrics

	kernel, err := core.New(loaded.Engine, deps)
	if err != nil {
		return out, err
	}
	started := time.Now()
	result, runErr := kernel.Run(feed.WithContext(ctx, merged))
	out.Result = result

	portfolio := kernel.Portfolio()
	out.Summary = report.Summarize(report.Input{
		RunID:       out.RunID,
		Strategy:    loaded.Strategy.Name,
		Ticks:       result.Ticks,
		InitialCash: portfolio.InitialCash(),
		FinalCash:   portfolio.Cash(),
		Fills:       result.Fills,
		Trades:      result.Trades,
		Equity:      result.Equity,
		Flat:        runErr == nil,
	})
	logs.Infof("run %s: %d ticks, %d fills, %d trades, equity %.8f in %s",
		out.RunID, result.Ticks, len(result.Fills), len(result.Trades), out.Summary.EndEquity, time.Since(started))

	if err := finish(out, audit, runSink, loaded, opts, runErr); err != nil {
		if runErr == nil {
			runErr = err
		}
		logs.Errorf("run %s: write artifacts: %+v", out.RunID, err)
	}
	return out, runErr
}

func buildDeps(loaded ops.Loaded, params map[string]float64, opts Options) (core.Deps, error) {
	registry := opts.Registry
	if registry == nil {
		registry = strategy.NewDefaultRegistry()
	}
	strat, err := registry.Build(loaded.Strategy.Name, strategy.Params(params))
	if err != nil {
		return core.Deps{}, err
	}
	riskEngine, err := risk.NewEngine(loaded.Risk)
	if err != nil {
		return core.Deps{}, err
	}
	fee, err := cost.NewFeeModel(loaded.Cost)
	if err != nil {
		return core.Deps{}, err
	}
	slip, err := cost.NewSlippageModel(loaded.Cost)
	if err != nil {
		return core.Deps{}, err
	}
	model, err := execution.NewModel(loaded.Execution, fee, slip)
	if err != nil {
		return core.Deps{}, err
	}
	return core.Deps{
		Strategy:  strat,
		Risk:      riskEngine,
		Execution: model,
	}, nil
}

func openSinks(loaded ops.Loaded, runID string, opts Options) ([]core.Sink, []func() error, *recorder.AuditSink, error) {
	var (
		sinks   []core.Sink
		closers []func() error
		audit   *recorder.AuditSink
	)
	if opts.OutDir == "" {
		return nil, nil, nil, nil
	}
	if opts.Audit {
		cfg := loaded.Audit
		cfg.Dir = filepath.Join(opts.OutDir, DirAudit)
		w, err := recorder.NewWriter(cfg)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "run %s: open audit log", runID)
		}
		audit = recorder.NewAuditSink(w)
		sinks = append(sinks, audit)
		closers = append(closers, audit.Close)
	}
	if opts.JSONL {
		w, err := report.NewJSONLWriter(opts.OutDir)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, nil, errors.Wrapf(err, "run %s: open jsonl files", runID)
		}
		sinks = append(sinks, w)
		closers = append(closers, w.Close)
	}
	return sinks, closers, audit, nil
}

// finish writes the summary artifacts and persists the run.
func finish(out Outcome, audit *recorder.AuditSink, runSink *store.RunSink, loaded ops.Loaded, opts Options, runErr error) error {
	final := out.Result.Final
	if audit != nil {
		if err := audit.OnSummary(out.Result.LastTs.UnixNano(), out.Summary); err != nil {
			return err
		}
		final.AuditSeq = audit.Seq()
	}
	if opts.OutDir != "" {
		if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
			return err
		}
		if err := report.WriteJSON(filepath.Join(opts.OutDir, FileSummary), out.Summary); err != nil {
			return err
		}
		if opts.Snapshot {
			if err := state.WriteSnapshot(filepath.Join(opts.OutDir, FileSnapshot), final); err != nil {
				return err
			}
		}
	}
	if runSink != nil {
		record := store.RunRecord{
			Strategy:    loaded.Strategy.Name,
			Config:      string(loaded.Raw),
			Ticks:       out.Result.Ticks,
			LastTs:      out.Result.LastTs,
			StartEquity: out.Summary.StartEquity,
			EndEquity:   out.Summary.EndEquity,
			TotalReturn: out.Summary.TotalReturn,
			MaxDrawdown: out.Summary.MaxDrawdown,
			Trades:      out.Summary.Trades,
			WinRate:     out.Summary.WinRate,
			TotalFees:   out.Summary.TotalFees.String(),
		}
		if runErr != nil {
			record.Error = runErr.Error()
		}
		if err := runSink.Commit(record); err != nil {
			return errors.Wrapf(err, "run %s: commit to store", out.RunID)
		}
	}
	return nil
}
