package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"backtest/internal/app"
	"backtest/internal/feed"
	"backtest/internal/obs"
	"backtest/internal/ops"
	"backtest/internal/report"
	"backtest/internal/schema"
	"backtest/internal/store"
	"backtest/internal/sweep"
)

func main() {
	configPath := flag.String("config", "backtest.yaml", "Path to YAML config")
	runSweep := flag.Bool("sweep", false, "Run the sweep grid instead of a single run")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty=disable)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disable)")
	synthetic := flag.Int("synthetic", 0, "Generate this many random-walk bars per data.symbols entry instead of reading data.dir")
	seed := flag.Uint64("seed", 1, "Seed for -synthetic")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %+v", err)
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "backtest",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"strategy": loaded.Strategy.Name,
			},
			Logger: profilerLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown requested, stopping runs")
			cancel()
		case <-ctx.Done():
		}
	}()

	metrics := obs.NewMetrics(prometheus.Labels{"strategy": loaded.Strategy.Name})
	if *metricsAddr != "" {
		srv := serveMetrics(*metricsAddr, metrics)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	bars, err := loadBars(loaded, *synthetic, *seed)
	if err != nil {
		log.Fatalf("load data failed: %+v", err)
	}

	opts := app.Options{
		OutDir:   loaded.Output.Dir,
		Audit:    loaded.Output.Audit,
		JSONL:    loaded.Output.JSONL,
		Snapshot: loaded.Output.Snapshot,
		Metrics:  metrics,
	}
	if loaded.Store.Enabled {
		db, err := store.Open(store.Option{ConnString: loaded.Store.DSN})
		if err != nil {
			log.Fatalf("store open failed: %+v", err)
		}
		defer func() {
			_ = db.Close()
		}()
		opts.Store = db
	}

	if *runSweep {
		if err := runSweepGrid(ctx, loaded, bars, opts); err != nil {
			log.Fatalf("sweep failed: %+v", err)
		}
		return
	}

	out, err := app.Run(ctx, loaded, bars, nil, opts)
	printSummary(out.Summary)
	if err != nil {
		log.Fatalf("run %s failed: %+v", out.RunID, err)
	}
	if !out.Summary.Reconciliation.OK {
		log.Fatalf("run %s: cost reconciliation failed: %v", out.RunID, out.Summary.Reconciliation.Issues)
	}
}

func loadBars(loaded ops.Loaded, synthetic int, seed uint64) (map[string][]schema.Bar, error) {
	if synthetic <= 0 {
		return feed.LoadDir(loaded.Data.Dir)
	}
	logs.Infof("generating %d synthetic bars for %v (seed %d)", synthetic, loaded.Registry.Names(), seed)
	return feed.Synthetic(loaded.Registry, feed.SyntheticConfig{Bars: synthetic, Seed: seed})
}

func runSweepGrid(ctx context.Context, loaded ops.Loaded, bars map[string][]schema.Bar, opts app.Options) error {
	points := loaded.Sweep.Expand(loaded.Strategy.Params)
	logs.Infof("sweep: %d points, parallelism %d", len(points), loaded.Sweep.Parallelism)
	results, err := sweep.Run(ctx, points, loaded.Sweep.Parallelism, sweep.Runner(loaded, bars, opts))
	if err != nil {
		return err
	}
	ranked := sweep.Rank(results)
	if opts.OutDir != "" {
		if err := report.WriteJSON(filepath.Join(opts.OutDir, "sweep.json"), ranked); err != nil {
			return err
		}
	}
	for i, r := range ranked {
		fmt.Printf("%3d  return=%+.4f  dd=%.4f  trades=%d  params=%v  run=%s\n",
			i+1, r.Summary.TotalReturn, r.Summary.MaxDrawdown, r.Summary.Trades, r.Params, r.RunID)
	}
	if failed := len(results) - len(ranked); failed > 0 {
		logs.Infof("sweep: %d of %d points failed", failed, len(results))
	}
	return nil
}

func serveMetrics(addr string, metrics *obs.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("metrics server: %+v", err)
		}
	}()
	return srv
}

func printSummary(s report.Summary) {
	fmt.Printf("run:          %s\n", s.RunID)
	fmt.Printf("strategy:     %s\n", s.Strategy)
	fmt.Printf("ticks:        %d\n", s.Ticks)
	fmt.Printf("equity:       %.2f -> %.2f (%+.4f)\n", s.StartEquity, s.EndEquity, s.TotalReturn)
	fmt.Printf("max drawdown: %.4f\n", s.MaxDrawdown)
	fmt.Printf("trades:       %d (win rate %.2f, avg R %.3f over %d)\n", s.Trades, s.WinRate, s.AvgR, s.ValidRTrades)
	fmt.Printf("costs:        fees %s  slippage %s  spread %s\n", s.TotalFees, s.TotalSlippage, s.TotalSpread)
	fmt.Printf("reconciled:   %v\n", s.Reconciliation.OK)
}

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...interface{}) { logs.Infof(format, args...) }
func (profilerLogger) Debugf(_ string, _ ...interface{})         {}
func (profilerLogger) Errorf(format string, args ...interface{}) { logs.Errorf(format, args...) }
