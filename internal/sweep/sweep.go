// Package sweep runs a strategy over a parameter grid with bounded parallelism.
package sweep

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"backtest/internal/app"
	"backtest/internal/ops"
	"backtest/internal/report"
	"backtest/internal/schema"
)

// ErrPanicRecovered marks a run that panicked.
var ErrPanicRecovered = errors.New("sweep run panic recovered")

// RunFunc executes one grid point.
type RunFunc func(ctx context.Context, index int, params ops.GridPoint) (app.Outcome, error)

// Result is the outcome of one grid point. Err holds the failure of that run
// alone; other runs are unaffected.
type Result struct {
	Index   int
	Params  ops.GridPoint
	RunID   string
	Summary report.Summary
	Err     error
}

// Run executes fn for every point with at most parallelism runs in flight.
// Results keep the point order. Only context cancellation fails the sweep
// as a whole.
func Run(ctx context.Context, points []ops.GridPoint, parallelism int, fn RunFunc) ([]Result, error) {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	results := make([]Result, len(points))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, point := range points {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := safeRun(gctx, i, point, fn)
			results[i] = Result{
				Index:   i,
				Params:  point,
				RunID:   out.RunID,
				Summary: out.Summary,
				Err:     err,
			}
			if err != nil {
				logs.Errorf("sweep point %d %v failed: %+v", i, point, err)
			}
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func safeRun(ctx context.Context, i int, point ops.GridPoint, fn RunFunc) (out app.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Wrapf(ErrPanicRecovered, "point %d: %v\n%s", i, rec, debug.Stack())
		}
	}()
	return fn(ctx, i, point)
}

// Runner returns a RunFunc that runs loaded over bars, writing each point's
// artifacts to its own directory under opts.OutDir.
func Runner(loaded ops.Loaded, bars map[string][]schema.Bar, opts app.Options) RunFunc {
	base := opts.OutDir
	return func(ctx context.Context, index int, params ops.GridPoint) (app.Outcome, error) {
		runOpts := opts
		if base != "" {
			runOpts.OutDir = filepath.Join(base, fmt.Sprintf("run-%04d", index))
		}
		return app.Run(ctx, loaded, bars, params, runOpts)
	}
}

// Rank returns the successful results ordered by total return, best first.
// Ties keep grid order.
func Rank(results []Result) []Result {
	var ok []Result
	for _, r := range results {
		if r.Err == nil && r.RunID != "" {
			ok = append(ok, r)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool {
		return ok[i].Summary.TotalReturn > ok[j].Summary.TotalReturn
	})
	return ok
}
