package state

import (
	"context"

	"github.com/yanun0323/errors"

	"backtest/internal/recorder"
	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// ReplayConfig controls portfolio reconstruction from an audit log.
type ReplayConfig struct {
	AuditDir        string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
	Portfolio       PortfolioConfig
}

// ReplayResult contains the rebuilt portfolio and log metadata.
type ReplayResult struct {
	Portfolio   *Portfolio
	Fills       int
	AuditSeq    uint64
	LastEventTs int64
}

// Snapshot returns the rebuilt portfolio stamped with the last event time and
// audit sequence.
func (r ReplayResult) Snapshot() Snapshot {
	snap := r.Portfolio.Snapshot(r.LastEventTs)
	snap.AuditSeq = r.AuditSeq
	return snap
}

// Replay rebuilds a portfolio by applying every recorded fill in log order.
func Replay(ctx context.Context, cfg ReplayConfig) (ReplayResult, error) {
	if cfg.AuditDir == "" {
		return ReplayResult{}, errors.Wrap(exception.ErrInvalidArgument, "replay: audit dir is empty")
	}
	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             cfg.AuditDir,
		FilePrefix:      cfg.FilePrefix,
		DisableChecksum: cfg.DisableChecksum,
		MaxPayloadSize:  cfg.MaxPayloadSize,
	})
	if err != nil {
		return ReplayResult{}, err
	}

	res := ReplayResult{Portfolio: NewPortfolio(cfg.Portfolio)}
	err = pb.Run(ctx, func(ev recorder.Event) error {
		res.AuditSeq = ev.Header.Seq
		res.LastEventTs = max(res.LastEventTs, ev.Header.TsEvent)
		if ev.Fill == nil {
			return nil
		}
		if _, err := res.Portfolio.ApplyFills([]schema.Fill{*ev.Fill}); err != nil {
			return errors.Wrapf(err, "replay fill at seq %d", ev.Header.Seq)
		}
		res.Fills++
		return nil
	})
	if err != nil {
		return ReplayResult{}, err
	}
	return res, nil
}
