// Package feed supplies synchronized bar-sets to the kernel.
package feed

import (
	"context"
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// Feed yields one synchronized bar-set per call in non-decreasing time order.
// ok is false once the data is exhausted.
type Feed interface {
	Next() (ts time.Time, bars map[string]schema.Bar, ok bool, err error)
}

// Merged merges per-symbol bar streams into ticks. Symbols sharing a
// timestamp land in the same tick; streams are consumed in registry order.
type Merged struct {
	streams [][]schema.Bar
	cursor  []int
}

// Merge validates streams and builds a merged feed. Every symbol is added to
// reg, in sorted order for symbols reg does not know yet.
func Merge(reg *schema.Registry, streams map[string][]schema.Bar) (*Merged, error) {
	if reg == nil {
		reg = schema.NewRegistry()
	}
	names := make([]string, 0, len(streams))
	for name := range streams {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := reg.Ensure(name); err != nil {
			return nil, errors.Wrap(exception.ErrValidation, err.Error())
		}
	}

	m := &Merged{}
	for _, name := range reg.Names() {
		bars, ok := streams[name]
		if !ok {
			continue
		}
		if err := checkStream(name, bars); err != nil {
			return nil, err
		}
		m.streams = append(m.streams, bars)
	}
	m.cursor = make([]int, len(m.streams))
	return m, nil
}

func checkStream(name string, bars []schema.Bar) error {
	for i, bar := range bars {
		if bar.Symbol != name {
			return errors.Wrapf(exception.ErrValidation, "stream %s: bar %d has symbol %q", name, i, bar.Symbol)
		}
		if err := bar.Validate(); err != nil {
			return err
		}
		if i > 0 && !bars[i-1].Ts.Before(bar.Ts) {
			return errors.Wrapf(exception.ErrValidation, "stream %s: bar %d at %s is not after %s",
				name, i, bar.Ts.Format(time.RFC3339), bars[i-1].Ts.Format(time.RFC3339))
		}
	}
	return nil
}

func (m *Merged) Next() (time.Time, map[string]schema.Bar, bool, error) {
	var (
		ts    time.Time
		found bool
	)
	for i, bars := range m.streams {
		if m.cursor[i] >= len(bars) {
			continue
		}
		if t := bars[m.cursor[i]].Ts; !found || t.Before(ts) {
			ts, found = t, true
		}
	}
	if !found {
		return time.Time{}, nil, false, nil
	}
	out := make(map[string]schema.Bar)
	for i, bars := range m.streams {
		if m.cursor[i] >= len(bars) {
			continue
		}
		if bar := bars[m.cursor[i]]; bar.Ts.Equal(ts) {
			out[bar.Symbol] = bar
			m.cursor[i]++
		}
	}
	return ts, out, true, nil
}

// Slice replays prepared ticks. It is handy in tests.
type Slice struct {
	ticks []map[string]schema.Bar
	next  int
}

// NewSlice groups bars into ticks by timestamp, in first-seen order.
func NewSlice(ticks ...[]schema.Bar) *Slice {
	s := &Slice{}
	for _, tick := range ticks {
		bars := make(map[string]schema.Bar, len(tick))
		for _, bar := range tick {
			bars[bar.Symbol] = bar
		}
		s.ticks = append(s.ticks, bars)
	}
	return s
}

func (s *Slice) Next() (time.Time, map[string]schema.Bar, bool, error) {
	if s.next >= len(s.ticks) {
		return time.Time{}, nil, false, nil
	}
	bars := s.ticks[s.next]
	s.next++
	var ts time.Time
	for _, bar := range bars {
		ts = bar.Ts
		break
	}
	out := make(map[string]schema.Bar, len(bars))
	for sym, bar := range bars {
		out[sym] = bar
	}
	return ts, out, true, nil
}

type ctxFeed struct {
	ctx  context.Context
	feed Feed
}

// WithContext stops f with ctx.Err() once ctx is done.
func WithContext(ctx context.Context, f Feed) Feed {
	return ctxFeed{ctx: ctx, feed: f}
}

func (c ctxFeed) Next() (time.Time, map[string]schema.Bar, bool, error) {
	if err := c.ctx.Err(); err != nil {
		return time.Time{}, nil, false, err
	}
	return c.feed.Next()
}
