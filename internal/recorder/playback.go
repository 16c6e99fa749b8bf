package recorder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yanun0323/errors"

	"backtest/pkg/exception"
)

// PlaybackConfig controls audit playback.
type PlaybackConfig struct {
	Dir             string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return errors.Wrap(exception.ErrConfiguration, "playback: Dir is empty")
	}
	if c.MaxPayloadSize < 0 {
		return errors.Wrap(exception.ErrConfiguration, "playback: MaxPayloadSize must be >= 0")
	}
	return nil
}

// Playback replays the decoded events of a run's audit log in segment order.
type Playback struct {
	cfg PlaybackConfig
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg}, nil
}

// Run calls handler for every event. Sequence numbers must strictly increase
// across the whole log; a gap in numbering is allowed, a repeat is not.
func (p *Playback) Run(ctx context.Context, handler func(Event) error) error {
	if handler == nil {
		return errors.Wrap(exception.ErrNilInstance, "playback handler")
	}
	files, err := p.Files()
	if err != nil {
		return err
	}
	var lastSeq uint64
	for _, path := range files {
		if err := p.playFile(ctx, path, &lastSeq, handler); err != nil {
			return err
		}
	}
	return nil
}

// Files returns the segment paths in playback order.
func (p *Playback) Files() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, err
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Playback) playFile(ctx context.Context, path string, lastSeq *uint64, handler func(Event) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", filepath.Base(path))
		}
		if ev.Header.Seq <= *lastSeq {
			return errors.Wrapf(ErrSequenceOutOfOrder, "%s: seq %d after %d", filepath.Base(path), ev.Header.Seq, *lastSeq)
		}
		*lastSeq = ev.Header.Seq
		if err := handler(ev); err != nil {
			return err
		}
	}
}
