package recorder

import (
	"github.com/yanun0323/errors"

	"backtest/pkg/exception"
)

const (
	defaultSegmentMaxBytes int64 = 1 << 30
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "audit"
)

// Config controls audit writer behavior.
type Config struct {
	Dir             string
	SegmentMaxBytes int64
	BufferSize      int
	FilePrefix      string
}

// DefaultConfig returns a baseline configuration for the audit writer.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		SegmentMaxBytes: defaultSegmentMaxBytes,
		BufferSize:      defaultBufferSize,
		FilePrefix:      defaultFilePrefix,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.Wrap(exception.ErrConfiguration, "recorder: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return errors.Wrap(exception.ErrConfiguration, "recorder: SegmentMaxBytes must be > 0")
	}
	if c.BufferSize <= 0 {
		return errors.Wrap(exception.ErrConfiguration, "recorder: BufferSize must be > 0")
	}
	if c.FilePrefix == "" {
		return errors.Wrap(exception.ErrConfiguration, "recorder: FilePrefix is empty")
	}
	return nil
}
