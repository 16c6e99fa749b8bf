package ops

import (
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"backtest/internal/core"
	"backtest/internal/cost"
	"backtest/internal/execution"
	"backtest/internal/recorder"
	"backtest/internal/risk"
	"backtest/internal/schema"
	"backtest/pkg/exception"
)

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Engine    core.Config      `yaml:"engine"`
	Risk      risk.Config      `yaml:"risk"`
	Execution execution.Config `yaml:"execution"`
	Cost      cost.Config      `yaml:"cost"`
	Strategy  StrategyConfig   `yaml:"strategy"`
	Data      DataConfig       `yaml:"data"`
	Output    OutputConfig     `yaml:"output"`
	Store     StoreConfig      `yaml:"store"`
	Sweep     SweepConfig      `yaml:"sweep"`
}

// StrategyConfig selects a registered strategy.
type StrategyConfig struct {
	Name   string             `yaml:"name" validate:"required"`
	Params map[string]float64 `yaml:"params"`
}

// DataConfig locates the bar files. Symbols fixes the registry order; symbols
// found on disk but not listed are appended in sorted order.
type DataConfig struct {
	Dir     string   `yaml:"dir" validate:"required"`
	Symbols []string `yaml:"symbols" validate:"dive,required"`
}

// OutputConfig controls run artifacts.
type OutputConfig struct {
	Dir                  string `yaml:"dir" validate:"required"`
	Audit                bool   `yaml:"audit"`
	AuditSegmentMaxBytes int64  `yaml:"audit_segment_max_bytes" validate:"gte=0"`
	JSONL                bool   `yaml:"jsonl"`
	Snapshot             bool   `yaml:"snapshot"`
}

// StoreConfig enables result persistence to Postgres.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn" validate:"required_if=Enabled true"`
}

// SweepConfig describes a parameter grid over strategy params.
type SweepConfig struct {
	Parallelism int                  `yaml:"parallelism" validate:"gte=0"`
	Grid        map[string][]float64 `yaml:"grid" validate:"dive,min=1"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry  *schema.Registry
	Engine    core.Config
	Risk      risk.Config
	Execution execution.Config
	Cost      cost.Config
	Strategy  StrategyConfig
	Data      DataConfig
	Output    OutputConfig
	Audit     recorder.Config
	Store     StoreConfig
	Sweep     SweepConfig
	// Raw is the config file content, used to derive the run id.
	Raw []byte
}

// Default returns the configuration used for keys a file leaves out.
func Default() FileConfig {
	return FileConfig{
		Engine:    core.DefaultConfig(),
		Risk:      risk.DefaultConfig(),
		Execution: execution.DefaultConfig(),
		Cost:      cost.Config{SlippageModel: cost.SlippageNone},
		Output:    OutputConfig{Dir: "out", Audit: true, JSONL: true},
	}
}

// Load reads a YAML config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrConfiguration, "read %s: %v", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, validates it and resolves it.
// Unknown keys are rejected.
func Parse(data []byte) (Loaded, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Loaded{}, errors.Wrapf(exception.ErrConfiguration, "decode: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg, data)
}

var validate = validator.New()

// Validate applies field rules and the cross-field checks of each section.
func (c FileConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrapf(exception.ErrConfiguration, "%v", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Execution.Validate(); err != nil {
		return err
	}
	if _, err := cost.NewFeeModel(c.Cost); err != nil {
		return err
	}
	if _, err := cost.NewSlippageModel(c.Cost); err != nil {
		return err
	}
	return nil
}

func resolve(cfg FileConfig, raw []byte) (Loaded, error) {
	registry, err := buildRegistry(cfg.Data.Symbols)
	if err != nil {
		return Loaded{}, err
	}
	audit := recorder.DefaultConfig(cfg.Output.Dir + "/audit")
	if cfg.Output.AuditSegmentMaxBytes > 0 {
		audit.SegmentMaxBytes = cfg.Output.AuditSegmentMaxBytes
	}
	return Loaded{
		Registry:  registry,
		Engine:    cfg.Engine,
		Risk:      cfg.Risk,
		Execution: cfg.Execution,
		Cost:      cfg.Cost,
		Strategy:  cfg.Strategy,
		Data:      cfg.Data,
		Output:    cfg.Output,
		Audit:     audit,
		Store:     cfg.Store,
		Sweep:     cfg.Sweep,
		Raw:       raw,
	}, nil
}

// NewRegistry builds a fresh symbol registry from data.symbols. Each run
// needs its own since the feed adds unlisted symbols to it.
func (l Loaded) NewRegistry() (*schema.Registry, error) {
	return buildRegistry(l.Data.Symbols)
}

func buildRegistry(symbols []string) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, sym := range symbols {
		if _, err := reg.AddSymbol(sym); err != nil {
			return nil, errors.Wrapf(exception.ErrConfiguration, "data.symbols: %v", err)
		}
	}
	return reg, nil
}

// GridPoint is one parameter combination of a sweep.
type GridPoint map[string]float64

// Expand returns every combination of the grid laid over base, in a stable
// order: keys sorted, the last key varying fastest. An empty grid yields base.
func (s SweepConfig) Expand(base map[string]float64) []GridPoint {
	keys := make([]string, 0, len(s.Grid))
	for k := range s.Grid {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	points := []GridPoint{clonePoint(base)}
	for _, key := range keys {
		var next []GridPoint
		for _, p := range points {
			for _, v := range s.Grid[key] {
				q := clonePoint(p)
				q[key] = v
				next = append(next, q)
			}
		}
		points = next
	}
	return points
}

func clonePoint(src map[string]float64) GridPoint {
	out := make(GridPoint, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
