package strategy

import (
	"sort"

	"github.com/yanun0323/errors"

	"backtest/pkg/exception"
)

// Params are numeric strategy parameters from configuration.
type Params map[string]float64

// Float returns the value of name or def when unset.
func (p Params) Float(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Int returns the value of name truncated to int, or def when unset.
func (p Params) Int(name string, def int) int {
	if v, ok := p[name]; ok {
		return int(v)
	}
	return def
}

// Bool returns true when name is set to a non-zero value.
func (p Params) Bool(name string) bool {
	return p[name] != 0
}

// Factory builds a strategy instance from parameters.
type Factory func(params Params) (Strategy, error)

// Registry maps strategy names to factories. It is built once at start and
// passed to whoever constructs runs.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry creates a registry holding the bundled strategies.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(NameSMACross, NewSMACross)
	_ = r.Register(NameBreakout, NewBreakout)
	_ = r.Register(NameBuyAndHold, NewBuyAndHold)
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return errors.Wrap(exception.ErrInvalidArgument, "strategy registration needs a name and a factory")
	}
	if _, ok := r.factories[name]; ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "strategy %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Build creates a new instance of the named strategy.
func (r *Registry) Build(name string, params Params) (Strategy, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, errors.Wrapf(exception.ErrConfiguration, "strategy.name %q is not registered (known: %v)", name, r.Names())
	}
	s, err := factory(params)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrConfiguration, "strategy %q: %v", name, err)
	}
	return s, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
