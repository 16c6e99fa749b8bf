package schema

import "fmt"

// SymbolID is the numeric identifier for a symbol.
type SymbolID uint32

// Symbol describes a tradable instrument.
type Symbol struct {
	ID   SymbolID
	Name string
}

// Registry stores symbol mappings in a compact form. Symbol IDs follow
// registration order, which is the tie-break order for bars sharing a timestamp.
type Registry struct {
	symbols      []Symbol
	symbolByName map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		symbolByName: make(map[string]SymbolID),
	}
}

// AddSymbol registers a new symbol and returns its ID.
func (r *Registry) AddSymbol(name string) (SymbolID, error) {
	if name == "" {
		return 0, fmt.Errorf("symbol name is empty")
	}
	if id, ok := r.symbolByName[name]; ok {
		return id, fmt.Errorf("symbol already exists: %s", name)
	}
	id := SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, Symbol{ID: id, Name: name})
	r.symbolByName[name] = id
	return id, nil
}

// Ensure returns the ID for name, registering it if needed.
func (r *Registry) Ensure(name string) (SymbolID, error) {
	if id, ok := r.symbolByName[name]; ok {
		return id, nil
	}
	return r.AddSymbol(name)
}

// Symbol returns the symbol by ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	if id == 0 || int(id) > len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// SymbolCount returns the number of symbols in the registry.
func (r *Registry) SymbolCount() int {
	return len(r.symbols)
}

// SymbolAt returns the symbol by zero-based index.
func (r *Registry) SymbolAt(index int) (Symbol, bool) {
	if index < 0 || index >= len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[index], true
}

// SymbolIDByName returns the symbol ID for a name.
func (r *Registry) SymbolIDByName(name string) (SymbolID, bool) {
	id, ok := r.symbolByName[name]
	return id, ok
}

// Names returns symbol names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.symbols))
	for i, sym := range r.symbols {
		out[i] = sym.Name
	}
	return out
}
