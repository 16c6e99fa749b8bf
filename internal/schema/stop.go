package schema

// StopKind names the variant of a StopSpec.
type StopKind string

const (
	StopKindNone       StopKind = ""
	StopKindExplicit   StopKind = "explicit"
	StopKindStructural StopKind = "structural"
	StopKindATR        StopKind = "atr"
	StopKindHybrid     StopKind = "hybrid"
)

// StopSource records where an admitted intent's stop distance came from.
type StopSource string

const (
	StopSourceNone        StopSource = "none"
	StopSourceExplicit    StopSource = "explicit"
	StopSourceStructural  StopSource = "structural"
	StopSourceATR         StopSource = "atr"
	StopSourceLegacyProxy StopSource = "legacy_proxy"
)

// StopSpec is a closed set of stop specifications a signal may carry.
type StopSpec interface {
	Kind() StopKind
	stopSpec()
}

// ExplicitStop is an absolute stop price chosen by the strategy.
type ExplicitStop struct {
	Price float64
}

// StructuralStop is an absolute stop price derived from market structure.
type StructuralStop struct {
	Price float64
}

// ATRStop places the stop Multiple ATRs from entry. Indicator names the ATR
// series in the indicator snapshot; empty means "atr".
type ATRStop struct {
	Multiple  float64
	Indicator string
}

// HybridStop is reserved; resolution fails with ErrNotSupported.
type HybridStop struct{}

func (ExplicitStop) Kind() StopKind   { return StopKindExplicit }
func (StructuralStop) Kind() StopKind { return StopKindStructural }
func (ATRStop) Kind() StopKind        { return StopKindATR }
func (HybridStop) Kind() StopKind     { return StopKindHybrid }

func (ExplicitStop) stopSpec()   {}
func (StructuralStop) stopSpec() {}
func (ATRStop) stopSpec()        {}
func (HybridStop) stopSpec()     {}

// KindOf returns the kind of spec, or StopKindNone for nil.
func KindOf(spec StopSpec) StopKind {
	if spec == nil {
		return StopKindNone
	}
	return spec.Kind()
}
