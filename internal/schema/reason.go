package schema

// Reason is a stable admission code attached to every risk decision.
type Reason string

const (
	ReasonApproved          Reason = "approved"
	ReasonApprovedCloseOnly Reason = "approved_close_only"
	ReasonApprovedFlip      Reason = "approved_flip"

	ReasonNoSide             Reason = "rejected_no_side"
	ReasonSymbolMismatch     Reason = "rejected_symbol_mismatch"
	ReasonMaxPositions       Reason = "rejected_max_positions"
	ReasonNonPositiveEquity  Reason = "rejected_non_positive_equity"
	ReasonNonPositiveRisk    Reason = "rejected_non_positive_risk"
	ReasonPyramiding         Reason = "rejected_pyramiding"
	ReasonStopUnresolved     Reason = "rejected_stop_unresolved"
	ReasonStopWrongSide      Reason = "rejected_stop_wrong_side"
	ReasonATRNotReady        Reason = "rejected_atr_not_ready"
	ReasonZeroQuantity       Reason = "rejected_zero_quantity"
	ReasonInvalidBar         Reason = "rejected_invalid_bar"
	ReasonNothingToClose     Reason = "rejected_nothing_to_close"
	ReasonInsufficientMargin Reason = "insufficient_free_margin"
	ReasonStopNotSupported   Reason = "rejected_stop_not_supported"
	ReasonStrictStopMissing  Reason = "rejected_strict_stop_missing"
)

// Approved reports whether the reason admits the signal.
func (r Reason) Approved() bool {
	switch r {
	case ReasonApproved, ReasonApprovedCloseOnly, ReasonApprovedFlip:
		return true
	default:
		return false
	}
}

// Reasons lists every code in a stable order.
func Reasons() []Reason {
	return []Reason{
		ReasonApproved,
		ReasonApprovedCloseOnly,
		ReasonApprovedFlip,
		ReasonNoSide,
		ReasonSymbolMismatch,
		ReasonMaxPositions,
		ReasonNonPositiveEquity,
		ReasonNonPositiveRisk,
		ReasonPyramiding,
		ReasonStopUnresolved,
		ReasonStopWrongSide,
		ReasonATRNotReady,
		ReasonZeroQuantity,
		ReasonInvalidBar,
		ReasonNothingToClose,
		ReasonInsufficientMargin,
		ReasonStopNotSupported,
		ReasonStrictStopMissing,
	}
}
