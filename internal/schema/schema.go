package schema

// SchemaVersion is the current audit record schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of a record stored in the audit log.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventDecision
	EventOrder
	EventFill
	EventEquity
	EventTrade
	EventSummary
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventDecision:
		return "Decision"
	case EventOrder:
		return "Order"
	case EventFill:
		return "Fill"
	case EventEquity:
		return "Equity"
	case EventTrade:
		return "Trade"
	case EventSummary:
		return "Summary"
	default:
		return "Unknown"
	}
}

// EventHeader is the common metadata attached to every record.
type EventHeader struct {
	Type    EventType
	Version uint16
	Seq     uint64
	TsEvent int64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, seq uint64, tsEvent int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Seq:     seq,
		TsEvent: tsEvent,
	}
}
