package provider

// Result describes how an event was processed.
type Result int

const (
	ResultUndefined Result = iota
	// Accepted is returned when the processing of the event was started
	// asynchronously.
	Accepted
	// Handled is returned when the event was processed completely.
	Handled
	// Ignored is returned for supported events that do not require an
	// action.
	Ignored
	// Unsupported is returned for event types that are not processed.
	Unsupported
	// Unavailable is returned when the event can not be processed
	// because the service is terminating.
	Unavailable
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Handled:
		return "handled"
	case Ignored:
		return "ignored"
	case Unsupported:
		return "unsupported"
	case Unavailable:
		return "unavailable"
	default:
		return "undefined"
	}
}
