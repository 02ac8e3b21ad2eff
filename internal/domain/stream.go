package domain

import "fmt"

// EventKind discriminates the StreamEvent variants.
type EventKind int

const (
	// EventText carries a piece of assistant output.
	EventText EventKind = iota + 1
	// EventDone signals the producer finished; nothing follows.
	EventDone
	// EventFailure signals the producer reported an error mid-stream.
	EventFailure
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventDone:
		return "done"
	case EventFailure:
		return "failure"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// StreamEvent is one decoded frame of an event stream. Exactly one of the
// variants is set, selected by Kind: Text for EventText, Reason for
// EventFailure, neither for EventDone.
type StreamEvent struct {
	Kind   EventKind
	Text   string
	Reason string
}

// TextFragment builds an EventText event.
func TextFragment(text string) StreamEvent {
	return StreamEvent{Kind: EventText, Text: text}
}

// Done builds an EventDone event.
func Done() StreamEvent {
	return StreamEvent{Kind: EventDone}
}

// Failure builds an EventFailure event.
func Failure(reason string) StreamEvent {
	return StreamEvent{Kind: EventFailure, Reason: reason}
}

// IsTerminal reports whether no further events may follow e.
func (e StreamEvent) IsTerminal() bool {
	return e.Kind == EventDone || e.Kind == EventFailure
}

func (e StreamEvent) String() string {
	switch e.Kind {
	case EventText:
		return fmt.Sprintf("text(%q)", e.Text)
	case EventFailure:
		return fmt.Sprintf("failure(%q)", e.Reason)
	default:
		return e.Kind.String()
	}
}
