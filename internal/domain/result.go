package domain

// StreamState is the lifecycle position of one outbound chat request.
type StreamState string

const (
	StateIdle       StreamState = "idle"
	StateConnecting StreamState = "connecting"
	StateStreaming  StreamState = "streaming"

	// Terminal states.
	StateFailed             StreamState = "failed"
	StateCompleted          StreamState = "completed"
	StateFailedMidStream    StreamState = "failed_mid_stream"
	StateEndedWithoutSignal StreamState = "ended_without_signal"
)

// RequestResult is the terminal outcome of a chat request.
// OK implies no Failure event was delivered and the transport finished
// cleanly; otherwise ErrorMessage describes the failure and Err wraps one of
// the sentinels in errors.go.
type RequestResult struct {
	OK           bool
	ErrorMessage string
	Err          error
	State        StreamState
	Fragments    int
}

// Succeeded builds an OK result.
func Succeeded(state StreamState, fragments int) RequestResult {
	return RequestResult{OK: true, State: state, Fragments: fragments}
}

// Failed builds a failed result. The message shown to callers is msg when
// non-empty, otherwise err's text.
func Failed(state StreamState, fragments int, msg string, err error) RequestResult {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return RequestResult{
		ErrorMessage: msg,
		Err:          err,
		State:        state,
		Fragments:    fragments,
	}
}
