package chatstream

import (
	"bytes"
	"encoding/json"

	"prismatic/internal/domain"
)

// Frame is the JSON payload carried by one "data: " line.
type Frame struct {
	Text  string `json:"text,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// Completion is the body of a non-streaming reply: exactly one of Response
// or Error is set.
type Completion struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

const unknownFailure = "unknown error"

// EncodeFrame renders ev in wire form, "data: <json>\n\n".
func EncodeFrame(ev domain.StreamEvent) []byte {
	var f Frame
	switch ev.Kind {
	case domain.EventText:
		f.Text = ev.Text
	case domain.EventDone:
		f.Done = true
	case domain.EventFailure:
		f.Error = ev.Reason
		if f.Error == "" {
			f.Error = unknownFailure
		}
	}

	var buf bytes.Buffer
	buf.Write(dataPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode cannot fail for Frame; it also appends the first '\n'.
	_ = enc.Encode(f)
	buf.WriteByte('\n')
	return buf.Bytes()
}
