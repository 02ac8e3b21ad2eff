package chatstream

import (
	"bytes"
	"encoding/json"
	"strconv"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"prismatic/internal/domain"
)

var dataPrefix = []byte("data: ")

// FrameDecoder turns raw event-stream bytes into StreamEvents. Bytes may be
// split anywhere, including inside a multi-byte UTF-8 sequence or a line: the
// decoder holds undecoded bytes and the unterminated tail of the last line
// until the next Feed. A FrameDecoder serves a single stream and is not safe
// for concurrent use.
type FrameDecoder struct {
	utf8    transform.Transformer
	pending []byte // bytes of an incomplete code point
	line    []byte // decoded text after the last '\n'
	scratch []byte

	terminated bool
	flushed    bool
}

// NewFrameDecoder returns a decoder positioned at the start of a stream.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{
		// UTF8BOM drops a leading byte order mark and, like UTF8, replaces
		// invalid sequences with U+FFFD.
		utf8:    unicode.UTF8BOM.NewDecoder(),
		scratch: make([]byte, 4096),
	}
}

// Feed decodes p and returns the events completed by it, in wire order.
// After a terminal event Feed returns nil and ignores its input.
func (d *FrameDecoder) Feed(p []byte) []domain.StreamEvent {
	if d.terminated || d.flushed {
		return nil
	}
	d.line = append(d.line, d.decode(p, false)...)
	return d.drainLines()
}

// Flush ends the stream: residual bytes are decoded (a truncated code point
// becomes U+FFFD) and an unterminated last line is parsed as a frame.
// Subsequent calls to Feed and Flush return nil.
func (d *FrameDecoder) Flush() []domain.StreamEvent {
	if d.terminated || d.flushed {
		return nil
	}
	d.line = append(d.line, d.decode(nil, true)...)
	events := d.drainLines()
	if !d.terminated && len(d.line) > 0 {
		if ev, ok := parseLine(d.line); ok {
			events = append(events, ev)
			d.terminated = ev.IsTerminal()
		}
	}
	d.line = nil
	d.flushed = true
	return events
}

// Terminated reports whether a Done or Failure event has been emitted.
func (d *FrameDecoder) Terminated() bool {
	return d.terminated
}

// decode runs p (after any pending bytes) through the UTF-8 transformer and
// keeps an incomplete trailing sequence for the next call.
func (d *FrameDecoder) decode(p []byte, atEOF bool) []byte {
	src := p
	if len(d.pending) > 0 {
		src = append(d.pending, p...)
		d.pending = nil
	}

	var out []byte
	for {
		nDst, nSrc, err := d.utf8.Transform(d.scratch, src, atEOF)
		out = append(out, d.scratch[:nDst]...)
		src = src[nSrc:]

		switch err {
		case transform.ErrShortDst:
			continue
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src...)
		}
		return out
	}
}

// drainLines parses every complete line in the carry-over buffer and keeps
// the unterminated remainder. Parsing stops at the first terminal event.
func (d *FrameDecoder) drainLines() []domain.StreamEvent {
	var events []domain.StreamEvent
	rest := d.line
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		line := rest[:i]
		rest = rest[i+1:]

		ev, ok := parseLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.IsTerminal() {
			d.terminated = true
			d.line = nil
			d.pending = nil
			return events
		}
	}
	// Compact so the carry-over never grows past one partial line.
	d.line = append(d.line[:0], rest...)
	return events
}

// parseLine maps one line to an event. Lines without the "data: " prefix and
// payloads of no recognised shape yield ok == false.
func parseLine(line []byte) (domain.StreamEvent, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		return domain.StreamEvent{}, false
	}
	return parsePayload(line[len(dataPrefix):])
}

func parsePayload(payload []byte) (domain.StreamEvent, bool) {
	if !json.Valid(payload) {
		// Plain-text producers send the fragment itself; an empty payload is
		// an empty fragment.
		return domain.TextFragment(string(payload)), true
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		// Valid JSON, but not an object.
		return domain.StreamEvent{}, false
	}

	if text, ok := rawString(obj["text"]); ok && text != "" {
		return domain.TextFragment(text), true
	}
	if truthy(obj["done"]) {
		return domain.Done(), true
	}
	if raw := obj["error"]; truthy(raw) {
		if reason, ok := rawString(raw); ok {
			return domain.Failure(reason), true
		}
		return domain.Failure(string(bytes.TrimSpace(raw))), true
	}
	return domain.StreamEvent{}, false
}

func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// truthy applies JavaScript truthiness to a JSON value: false, null, 0 and ""
// are false; everything else, including empty objects and arrays, is true.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		return len(raw) > 2
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	}
}
