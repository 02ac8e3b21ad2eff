package chatstream

import (
	"testing"

	"prismatic/internal/domain"
)

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		ev   domain.StreamEvent
		want string
	}{
		{domain.TextFragment("a<b> & \"c\""), "data: {\"text\":\"a<b> & \\\"c\\\"\"}\n\n"},
		{domain.TextFragment("日本"), "data: {\"text\":\"日本\"}\n\n"},
		{domain.Done(), "data: {\"done\":true}\n\n"},
		{domain.Failure("throttled"), "data: {\"error\":\"throttled\"}\n\n"},
		{domain.Failure(""), "data: {\"error\":\"unknown error\"}\n\n"},
	}
	for _, tt := range tests {
		if got := string(EncodeFrame(tt.ev)); got != tt.want {
			t.Errorf("EncodeFrame(%v) = %q, want %q", tt.ev, got, tt.want)
		}
	}
}

func TestEncodedFramesDecodeInOrder(t *testing.T) {
	events := []domain.StreamEvent{
		domain.TextFragment("line one\nline two"),
		domain.TextFragment("data: nested"),
		domain.TextFragment("🎉"),
		domain.Done(),
	}

	var raw []byte
	for _, ev := range events {
		raw = append(raw, EncodeFrame(ev)...)
	}

	got := decodeChunks(string(raw))
	assertEvents(t, got, events)
}
