package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"prismatic/internal/domain"
)

// EchoResponder replies without a model: it restates the message, word by
// word when streaming. It backs local development and tests.
type EchoResponder struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewEchoResponder creates an EchoResponder that pauses delay between words.
func NewEchoResponder(delay time.Duration, logger *slog.Logger) *EchoResponder {
	return &EchoResponder{delay: delay, logger: logger}
}

// Respond implements domain.Responder.
func (e *EchoResponder) Respond(ctx context.Context, req domain.ChatRequest, emit func(domain.StreamEvent) error) error {
	words := splitWords(echoReply(req))
	for i, w := range words {
		if i > 0 && e.delay > 0 {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(domain.TextFragment(w)); err != nil {
			return err
		}
	}
	e.logger.Debug("echo stream completed", "fragments", len(words))
	return nil
}

// Complete implements domain.Responder.
func (e *EchoResponder) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return echoReply(req), nil
}

// Name implements domain.Responder.
func (e *EchoResponder) Name() string { return "echo" }

func echoReply(req domain.ChatRequest) string {
	if req.Diagnosis == "" {
		return fmt.Sprintf("You said: %s", req.Message)
	}
	return fmt.Sprintf("You said: %s (diagnosis: %s, %d earlier turns)", req.Message, req.Diagnosis, len(req.History))
}

// splitWords cuts s after each run of spaces so the pieces concatenate back
// to s exactly.
func splitWords(s string) []string {
	var words []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			words = append(words, s)
			break
		}
		j := i
		for j < len(s) && s[j] == ' ' {
			j++
		}
		words = append(words, s[:j])
		s = s[j:]
	}
	return words
}

var _ domain.Responder = (*EchoResponder)(nil)
