package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prismatic/internal/domain"
	"prismatic/internal/infra/config"
	"prismatic/internal/infra/logger"
)

func TestEchoRespondStreamsWords(t *testing.T) {
	r := NewEchoResponder(0, logger.Discard())

	var parts []string
	err := r.Respond(context.Background(), domain.ChatRequest{Message: "hello  there"}, func(ev domain.StreamEvent) error {
		require.Equal(t, domain.EventText, ev.Kind)
		parts = append(parts, ev.Text)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"You ", "said: ", "hello  ", "there"}, parts)
	assert.Equal(t, "You said: hello  there", strings.Join(parts, ""))
}

func TestEchoCompleteMatchesStream(t *testing.T) {
	r := NewEchoResponder(0, logger.Discard())
	req := domain.ChatRequest{
		Message:   "how long?",
		History:   []domain.ConversationTurn{domain.UserTurn("hi"), domain.AssistantTurn("hello")},
		Diagnosis: "flu",
	}

	var sb strings.Builder
	require.NoError(t, r.Respond(context.Background(), req, func(ev domain.StreamEvent) error {
		sb.WriteString(ev.Text)
		return nil
	}))

	text, err := r.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, sb.String(), text)
	assert.Equal(t, "You said: how long? (diagnosis: flu, 2 earlier turns)", text)
}

func TestEchoRespondStopsOnEmitError(t *testing.T) {
	r := NewEchoResponder(0, logger.Discard())
	broken := errors.New("write failed")
	calls := 0

	err := r.Respond(context.Background(), domain.ChatRequest{Message: "a b c"}, func(domain.StreamEvent) error {
		calls++
		return broken
	})

	assert.ErrorIs(t, err, broken)
	assert.Equal(t, 1, calls)
}

func TestEchoRespondHonoursCancel(t *testing.T) {
	r := NewEchoResponder(time.Hour, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	err := r.Respond(ctx, domain.ChatRequest{Message: "a b c"}, func(domain.StreamEvent) error {
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitWords(t *testing.T) {
	assert.Nil(t, splitWords(""))
	assert.Equal(t, []string{"one"}, splitWords("one"))
	assert.Equal(t, []string{"  ", "lead"}, splitWords("  lead"))
	assert.Equal(t, []string{"trail  "}, splitWords("trail  "))
}

func TestNewResponder(t *testing.T) {
	r, err := New(context.Background(), config.ResponderConfig{Type: "echo"}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "echo", r.Name())

	_, err = New(context.Background(), config.ResponderConfig{Type: "openai"}, logger.Discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
