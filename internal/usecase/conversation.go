package usecase

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"prismatic/internal/domain"
)

// Conversation is one patient dialogue against a chat endpoint. It keeps the
// ordered history and sends it with every new message. Turns are serialized:
// a second Send waits for the first to finish.
type Conversation struct {
	ID        string
	URL       string
	Diagnosis string
	CreatedAt time.Time

	streamer domain.ChatStreamer
	logger   *slog.Logger

	turnMu sync.Mutex // held for a whole request/reply exchange
	mu     sync.RWMutex
	turns  []domain.ConversationTurn
}

// NewConversation starts an empty conversation with a generated ULID.
func NewConversation(streamer domain.ChatStreamer, url, diagnosis string, logger *slog.Logger) *Conversation {
	return &Conversation{
		ID:        ulid.Make().String(),
		URL:       url,
		Diagnosis: diagnosis,
		CreatedAt: time.Now(),
		streamer:  streamer,
		logger:    logger,
		turns:     make([]domain.ConversationTurn, 0),
	}
}

// Send streams a reply to message, passing each fragment to onFragment as it
// arrives. On success the user turn and the assembled assistant turn are
// appended to the history; on failure the history is left unchanged.
func (c *Conversation) Send(ctx context.Context, message string, onFragment func(string)) domain.RequestResult {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	var reply strings.Builder
	res := c.streamer.Stream(ctx, c.URL, c.request(message), func(s string) {
		reply.WriteString(s)
		if onFragment != nil {
			onFragment(s)
		}
	})
	c.settle(message, reply.String(), res)
	return res
}

// Ask is Send over the non-streaming path; it returns the whole reply.
func (c *Conversation) Ask(ctx context.Context, message string) (string, domain.RequestResult) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	text, res := c.streamer.Send(ctx, c.URL, c.request(message))
	c.settle(message, text, res)
	return text, res
}

// History returns a copy of the turns so far.
func (c *Conversation) History() []domain.ConversationTurn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ConversationTurn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Reset clears the history, keeping the id and diagnosis.
func (c *Conversation) Reset() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = c.turns[:0]
}

func (c *Conversation) request(message string) domain.ChatRequest {
	return domain.ChatRequest{
		Message:   message,
		History:   c.History(),
		Diagnosis: c.Diagnosis,
	}
}

func (c *Conversation) settle(message, reply string, res domain.RequestResult) {
	if !res.OK {
		c.logger.Debug("conversation turn discarded", "conversation", c.ID, "state", res.State)
		return
	}
	c.mu.Lock()
	c.turns = append(c.turns, domain.UserTurn(message), domain.AssistantTurn(reply))
	n := len(c.turns)
	c.mu.Unlock()
	c.logger.Debug("conversation turn recorded", "conversation", c.ID, "state", res.State, "turns", n)
}
