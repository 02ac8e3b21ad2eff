package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prismatic/internal/domain"
	"prismatic/internal/infra/logger"
)

// fakeStreamer answers every call with the next scripted reply.
type fakeStreamer struct {
	mu       sync.Mutex
	replies  []fakeReply
	requests []domain.ChatRequest
	urls     []string
}

type fakeReply struct {
	fragments []string
	result    domain.RequestResult
}

func (f *fakeStreamer) next(url string, req domain.ChatRequest) fakeReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	f.requests = append(f.requests, req)
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r
}

func (f *fakeStreamer) Stream(ctx context.Context, url string, req domain.ChatRequest, onFragment func(string)) domain.RequestResult {
	r := f.next(url, req)
	for _, s := range r.fragments {
		onFragment(s)
	}
	return r.result
}

func (f *fakeStreamer) Send(ctx context.Context, url string, req domain.ChatRequest) (string, domain.RequestResult) {
	r := f.next(url, req)
	text := ""
	for _, s := range r.fragments {
		text += s
	}
	return text, r.result
}

func ok(fragments ...string) fakeReply {
	return fakeReply{fragments: fragments, result: domain.Succeeded(domain.StateCompleted, len(fragments))}
}

func failed(fragments ...string) fakeReply {
	return fakeReply{
		fragments: fragments,
		result:    domain.Failed(domain.StateFailedMidStream, len(fragments), "overloaded", errors.New("overloaded")),
	}
}

func TestConversationSendRecordsTurns(t *testing.T) {
	fs := &fakeStreamer{replies: []fakeReply{ok("Hel", "lo"), ok("Fine")}}
	c := NewConversation(fs, "http://chat.test/chat", "asthma", logger.Discard())

	var got []string
	res := c.Send(context.Background(), "hi", func(s string) { got = append(got, s) })
	require.True(t, res.OK)
	assert.Equal(t, []string{"Hel", "lo"}, got)

	res = c.Send(context.Background(), "how are you", nil)
	require.True(t, res.OK)

	assert.Equal(t, []domain.ConversationTurn{
		domain.UserTurn("hi"),
		domain.AssistantTurn("Hello"),
		domain.UserTurn("how are you"),
		domain.AssistantTurn("Fine"),
	}, c.History())

	require.Len(t, fs.requests, 2)
	assert.Empty(t, fs.requests[0].History)
	assert.NotNil(t, fs.requests[0].History)
	assert.Equal(t, "asthma", fs.requests[1].Diagnosis)
	assert.Equal(t, []domain.ConversationTurn{domain.UserTurn("hi"), domain.AssistantTurn("Hello")}, fs.requests[1].History)
	assert.Equal(t, "http://chat.test/chat", fs.urls[1])
}

func TestConversationFailureLeavesHistory(t *testing.T) {
	fs := &fakeStreamer{replies: []fakeReply{ok("one"), failed("par")}}
	c := NewConversation(fs, "u", "", logger.Discard())

	c.Send(context.Background(), "first", nil)
	var got []string
	res := c.Send(context.Background(), "second", func(s string) { got = append(got, s) })

	assert.False(t, res.OK)
	assert.Equal(t, "overloaded", res.ErrorMessage)
	assert.Equal(t, []string{"par"}, got)
	assert.Len(t, c.History(), 2)
}

func TestConversationEndedWithoutSignalCounts(t *testing.T) {
	fs := &fakeStreamer{replies: []fakeReply{{
		fragments: []string{"cut"},
		result:    domain.Succeeded(domain.StateEndedWithoutSignal, 1),
	}}}
	c := NewConversation(fs, "u", "", logger.Discard())

	c.Send(context.Background(), "q", nil)

	assert.Equal(t, []domain.ConversationTurn{domain.UserTurn("q"), domain.AssistantTurn("cut")}, c.History())
}

func TestConversationAsk(t *testing.T) {
	fs := &fakeStreamer{replies: []fakeReply{ok("whole"), failed()}}
	c := NewConversation(fs, "u", "flu", logger.Discard())

	text, res := c.Ask(context.Background(), "q1")
	require.True(t, res.OK)
	assert.Equal(t, "whole", text)

	_, res = c.Ask(context.Background(), "q2")
	assert.False(t, res.OK)
	assert.Len(t, c.History(), 2)
}

func TestConversationHistoryIsCopy(t *testing.T) {
	fs := &fakeStreamer{replies: []fakeReply{ok("a")}}
	c := NewConversation(fs, "u", "", logger.Discard())
	c.Send(context.Background(), "q", nil)

	h := c.History()
	h[0].Content = "mutated"

	assert.Equal(t, "q", c.History()[0].Content)
}

func TestConversationReset(t *testing.T) {
	fs := &fakeStreamer{replies: []fakeReply{ok("a")}}
	c := NewConversation(fs, "u", "", logger.Discard())
	c.Send(context.Background(), "q", nil)

	c.Reset()

	assert.Empty(t, c.History())
}

func TestConversationID(t *testing.T) {
	a := NewConversation(&fakeStreamer{}, "u", "", logger.Discard())
	b := NewConversation(&fakeStreamer{}, "u", "", logger.Discard())

	assert.Len(t, a.ID, 26)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestConversationConcurrentSends(t *testing.T) {
	const n = 8
	replies := make([]fakeReply, n)
	for i := range replies {
		replies[i] = ok("r")
	}
	fs := &fakeStreamer{replies: replies}
	c := NewConversation(fs, "u", "", logger.Discard())

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Send(context.Background(), "q", nil)
		}()
	}
	wg.Wait()

	h := c.History()
	require.Len(t, h, 2*n)
	for i := 0; i < len(h); i += 2 {
		assert.Equal(t, domain.RoleUser, h[i].Role)
		assert.Equal(t, domain.RoleAssistant, h[i+1].Role)
	}
	// Each request saw the turns of every earlier one.
	for i, req := range fs.requests {
		assert.Len(t, req.History, 2*i)
	}
}
