package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prismatic/internal/adapter/chatstream"
	"prismatic/internal/adapter/llm"
	"prismatic/internal/domain"
	"prismatic/internal/infra/config"
	"prismatic/internal/infra/logger"
)

// fakeResponder replays canned output and records the last request.
type fakeResponder struct {
	fragments    []string
	err          error
	completeText string
	completeErr  error

	mu  sync.Mutex
	got domain.ChatRequest
}

func (f *fakeResponder) Respond(ctx context.Context, req domain.ChatRequest, emit func(domain.StreamEvent) error) error {
	f.record(req)
	for _, s := range f.fragments {
		if err := emit(domain.TextFragment(s)); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeResponder) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	f.record(req)
	return f.completeText, f.completeErr
}

func (f *fakeResponder) Name() string { return "fake" }

func (f *fakeResponder) record(req domain.ChatRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = req
}

func (f *fakeResponder) lastRequest() domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

func testServerConfig() config.ServerConfig {
	cfg := config.Defaults().Server
	cfg.Addr = "127.0.0.1:0"
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg config.ServerConfig, r domain.Responder) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewHTTPChannel(cfg, r, logger.Discard())
	srv := httptest.NewServer(ch.Handler(ctx))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestHTTPChannelStreamsFrames(t *testing.T) {
	r := &fakeResponder{fragments: []string{"Hel", "lo <b>"}}
	srv := newTestServer(t, testServerConfig(), r)

	resp, body := post(t, srv.URL+"/chat", `{"message":"hi","history":[{"role":"user","content":"a"}],"diagnosis":"flu"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "data: {\"text\":\"Hel\"}\n\ndata: {\"text\":\"lo <b>\"}\n\ndata: {\"done\":true}\n\n", body)

	got := r.lastRequest()
	assert.Equal(t, "hi", got.Message)
	assert.Equal(t, "flu", got.Diagnosis)
	assert.Equal(t, []domain.ConversationTurn{domain.UserTurn("a")}, got.History)
}

func TestHTTPChannelStreamResponderError(t *testing.T) {
	r := &fakeResponder{fragments: []string{"partial"}, err: errors.New("model overloaded")}
	srv := newTestServer(t, testServerConfig(), r)

	_, body := post(t, srv.URL+"/chat", `{"message":"hi"}`)

	assert.Equal(t, "data: {\"text\":\"partial\"}\n\ndata: {\"error\":\"model overloaded\"}\n\n", body)
}

func TestHTTPChannelMissingHistoryIsEmpty(t *testing.T) {
	r := &fakeResponder{}
	srv := newTestServer(t, testServerConfig(), r)

	post(t, srv.URL+"/chat", `{"message":"hi"}`)

	got := r.lastRequest()
	assert.NotNil(t, got.History)
	assert.Empty(t, got.History)
}

func TestHTTPChannelComplete(t *testing.T) {
	r := &fakeResponder{completeText: "whole reply"}
	srv := newTestServer(t, testServerConfig(), r)

	resp, body := post(t, srv.URL+"/chat/complete", `{"message":"hi"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"response":"whole reply"}`, body)
}

func TestHTTPChannelCompleteError(t *testing.T) {
	r := &fakeResponder{completeErr: errors.New("quota exceeded")}
	srv := newTestServer(t, testServerConfig(), r)

	_, body := post(t, srv.URL+"/chat/complete", `{"message":"hi"}`)

	assert.JSONEq(t, `{"error":"quota exceeded"}`, body)
}

func TestHTTPChannelBadRequests(t *testing.T) {
	cfg := testServerConfig()
	cfg.MaxBodyBytes = 64
	srv := newTestServer(t, cfg, &fakeResponder{})

	tests := []struct {
		name    string
		path    string
		body    string
		wantErr string
	}{
		{"invalid json", "/chat", `{not json`, "invalid JSON"},
		{"empty message", "/chat", `{"message":""}`, "message is required"},
		{"bad role", "/chat/complete", `{"message":"x","history":[{"role":"system","content":"y"}]}`, `history[0]: invalid role "system"`},
		{"too large", "/chat", `{"message":"` + strings.Repeat("x", 100) + `"}`, "request body too large (max 64 bytes)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv.URL+tt.path, tt.body)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var c chatstream.Completion
			require.NoError(t, json.Unmarshal([]byte(body), &c))
			assert.Contains(t, c.Error, tt.wantErr)
		})
	}
}

func TestHTTPChannelHealth(t *testing.T) {
	srv := newTestServer(t, testServerConfig(), &fakeResponder{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "Healthy", result["message"])
}

func TestHTTPChannelMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, testServerConfig(), &fakeResponder{})

	resp, err := http.Get(srv.URL + "/chat")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPChannelCORSPreflight(t *testing.T) {
	srv := newTestServer(t, testServerConfig(), &fakeResponder{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHTTPChannelRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1}
	srv := newTestServer(t, cfg, &fakeResponder{completeText: "ok"})

	first, _ := post(t, srv.URL+"/chat/complete", `{"message":"hi"}`)
	second, body := post(t, srv.URL+"/chat/complete", `{"message":"hi"}`)

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, body)
}

func TestHTTPChannelWithStreamingClient(t *testing.T) {
	srv := newTestServer(t, testServerConfig(), llm.NewEchoResponder(0, logger.Discard()))
	client := chatstream.NewClient(config.Defaults().Client, logger.Discard())

	var sb strings.Builder
	calls := 0
	res := client.Stream(context.Background(), srv.URL+"/chat", domain.ChatRequest{Message: "are you there"}, func(s string) {
		calls++
		sb.WriteString(s)
	})

	require.True(t, res.OK, res.ErrorMessage)
	assert.Equal(t, domain.StateCompleted, res.State)
	assert.Equal(t, "You said: are you there", sb.String())
	assert.Equal(t, 5, calls)
	assert.Equal(t, calls, res.Fragments)

	text, res := client.Send(context.Background(), srv.URL+"/chat/complete", domain.ChatRequest{Message: "once"})
	require.True(t, res.OK, res.ErrorMessage)
	assert.Equal(t, "You said: once", text)
}

func TestHTTPChannelErrorReachesClient(t *testing.T) {
	r := &fakeResponder{fragments: []string{"a"}, err: errors.New("model overloaded")}
	srv := newTestServer(t, testServerConfig(), r)
	client := chatstream.NewClient(config.Defaults().Client, logger.Discard())

	var got []string
	res := client.Stream(context.Background(), srv.URL+"/chat", domain.ChatRequest{Message: "hi"}, func(s string) {
		got = append(got, s)
	})

	assert.False(t, res.OK)
	assert.Equal(t, domain.StateFailedMidStream, res.State)
	assert.Equal(t, "model overloaded", res.ErrorMessage)
	assert.ErrorIs(t, res.Err, domain.ErrStreamProtocol)
	assert.Equal(t, []string{"a"}, got)
}

func TestHTTPChannelStartStop(t *testing.T) {
	ch := NewHTTPChannel(testServerConfig(), &fakeResponder{}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ch.Start(ctx))
	assert.Equal(t, "http", ch.Name())

	resp, err := http.Get(fmt.Sprintf("http://%s/health", ch.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ch.Stop(ctx))
}

func TestHTTPChannelStartListenError(t *testing.T) {
	cfg := testServerConfig()
	cfg.Addr = "256.0.0.1:bad"
	ch := NewHTTPChannel(cfg, &fakeResponder{}, logger.Discard())

	err := ch.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
