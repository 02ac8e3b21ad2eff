package chatstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"

	"prismatic/internal/domain"
	"prismatic/internal/infra/config"
	"prismatic/internal/infra/logger"
	"prismatic/internal/infra/tracer"
)

const defaultReadBufferSize = 4096

// Client sends chat requests and reads their replies, either as an event
// stream (Stream) or as a single JSON body (Send). A Client is safe for
// concurrent use; every call owns its own decoder and response body.
type Client struct {
	http         *http.Client
	logger       *slog.Logger
	maxErrorBody int64
	readBufSize  int

	cbEnabled bool
	cbConfig  config.CircuitBreakerConfig
	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker[*http.Response] // by host
}

// NewClient creates a Client with a pooled HTTP transport.
func NewClient(cfg config.ClientConfig, log *slog.Logger) *Client {
	c := &Client{
		http:         NewHTTPClient(cfg),
		logger:       log,
		maxErrorBody: cfg.MaxErrorBody,
		readBufSize:  cfg.ReadBufferSize,
		cbEnabled:    cfg.CircuitBreaker.Enabled,
		cbConfig:     cfg.CircuitBreaker,
		breakers:     make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
	if c.maxErrorBody <= 0 {
		c.maxErrorBody = 4096
	}
	if c.readBufSize <= 0 {
		c.readBufSize = defaultReadBufferSize
	}
	return c
}

// Stream POSTs req to url and dispatches each text fragment to onFragment,
// synchronously and in arrival order, as the reply streams in. onFragment
// may be nil. A reply that ends without a done frame still succeeds.
// Cancelling ctx abandons the stream and reports a transport failure.
func (c *Client) Stream(ctx context.Context, url string, req domain.ChatRequest, onFragment func(string)) domain.RequestResult {
	ctx, span := tracer.StartSpan(ctx, "chatstream.Stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			tracer.StringAttr("http.url", url),
			tracer.IntAttr("chat.history_len", len(req.History)),
		),
	)

	c.logger.Debug("chat stream started", "url", url, "history", len(req.History))
	res := c.stream(ctx, url, req, onFragment)
	c.finish(span, "chat stream", url, res)
	return res
}

// Send POSTs req to url and waits for a single {"response"} or {"error"}
// JSON reply.
func (c *Client) Send(ctx context.Context, url string, req domain.ChatRequest) (string, domain.RequestResult) {
	ctx, span := tracer.StartSpan(ctx, "chatstream.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			tracer.StringAttr("http.url", url),
			tracer.IntAttr("chat.history_len", len(req.History)),
		),
	)

	text, res := c.send(ctx, url, req)
	c.finish(span, "chat send", url, res)
	return text, res
}

func (c *Client) stream(ctx context.Context, url string, req domain.ChatRequest, onFragment func(string)) domain.RequestResult {
	resp, err := c.open(ctx, url, req, acceptStream)
	if err != nil {
		return domain.Failed(domain.StateFailed, 0, "", contextError(ctx, err))
	}
	defer resp.Body.Close()

	fallback := wantsFallback(resp)
	trace.SpanFromContext(ctx).SetAttributes(tracer.BoolAttr("chat.fallback", fallback))
	if fallback {
		text, err := parseCompletion(resp.Body)
		if err != nil {
			return domain.Failed(domain.StateFailedMidStream, 0, "", contextError(ctx, err))
		}
		emit(onFragment, text)
		return domain.Succeeded(domain.StateCompleted, 1)
	}

	dec := NewFrameDecoder()
	buf := make([]byte, c.readBufSize)
	fragments := 0

	dispatch := func(events []domain.StreamEvent) (domain.RequestResult, bool) {
		for _, ev := range events {
			switch ev.Kind {
			case domain.EventText:
				emit(onFragment, ev.Text)
				fragments++
			case domain.EventDone:
				return domain.Succeeded(domain.StateCompleted, fragments), true
			case domain.EventFailure:
				return domain.Failed(domain.StateFailedMidStream, fragments, "", streamFailure(ev.Reason)), true
			}
		}
		return domain.RequestResult{}, false
	}

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if res, done := dispatch(dec.Feed(buf[:n])); done {
				return res
			}
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			if res, done := dispatch(dec.Flush()); done {
				return res
			}
			return domain.Succeeded(domain.StateEndedWithoutSignal, fragments)
		default:
			return domain.Failed(domain.StateFailedMidStream, fragments, "", contextError(ctx, transportError(readErr)))
		}
	}
}

func (c *Client) send(ctx context.Context, url string, req domain.ChatRequest) (string, domain.RequestResult) {
	resp, err := c.open(ctx, url, req, acceptComplete)
	if err != nil {
		return "", domain.Failed(domain.StateFailed, 0, "", contextError(ctx, err))
	}
	defer resp.Body.Close()

	text, err := parseCompletion(resp.Body)
	if err != nil {
		return "", domain.Failed(domain.StateFailedMidStream, 0, "", contextError(ctx, err))
	}
	return text, domain.Succeeded(domain.StateCompleted, 1)
}

// open performs the request, through the endpoint's circuit breaker when
// one is configured.
func (c *Client) open(ctx context.Context, rawURL string, req domain.ChatRequest, accept string) (*http.Response, error) {
	do := func() (*http.Response, error) {
		return doRequest(ctx, c.http, rawURL, req, accept, c.maxErrorBody)
	}
	if !c.cbEnabled {
		return do()
	}

	name := "chat:" + hostOf(rawURL)
	resp, err := c.breaker(name).Execute(do)
	if err != nil {
		return nil, circuitOpenError(name, err)
	}
	return resp, nil
}

func (c *Client) breaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[name]
	if !ok {
		cb = newBreaker(name, c.cbConfig, c.logger)
		c.breakers[name] = cb
	}
	return cb
}

// BreakerState reports the circuit state for url's host. Without a breaker
// the circuit is always closed.
func (c *Client) BreakerState(rawURL string) gobreaker.State {
	if !c.cbEnabled {
		return gobreaker.StateClosed
	}
	return c.breaker("chat:" + hostOf(rawURL)).State()
}

func (c *Client) finish(span trace.Span, what, url string, res domain.RequestResult) {
	span.SetAttributes(
		tracer.StringAttr("chat.state", string(res.State)),
		tracer.IntAttr("chat.fragments", res.Fragments),
	)
	tracer.Finish(span, res.Err)

	if res.OK {
		c.logger.Debug(what+" completed", "url", url, "state", res.State, "fragments", res.Fragments)
		return
	}
	args := append([]any{"url", url, "state", res.State, "fragments", res.Fragments}, logger.ErrAttrs(res.Err)...)
	c.logger.Warn(what+" failed", args...)
}

// contextError makes a cancelled or expired ctx visible through errors.Is,
// whatever error the transport surfaced for it.
func contextError(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if ctxErr == nil || !errors.Is(err, domain.ErrTransport) || errors.Is(err, ctxErr) {
		return err
	}
	return &requestError{msg: err.Error(), err: fmt.Errorf("%w: %w", domain.ErrTransport, ctxErr)}
}

func emit(onFragment func(string), text string) {
	if onFragment != nil {
		onFragment(text)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
