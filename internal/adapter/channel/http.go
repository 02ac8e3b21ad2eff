package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"prismatic/internal/adapter/chatstream"
	"prismatic/internal/domain"
	"prismatic/internal/infra/config"
	"prismatic/internal/infra/logger"
	"prismatic/internal/infra/middleware"
	"prismatic/internal/infra/tracer"
)

// HTTPChannel serves the chat protocol over HTTP: an event stream on
// POST /chat, a single JSON reply on POST /chat/complete.
type HTTPChannel struct {
	server    *http.Server
	logger    *slog.Logger
	cfg       config.ServerConfig
	responder domain.Responder

	// Actual bound address (set after Start)
	boundAddr string

	// Lifecycle management for rate limiter cleanup goroutine
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHTTPChannel creates an HTTP channel answering with responder.
func NewHTTPChannel(cfg config.ServerConfig, responder domain.Responder, logger *slog.Logger) *HTTPChannel {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &HTTPChannel{
		cfg:       cfg,
		responder: responder,
		logger:    logger,
	}
}

// Handler returns the routed handler wrapped in the middleware chain. ctx
// bounds background work such as rate limiter cleanup.
func (h *HTTPChannel) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", h.handleChat)
	mux.HandleFunc("POST /chat/complete", h.handleComplete)
	mux.HandleFunc("GET /health", h.handleHealth)

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.SecurityHeaders,
		middleware.CORS(h.cfg.CORSOrigins),
	}
	if h.cfg.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimit(ctx, h.cfg.RateLimit))
	}
	return middleware.Chain(mux, mws...)
}

// Start begins the HTTP server. Non-blocking (starts in goroutine).
func (h *HTTPChannel) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.server = &http.Server{
		Addr:              h.cfg.Addr,
		Handler:           h.Handler(h.ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Zero leaves streams unbounded.
		WriteTimeout: h.cfg.WriteTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		h.cancel()
		return fmt.Errorf("listen %s: %w", h.cfg.Addr, err)
	}
	h.boundAddr = ln.Addr().String()

	go func() {
		h.logger.Info("http channel started", "addr", h.boundAddr, "responder", h.responder.Name())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (h *HTTPChannel) Stop(ctx context.Context) error {
	// Cancel context to stop rate limiter cleanup goroutine
	if h.cancel != nil {
		h.cancel()
	}

	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// Addr returns the bound address once Start has succeeded.
func (h *HTTPChannel) Addr() string { return h.boundAddr }

// Name returns the channel identifier.
func (h *HTTPChannel) Name() string { return "http" }

func (h *HTTPChannel) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, chatstream.Completion{Error: "streaming unsupported"})
		return
	}

	ctx, span := tracer.StartSpan(r.Context(), "channel.chat",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", h.responder.Name()),
			tracer.IntAttr("chat.history_len", len(req.History)),
		),
	)
	log := h.logger.With("request_id", middleware.RequestIDFrom(ctx))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	fragments := 0
	write := func(ev domain.StreamEvent) error {
		if _, err := w.Write(chatstream.EncodeFrame(ev)); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrTransport, err)
		}
		flusher.Flush()
		return nil
	}

	err := h.responder.Respond(ctx, req, func(ev domain.StreamEvent) error {
		if ev.Kind != domain.EventText {
			return nil
		}
		fragments++
		return write(ev)
	})

	span.SetAttributes(tracer.IntAttr("chat.fragments", fragments))
	tracer.Finish(span, err)

	switch {
	case err == nil:
		if werr := write(domain.Done()); werr != nil {
			log.Debug("write done frame", "error", werr)
		}
		log.Debug("chat stream served", "fragments", fragments)
	case ctx.Err() != nil || errors.Is(err, domain.ErrTransport):
		// The client is gone; nothing left to tell it.
		log.Info("chat stream abandoned", "fragments", fragments)
	default:
		log.Warn("chat stream failed", append([]any{"fragments", fragments}, logger.ErrAttrs(err)...)...)
		if werr := write(domain.Failure(err.Error())); werr != nil {
			log.Debug("write error frame", "error", werr)
		}
	}
}

func (h *HTTPChannel) handleComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	ctx, span := tracer.StartSpan(r.Context(), "channel.complete",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(tracer.StringAttr("llm.provider", h.responder.Name())),
	)
	text, err := h.responder.Complete(ctx, req)
	tracer.Finish(span, err)

	if err != nil {
		h.logger.Warn("chat completion failed",
			append([]any{"request_id", middleware.RequestIDFrom(ctx)}, logger.ErrAttrs(err)...)...)
		writeJSON(w, http.StatusOK, chatstream.Completion{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chatstream.Completion{Response: text})
}

func (h *HTTPChannel) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Healthy"})
}

// decodeRequest reads and validates a chat request, answering 400 itself
// when it is unusable.
func (h *HTTPChannel) decodeRequest(w http.ResponseWriter, r *http.Request) (domain.ChatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errMsg := "invalid JSON: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errMsg = fmt.Sprintf("request body too large (max %d bytes)", tooLarge.Limit)
		}
		writeJSON(w, http.StatusBadRequest, chatstream.Completion{Error: errMsg})
		return req, false
	}

	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, chatstream.Completion{Error: "message is required"})
		return req, false
	}
	for i, turn := range req.History {
		if !domain.ValidRole(turn.Role) {
			writeJSON(w, http.StatusBadRequest, chatstream.Completion{
				Error: fmt.Sprintf("history[%d]: invalid role %q", i, turn.Role),
			})
			return req, false
		}
	}
	return req.Normalized(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
