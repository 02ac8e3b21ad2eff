package chatstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"prismatic/internal/domain"
)

// maxResponseBody bounds how much of a non-streaming reply is read.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

const (
	acceptStream   = "text/event-stream, application/json"
	acceptComplete = "application/json"
)

// requestError is a failed request. Error returns the text shown to the
// caller; Unwrap exposes the classification for errors.Is.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return e.err }

func transportError(err error) error {
	return &requestError{msg: err.Error(), err: fmt.Errorf("%w: %w", domain.ErrTransport, err)}
}

// doRequest POSTs req as JSON. A non-2xx response is drained (up to
// maxErrorBody bytes), closed and returned as an error; otherwise the caller
// owns the open response body.
func doRequest(ctx context.Context, client *http.Client, url string, req domain.ChatRequest, accept string, maxErrorBody int64) (*http.Response, error) {
	body, err := json.Marshal(req.Normalized())
	if err != nil {
		return nil, &requestError{msg: "encode request: " + err.Error(), err: fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, transportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	return httpResp, nil
}

// mapHTTPError classifies a non-success status on top of ErrHTTPStatus so
// logs, spans and the circuit breaker can tell rate limiting, auth and
// server faults apart.
func mapHTTPError(statusCode int, body []byte) error {
	msg := strings.TrimSpace(fmt.Sprintf("Request failed: %d %s", statusCode, body))

	var class error
	switch {
	case statusCode == http.StatusTooManyRequests:
		class = domain.ErrRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		class = domain.ErrAuthInvalid
	case statusCode >= 500:
		class = domain.ErrProviderError
	}

	err := fmt.Errorf("%w: status %d", domain.ErrHTTPStatus, statusCode)
	if class != nil {
		err = fmt.Errorf("%w: %w: status %d", domain.ErrHTTPStatus, class, statusCode)
	}
	return &requestError{msg: msg, err: err}
}

// isServerFault reports whether err should count against the endpoint's
// circuit breaker. Caller cancellation and 4xx replies do not.
func isServerFault(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, domain.ErrTransport) || errors.Is(err, domain.ErrProviderError)
}

// wantsFallback reports whether resp must be read whole instead of streamed:
// a JSON body or no body at all. An empty event-stream body still streams and
// ends without a signal.
func wantsFallback(resp *http.Response) bool {
	if resp.Body == nil || resp.Body == http.NoBody {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// parseCompletion reads a whole non-streaming body. It returns the reply text
// or an error classified as ErrStreamProtocol (producer reported an error)
// or ErrUnexpectedResponse (anything else).
func parseCompletion(body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBody))
	if err != nil {
		return "", transportError(err)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return "", unexpectedResponse()
	}

	if text, ok := rawString(obj["response"]); ok && text != "" {
		return text, nil
	}
	if raw := obj["error"]; truthy(raw) {
		reason, ok := rawString(raw)
		if !ok {
			reason = string(bytes.TrimSpace(raw))
		}
		return "", streamFailure(reason)
	}
	return "", unexpectedResponse()
}

func streamFailure(reason string) error {
	return &requestError{msg: reason, err: fmt.Errorf("%w: %s", domain.ErrStreamProtocol, reason)}
}

func unexpectedResponse() error {
	return &requestError{msg: domain.ErrUnexpectedResponse.Error(), err: domain.ErrUnexpectedResponse}
}
