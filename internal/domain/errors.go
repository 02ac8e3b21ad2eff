package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
)

// Chat request failure taxonomy. Every failed RequestResult wraps exactly one
// of these.
var (
	// ErrTransport: the connection could not be established or broke.
	ErrTransport = fmt.Errorf("transport error")
	// ErrHTTPStatus: the server answered with a non-success status.
	ErrHTTPStatus = fmt.Errorf("http status error")
	// ErrStreamProtocol: the producer reported an error in-band.
	ErrStreamProtocol = fmt.Errorf("stream protocol error")
	// ErrUnexpectedResponse: a JSON response had neither "response" nor "error".
	ErrUnexpectedResponse = fmt.Errorf("unexpected response format")
	// ErrCircuitOpen: the endpoint's circuit breaker is rejecting calls.
	ErrCircuitOpen = fmt.Errorf("circuit open")
)

// HTTP status classification, layered on top of ErrHTTPStatus.
var (
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Client.Stream")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for logs and metrics.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeTransport          ErrorCode = "TRANSPORT"
	CodeHTTPStatus         ErrorCode = "HTTP_STATUS"
	CodeStreamProtocol     ErrorCode = "STREAM_PROTOCOL"
	CodeUnexpectedResponse ErrorCode = "UNEXPECTED_RESPONSE"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
)

// codeOrder lists sentinels from most to least specific, so a 429 reports
// RATE_LIMIT rather than the generic HTTP_STATUS it also wraps.
var codeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrHTTPStatus, CodeHTTPStatus},
	{ErrStreamProtocol, CodeStreamProtocol},
	{ErrUnexpectedResponse, CodeUnexpectedResponse},
	{ErrTransport, CodeTransport},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrProviderError, CodeProviderError},
	{ErrConfigLoad, CodeConfigLoad},
}

// ErrorCodeOf returns the machine-parseable error code for err, or
// CodeUnknown when err matches no sentinel.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, c := range codeOrder {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
