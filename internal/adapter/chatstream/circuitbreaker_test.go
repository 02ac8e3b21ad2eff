package chatstream

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"

	"prismatic/internal/domain"
	"prismatic/internal/infra/config"
	"prismatic/internal/infra/logger"
)

func TestNewBreakerDefaults(t *testing.T) {
	cb := newBreaker("chat:test", config.CircuitBreakerConfig{}, logger.Discard())
	assert.Equal(t, "chat:test", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	for i := 0; i < int(defaultCBMaxFailures); i++ {
		_, _ = cb.Execute(func() (*http.Response, error) { return nil, transportError(errors.New("refused")) })
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitOpenError(t *testing.T) {
	err := circuitOpenError("chat:h", gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, "circuit open for chat:h", err.Error())

	other := errors.New("other")
	assert.Same(t, other, circuitOpenError("chat:h", other))
}

func TestNewPooledTransport_Defaults(t *testing.T) {
	tr := NewPooledTransport(0, 0, config.PoolConfig{})
	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)
	assert.Equal(t, defaultRespTimeout, tr.ResponseHeaderTimeout)
}

func TestNewPooledTransport_CustomConfig(t *testing.T) {
	tr := NewPooledTransport(5*time.Second, 10*time.Second, config.PoolConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
	})
	assert.Equal(t, 50, tr.MaxIdleConns)
	assert.Equal(t, 25, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 100, tr.MaxConnsPerHost)
	assert.Equal(t, 90*time.Second, tr.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, tr.ResponseHeaderTimeout)
}

func TestNewHTTPClientHasNoOverallTimeout(t *testing.T) {
	c := NewHTTPClient(config.Defaults().Client)
	assert.Zero(t, c.Timeout, "an overall timeout would cut long streams short")
	assert.IsType(t, &http.Transport{}, c.Transport)
}
