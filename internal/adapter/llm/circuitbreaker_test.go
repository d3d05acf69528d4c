package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
)

type mockProvider struct {
	name     string
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if m.chatFunc == nil {
		return &domain.ChatResponse{}, nil
	}
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) Name() string { return m.name }

type mockStreamProvider struct {
	mockProvider
	streamFunc func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error)
}

func (m *mockStreamProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return m.streamFunc(ctx, req)
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "test",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Message: domain.ChatMessage{Content: "ok"}}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, slog.Default())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, "test", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	inner := &mockProvider{
		name: "flaky",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			calls++
			return nil, domain.ErrProviderError
		},
	}

	cfg := config.CircuitBreakerConfig{MaxFailures: 3, Timeout: 5 * time.Second, Interval: time.Minute}
	cb := NewCircuitBreakerProvider(inner, cfg, slog.Default())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.ErrorIs(t, err, domain.ErrProviderError)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.True(t, domain.IsRetryableError(err))
	assert.Equal(t, 3, calls, "open circuit must not reach the provider")
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	fail := true
	inner := &mockProvider{
		name: "recovering",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			if fail {
				return nil, errors.New("down")
			}
			return &domain.ChatResponse{}, nil
		},
	}

	cfg := config.CircuitBreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond}
	cb := NewCircuitBreakerProvider(inner, cfg, slog.Default())

	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	require.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(40 * time.Millisecond)
	fail = false
	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	inner := &mockProvider{
		name: "cancelled",
		chatFunc: func(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, context.Canceled
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, slog.Default())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerStream(t *testing.T) {
	inner := &mockStreamProvider{
		mockProvider: mockProvider{name: "stream"},
		streamFunc: func(_ context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			ch := make(chan domain.StreamDelta, 1)
			ch <- domain.StreamDelta{Content: "streamed", Done: true}
			close(ch)
			return ch, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, slog.Default())
	ch, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)

	delta := <-ch
	assert.Equal(t, "streamed", delta.Content)
}

func TestCircuitBreakerStreamNonStreamingProvider(t *testing.T) {
	cb := NewCircuitBreakerProvider(&mockProvider{name: "plain"}, config.CircuitBreakerConfig{}, slog.Default())

	_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support streaming")
}

func TestCircuitBreakerStreamTripsOnSetupFailure(t *testing.T) {
	inner := &mockStreamProvider{
		mockProvider: mockProvider{name: "stream-flaky"},
		streamFunc: func(_ context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			return nil, domain.ErrRateLimit
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2, Timeout: 5 * time.Second}, slog.Default())
	for i := 0; i < 2; i++ {
		_, _ = cb.ChatStream(context.Background(), domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestCircuitBreakerCounts(t *testing.T) {
	n := 0
	inner := &mockProvider{
		name: "counted",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			n++
			if n <= 2 {
				return &domain.ChatResponse{}, nil
			}
			return nil, errors.New("fail")
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 10}, slog.Default())
	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	assert.Equal(t, uint32(2), cb.Counts().TotalSuccesses)

	_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestNewPooledTransportDefaults(t *testing.T) {
	tr := NewPooledTransport(0, 0, config.PoolConfig{})

	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)
	assert.True(t, tr.ForceAttemptHTTP2)
}

func TestNewPooledTransportCustom(t *testing.T) {
	tr := NewPooledTransport(15*time.Second, 60*time.Second, config.PoolConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     30,
		IdleConnTimeout:     5 * time.Minute,
	})

	assert.Equal(t, 50, tr.MaxIdleConns)
	assert.Equal(t, 25, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 30, tr.MaxConnsPerHost)
	assert.Equal(t, 5*time.Minute, tr.IdleConnTimeout)
	assert.Equal(t, 60*time.Second, tr.ResponseHeaderTimeout)
}

func TestNewHTTPClientHasNoOverallTimeout(t *testing.T) {
	c := NewHTTPClient(config.ProviderConfig{})
	assert.Zero(t, c.Timeout)
	assert.NotNil(t, c.Transport)
}
