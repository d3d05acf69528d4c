package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// nopLogger returns a logger that discards output.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type queryParams struct {
	Query string `json:"query"`
}

// recordFailure builds a WebSearchCall for failed invocations and counts
// how often it ran.
func recordFailure(n *int) func(queryParams, error) domain.ToolCallRecord {
	return func(p queryParams, err error) domain.ToolCallRecord {
		*n++
		return &domain.WebSearchCall{Query: p.Query, Error: err.Error()}
	}
}

func TestExecutePassesResultThrough(t *testing.T) {
	var failed int
	want := &domain.ToolResult{Content: "results for tides", Record: &domain.WebSearchCall{Query: "tides"}}

	got, err := Execute(context.Background(), "tool.test", nopLogger(), json.RawMessage(`{"query":"tides"}`),
		func(_ context.Context, _ trace.Span, p queryParams) (*domain.ToolResult, error) {
			assert.Equal(t, "tides", p.Query)
			return want, nil
		}, recordFailure(&failed))

	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Zero(t, failed)
}

func TestExecuteKeepsToolErrorResults(t *testing.T) {
	want := &domain.ToolResult{IsError: true, Content: "nothing usable"}
	got, err := Execute(context.Background(), "tool.test", nopLogger(), json.RawMessage(`{}`),
		func(context.Context, trace.Span, queryParams) (*domain.ToolResult, error) { return want, nil },
		nil)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestExecuteUndecodableParams(t *testing.T) {
	var failed int
	ran := false

	result, err := Execute(context.Background(), "tool.test", nopLogger(), json.RawMessage(`{"query":`),
		func(context.Context, trace.Span, queryParams) (*domain.ToolResult, error) {
			ran = true
			return nil, nil
		}, recordFailure(&failed))

	require.NoError(t, err, "tool failures are results, not Go errors")
	assert.False(t, ran)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "invalid params")
	assert.False(t, strings.HasSuffix(result.Content, retryHint))

	rec, ok := result.Record.(*domain.WebSearchCall)
	require.True(t, ok, "a failed invocation still leaves a record")
	assert.Empty(t, rec.Query)
	assert.NotEmpty(t, rec.Error)
	assert.Equal(t, 1, failed)
}

func TestExecuteRunErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"permanent", domain.NewSubSystemError("search", "brave.Search", domain.ErrAuthInvalid, "bad key"), false},
		{"rate limited", domain.NewSubSystemError("search", "serper.Search", domain.ErrRateLimit, "HTTP 429"), true},
		{"wrapped timeout", fmt.Errorf("discover: %w", domain.ErrTimeout), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var failed int
			result, err := Execute(context.Background(), "tool.test", nopLogger(), json.RawMessage(`{"query":"tides"}`),
				func(context.Context, trace.Span, queryParams) (*domain.ToolResult, error) { return nil, tt.err },
				recordFailure(&failed))

			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.True(t, strings.HasPrefix(result.Content, "Error: "+tt.err.Error()))
			assert.Equal(t, tt.retryable, strings.HasSuffix(result.Content, retryHint))

			rec, ok := result.Record.(*domain.WebSearchCall)
			require.True(t, ok)
			assert.Equal(t, "tides", rec.Query)
			assert.Equal(t, tt.err.Error(), rec.Error)
		})
	}
}

func TestExecuteWithoutFailureRecord(t *testing.T) {
	result, err := Execute(context.Background(), "tool.test", nopLogger(), json.RawMessage(`{"query":"x"}`),
		func(context.Context, trace.Span, queryParams) (*domain.ToolResult, error) {
			return nil, errors.New("boom")
		}, nil)
	require.NoError(t, err)
	if !result.IsError || result.Record != nil {
		t.Errorf("result = %+v, want error result without record", result)
	}
}
