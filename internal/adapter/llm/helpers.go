package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

const (
	maxResponseBody = 10 << 20
	maxErrorBody    = 4 << 10
	maxErrorDetail  = 512
)

// postCompletion sends a chat completions request. With stream set it asks
// for server-sent events and the caller owns the returned body; otherwise the
// body has been read and closed and is returned as data.
func postCompletion(ctx context.Context, client *http.Client, url string, payload []byte, headers map[string]string, stream bool) (resp *http.Response, data []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err = client.Do(req)
	if err != nil {
		return nil, nil, transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, nil, statusError(resp.StatusCode, body)
	}
	if stream {
		return resp, nil, nil
	}

	defer resp.Body.Close()
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, data, nil
}

// transportError tags client timeouts with domain.ErrTimeout so they count
// as retryable.
func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: http request: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("http request: %w", err)
}

// statusError classifies a non-200 completions response. The provider's own
// error message is used as detail when the body carries one.
func statusError(code int, body []byte) error {
	detail := fmt.Sprintf("provider returned %d: %s", code, errorMessage(body))

	var kind error
	switch {
	case code == http.StatusTooManyRequests:
		kind = domain.ErrRateLimit
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		kind = domain.ErrAuthInvalid
	case code == http.StatusRequestEntityTooLarge:
		kind = domain.ErrContextOverflow
	case code >= 500:
		kind = domain.ErrProviderError
	default:
		kind = domain.ErrInvalidInput
	}
	return fmt.Errorf("%w: %s", kind, detail)
}

// errorMessage pulls error.message out of an OpenAI-style error body and
// falls back to the trimmed raw body.
func errorMessage(body []byte) string {
	var wire struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		msg = wire.Error.Message
	}
	if len(msg) > maxErrorDetail {
		msg = msg[:maxErrorDetail] + "..."
	}
	return msg
}
