package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

const maxSSELine = 1024 * 1024

// parseSSEStream reads SSE lines from body and converts each data payload into
// a StreamDelta with parseLine. The channel closes when the stream ends, a
// terminal delta (Done or Err) is delivered, or ctx is cancelled. A read
// failure is reported as a final delta carrying Err.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))

			if bytes.Equal(data, []byte("[DONE]")) {
				send(domain.StreamDelta{Done: true})
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}
			if !send(*delta) {
				return
			}
			if delta.Done || delta.Err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(domain.StreamDelta{Err: fmt.Errorf("%w: %v", domain.ErrStreamFailed, err)})
		}
	}()
	return ch
}
