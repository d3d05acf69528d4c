// Package tool hosts the tools agents may call during a turn and the shared
// plumbing (parameter parsing, tracing, schema validation, registry) around
// them.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/tracer"
)

// retryHint tells the model a failed call may work if repeated.
const retryHint = " (transient error, may succeed on retry)"

// Execute is the shared tool pipeline: start a span, decode params into P and
// run the tool. Undecodable params and errors returned by run become error
// results carrying the record built by failed, so a failed invocation is
// still kept. Tool failures never surface as Go errors; the model sees them
// as text.
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	run func(ctx context.Context, span trace.Span, params P) (*domain.ToolResult, error),
	failed func(params P, err error) domain.ToolCallRecord,
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	var p P
	if err := json.Unmarshal(rawParams, &p); err != nil {
		err = domain.NewSubSystemError("tool", spanName, domain.ErrInvalidInput, fmt.Sprintf("invalid params: %v", err))
		return failure(span, logger, spanName, p, err, failed), nil
	}

	result, err := run(ctx, span, p)
	if err != nil {
		return failure(span, logger, spanName, p, err, failed), nil
	}
	if result.IsError {
		tracer.RecordError(span, fmt.Errorf("%s", result.Content))
	} else {
		tracer.SetOK(span)
	}
	return result, nil
}

func failure[P any](span trace.Span, logger *slog.Logger, spanName string, p P, err error, failed func(P, error) domain.ToolCallRecord) *domain.ToolResult {
	tracer.RecordError(span, err)
	logger.Warn(spanName+" failed", "error", err)

	content := "Error: " + err.Error()
	if classifyToolError(err) {
		content += retryHint
	}
	res := &domain.ToolResult{IsError: true, Content: content}
	if failed != nil {
		res.Record = failed(p, err)
	}
	return res
}
