package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"babybaton/internal/domain"
	"babybaton/internal/observe"
	"babybaton/internal/ports"
)

const defaultInterpretTimeout = 60 * time.Second

// InterpretationClient issues exactly one interpretation call per attempt with
// the caregiver's tenancy headers. It never retries and never caches.
type InterpretationClient struct {
	identity   ports.IdentityProvider
	backend    ports.Interpreter
	normalizer ports.TextNormalizer
	timeout    time.Duration
	logger     *slog.Logger
}

// NewInterpretationClient builds the client. normalizer may be nil.
func NewInterpretationClient(identity ports.IdentityProvider, backend ports.Interpreter, normalizer ports.TextNormalizer, timeout time.Duration, logger *slog.Logger) *InterpretationClient {
	if timeout <= 0 {
		timeout = defaultInterpretTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InterpretationClient{
		identity:   identity,
		backend:    backend,
		normalizer: normalizer,
		timeout:    timeout,
		logger:     logger,
	}
}

// Interpret returns a well-formed result (successful or not) or a *domain.Failure.
// A result with success=false is not an error.
func (c *InterpretationClient) Interpret(ctx context.Context, payload domain.InterpretPayload) (domain.InterpretationResult, error) {
	headers, err := c.identity.Headers(ctx)
	if err != nil {
		return domain.InterpretationResult{}, asFailure(err, domain.ErrorCodeUnauthenticated)
	}

	if payload.IsText() && c.normalizer != nil {
		text, err := c.normalizer.Apply(payload.Text)
		if err != nil {
			c.logger.Warn("vocabulary substitution failed, sending transcript as spoken", "err", err)
		} else {
			payload.Text = text
		}
	}
	if payload.IsText() && strings.TrimSpace(payload.Text) == "" {
		return domain.InterpretationResult{}, domain.NewFailure(domain.ErrorCodeNoRecording, "nothing was said", nil)
	}

	ctx, span := observe.StartSpan(ctx, "interpretation.interpret")
	defer span.End()
	span.SetAttributes(attribute.Bool("payload.text", payload.IsText()))

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	result, err := c.backend.Interpret(callCtx, headers, payload)
	observe.ObserveBackendCall("interpret", err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return domain.InterpretationResult{}, err
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return domain.InterpretationResult{}, domain.NewFailure(domain.ErrorCodeTransport,
				fmt.Sprintf("interpretation timed out after %s", c.timeout), err)
		}
		return domain.InterpretationResult{}, asFailure(err, domain.ErrorCodeTransport)
	}

	span.SetAttributes(
		attribute.Bool("result.success", result.Success),
		attribute.Int("result.activities", len(result.ParsedActivities)),
	)
	observe.WithTrace(ctx, c.logger).Debug("interpretation returned",
		"success", result.Success, "activities", len(result.ParsedActivities), "warnings", len(result.Warnings))
	return result, nil
}

// asFailure keeps a *domain.Failure found in err, otherwise wraps err under fallback.
func asFailure(err error, fallback domain.ErrorCode) *domain.Failure {
	if f, ok := domain.AsFailure(err); ok {
		return f
	}
	return domain.NewFailure(fallback, "", err)
}
