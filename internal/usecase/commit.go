package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"babybaton/internal/domain"
	"babybaton/internal/observe"
	"babybaton/internal/ports"
)

const defaultCommitTimeout = 20 * time.Second

// ActivityCommitClient projects approved activities onto the write schema and
// submits them as one batch.
type ActivityCommitClient struct {
	identity ports.IdentityProvider
	backend  ports.ActivityCommitter
	timeout  time.Duration
	logger   *slog.Logger
}

func NewActivityCommitClient(identity ports.IdentityProvider, backend ports.ActivityCommitter, timeout time.Duration, logger *slog.Logger) *ActivityCommitClient {
	if timeout <= 0 {
		timeout = defaultCommitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityCommitClient{identity: identity, backend: backend, timeout: timeout, logger: logger}
}

// Commit writes activities atomically from the caller's point of view: either
// a session is returned or nothing was committed.
func (c *ActivityCommitClient) Commit(ctx context.Context, activities []domain.ParsedActivity) (domain.CommitResult, error) {
	if len(activities) == 0 {
		return domain.CommitResult{}, ErrNothingToCommit
	}
	headers, err := c.identity.Headers(ctx)
	if err != nil {
		return domain.CommitResult{}, asFailure(err, domain.ErrorCodeUnauthenticated)
	}

	inputs := domain.ProjectAll(activities)

	ctx, span := observe.StartSpan(ctx, "commit.addActivities")
	defer span.End()
	span.SetAttributes(attribute.Int("activities", len(inputs)))

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	result, err := c.backend.CommitActivities(callCtx, headers, inputs)
	observe.ObserveBackendCall("commit", err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return domain.CommitResult{}, err
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return domain.CommitResult{}, domain.NewFailure(domain.ErrorCodeTransport,
				fmt.Sprintf("saving timed out after %s", c.timeout), err)
		}
		return domain.CommitResult{}, asFailure(err, domain.ErrorCodeTransport)
	}

	for _, input := range inputs {
		observe.RecordCommitted(string(input.ActivityType))
	}
	span.SetAttributes(attribute.String("session.id", result.SessionID))
	observe.WithTrace(ctx, c.logger).Info("activities committed", "session", result.SessionID, "count", len(inputs))
	return result, nil
}
