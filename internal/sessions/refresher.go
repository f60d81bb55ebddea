// Package sessions keeps the local session views in step with the backend.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"babybaton/internal/domain"
	"babybaton/internal/observe"
	"babybaton/internal/ports"
)

const defaultRecentLimit = 10

// Cache is where refreshed views are kept between runs.
type Cache interface {
	ReplaceCurrentSession(ctx context.Context, session *domain.CareSession, at time.Time) error
	ReplaceRecentSessions(ctx context.Context, sessions []domain.CareSession, at time.Time) error
	LoadSessions(ctx context.Context) (domain.SessionSnapshot, error)
}

// Refresher re-fetches the current and recent session views, caches them and
// pushes the combined snapshot to the view sink. Both refreshes may run at
// the same time.
type Refresher struct {
	reader      ports.SessionReader
	identity    ports.IdentityProvider
	cache       Cache
	sink        ports.SessionViewSink
	recentLimit int
	logger      *slog.Logger
	now         func() time.Time

	mu sync.Mutex
}

// NewRefresher builds a refresher. sink may be nil.
func NewRefresher(reader ports.SessionReader, identity ports.IdentityProvider, cache Cache, sink ports.SessionViewSink, recentLimit int, logger *slog.Logger) *Refresher {
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		reader:      reader,
		identity:    identity,
		cache:       cache,
		sink:        sink,
		recentLimit: recentLimit,
		logger:      logger,
		now:         time.Now,
	}
}

func (r *Refresher) RefreshCurrentSession(ctx context.Context) error {
	headers, err := r.identity.Headers(ctx)
	if err != nil {
		return err
	}

	ctx, span := observe.StartSpan(ctx, "sessions.current")
	defer span.End()

	started := time.Now()
	session, err := r.reader.CurrentSession(ctx, headers)
	observe.ObserveBackendCall("current_session", err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("fetch current session: %w", err)
	}

	return r.store(ctx, func(at time.Time) error {
		return r.cache.ReplaceCurrentSession(ctx, session, at)
	})
}

func (r *Refresher) RefreshRecentSessions(ctx context.Context) error {
	headers, err := r.identity.Headers(ctx)
	if err != nil {
		return err
	}

	ctx, span := observe.StartSpan(ctx, "sessions.recent")
	defer span.End()

	started := time.Now()
	sessions, err := r.reader.RecentSessions(ctx, headers, r.recentLimit)
	observe.ObserveBackendCall("recent_sessions", err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("fetch recent sessions: %w", err)
	}

	return r.store(ctx, func(at time.Time) error {
		return r.cache.ReplaceRecentSessions(ctx, sessions, at)
	})
}

// Snapshot returns the cached views without touching the network.
func (r *Refresher) Snapshot(ctx context.Context) (domain.SessionSnapshot, error) {
	return r.cache.LoadSessions(ctx)
}

// store applies one cache write and publishes the resulting snapshot. Writes
// and publishes are serialized so the sink never sees an older snapshot after
// a newer one.
func (r *Refresher) store(ctx context.Context, write func(time.Time) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := write(r.now()); err != nil {
		return fmt.Errorf("cache sessions: %w", err)
	}
	snapshot, err := r.cache.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("load cached sessions: %w", err)
	}
	if r.sink != nil {
		r.sink.SessionsRefreshed(snapshot)
	}
	r.logger.Debug("session views refreshed", "current", snapshot.Current != nil, "recent", len(snapshot.Recent))
	return nil
}
