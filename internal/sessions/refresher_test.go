package sessions

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"babybaton/internal/domain"
	"babybaton/internal/observe"
	"babybaton/internal/store"
)

type fakeReader struct {
	mu         sync.Mutex
	current    *domain.CareSession
	recent     []domain.CareSession
	err        error
	lastLimit  int
	lastFamily uuid.UUID
}

func (f *fakeReader) CurrentSession(_ context.Context, headers domain.TenancyHeaders) (*domain.CareSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFamily = headers.FamilyID
	return f.current, f.err
}

func (f *fakeReader) RecentSessions(_ context.Context, headers domain.TenancyHeaders, limit int) ([]domain.CareSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFamily = headers.FamilyID
	f.lastLimit = limit
	return f.recent, f.err
}

type fakeIdentity struct {
	headers domain.TenancyHeaders
	err     error
}

func (f fakeIdentity) Headers(context.Context) (domain.TenancyHeaders, error) {
	return f.headers, f.err
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []domain.SessionSnapshot
}

func (s *recordingSink) SessionsRefreshed(snapshot domain.SessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
}

func (s *recordingSink) last() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[len(s.snapshots)-1]
}

func openCache(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRefreshBothViewsConcurrently(t *testing.T) {
	t.Parallel()

	family := uuid.New()
	reader := &fakeReader{
		current: &domain.CareSession{ID: "s-2", Status: domain.CareSessionInProgress},
		recent:  []domain.CareSession{{ID: "s-2"}, {ID: "s-1"}},
	}
	sink := &recordingSink{}
	refresher := NewRefresher(reader, fakeIdentity{headers: domain.TenancyHeaders{FamilyID: family}}, openCache(t), sink, 5, observe.Discard())
	refresher.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }

	var g errgroup.Group
	g.Go(func() error { return refresher.RefreshCurrentSession(context.Background()) })
	g.Go(func() error { return refresher.RefreshRecentSessions(context.Background()) })
	require.NoError(t, g.Wait())

	require.Equal(t, family, reader.lastFamily)
	require.Equal(t, 5, reader.lastLimit)
	require.Len(t, sink.snapshots, 2)

	final := sink.last()
	require.NotNil(t, final.Current)
	require.Equal(t, "s-2", final.Current.ID)
	require.Len(t, final.Recent, 2)

	cached, err := refresher.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, final, cached)
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	t.Parallel()

	cache := openCache(t)
	require.NoError(t, cache.ReplaceRecentSessions(context.Background(), []domain.CareSession{{ID: "s-1"}}, time.Now()))

	boom := errors.New("backend down")
	sink := &recordingSink{}
	refresher := NewRefresher(&fakeReader{err: boom}, fakeIdentity{}, cache, sink, 0, observe.Discard())

	err := refresher.RefreshRecentSessions(context.Background())
	require.ErrorIs(t, err, boom)
	require.Empty(t, sink.snapshots)

	cached, err := refresher.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, cached.Recent, 1)
}

func TestRefreshRequiresIdentity(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{}
	refresher := NewRefresher(reader, fakeIdentity{err: domain.NewFailure(domain.ErrorCodeUnauthenticated, "signed out", nil)}, openCache(t), nil, 0, observe.Discard())

	require.ErrorIs(t, refresher.RefreshCurrentSession(context.Background()), domain.ErrUnauthenticated)
	require.Zero(t, reader.lastLimit)
}

func TestRefreshClearsFinishedCurrentSession(t *testing.T) {
	t.Parallel()

	cache := openCache(t)
	require.NoError(t, cache.ReplaceCurrentSession(context.Background(), &domain.CareSession{ID: "s-1"}, time.Now()))

	sink := &recordingSink{}
	refresher := NewRefresher(&fakeReader{}, fakeIdentity{}, cache, sink, 0, observe.Discard())
	require.NoError(t, refresher.RefreshCurrentSession(context.Background()))
	require.Nil(t, sink.last().Current)
}
