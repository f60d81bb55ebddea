package backend

import (
	"context"
	"fmt"

	"babybaton/internal/domain"
)

const careSessionFields = `
    id
    status
    startedAt
    completedAt
    notes
    caregiver { id name }
    summary {
      totalFeeds
      totalMl
      totalDiaperChanges
      totalSleepMinutes
      lastFeedTime
      lastSleepTime
      currentlyAsleep
    }`

const currentSessionQuery = `query GetCurrentSession {
  getCurrentSession {` + careSessionFields + `
  }
}`

const recentSessionsQuery = `query GetRecentCareSessions($limit: Int) {
  getRecentCareSessions(limit: $limit) {` + careSessionFields + `
  }
}`

// DefaultRecentLimit is the number of recent sessions the dashboard shows.
const DefaultRecentLimit = 10

type currentSessionData struct {
	GetCurrentSession *domain.CareSession `json:"getCurrentSession"`
}

type recentSessionsData struct {
	GetRecentCareSessions []domain.CareSession `json:"getRecentCareSessions"`
}

// CurrentSession returns the in-progress session, or nil when there is none.
func (c *Client) CurrentSession(ctx context.Context, headers domain.TenancyHeaders) (*domain.CareSession, error) {
	var data currentSessionData
	err := c.postJSON(ctx, headers, graphqlRequest{
		Query:         currentSessionQuery,
		OperationName: "GetCurrentSession",
	}, &data)
	if err != nil {
		return nil, transportFailure(err)
	}
	return data.GetCurrentSession, nil
}

// RecentSessions returns up to limit sessions, newest first as ordered by the server.
func (c *Client) RecentSessions(ctx context.Context, headers domain.TenancyHeaders, limit int) ([]domain.CareSession, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	var data recentSessionsData
	err := c.postJSON(ctx, headers, graphqlRequest{
		Query:         recentSessionsQuery,
		OperationName: "GetRecentCareSessions",
		Variables:     map[string]any{"limit": limit},
	}, &data)
	if err != nil {
		return nil, transportFailure(err)
	}
	if data.GetRecentCareSessions == nil {
		return nil, transportFailure(fmt.Errorf("getRecentCareSessions returned null"))
	}
	return data.GetRecentCareSessions, nil
}
