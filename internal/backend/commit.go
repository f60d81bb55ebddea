package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"babybaton/internal/domain"
)

const addActivitiesMutation = `mutation AddActivities($activities: [ActivityInput!]!) {
  addActivities(activities: $activities) {
    id
    familyId
    status
    startedAt
    completedAt
    notes
  }
}`

type careSessionRef struct {
	ID          string                   `json:"id"`
	FamilyID    string                   `json:"familyId"`
	Status      domain.CareSessionStatus `json:"status"`
	StartedAt   time.Time                `json:"startedAt"`
	CompletedAt *time.Time               `json:"completedAt"`
	Notes       *string                  `json:"notes"`
}

type addActivitiesData struct {
	AddActivities *careSessionRef `json:"addActivities"`
}

// CommitActivities submits one batch. A GraphQL error response means the
// server refused the batch and maps to CommitRejected; anything else is a
// transport failure.
func (c *Client) CommitActivities(ctx context.Context, headers domain.TenancyHeaders, activities []domain.ActivityInput) (domain.CommitResult, error) {
	var data addActivitiesData
	err := c.postJSON(ctx, headers, graphqlRequest{
		Query:         addActivitiesMutation,
		OperationName: "AddActivities",
		Variables:     map[string]any{"activities": activities},
	}, &data)
	if err != nil {
		var gqlErrs GraphQLErrors
		if errors.As(err, &gqlErrs) {
			return domain.CommitResult{}, domain.NewFailure(domain.ErrorCodeCommitRejected, strings.Join(gqlErrs.Messages(), "; "), err)
		}
		return domain.CommitResult{}, transportFailure(err)
	}
	if data.AddActivities == nil {
		return domain.CommitResult{}, transportFailure(fmt.Errorf("addActivities returned null"))
	}

	ref := data.AddActivities
	return domain.CommitResult{
		SessionID:   ref.ID,
		FamilyID:    ref.FamilyID,
		Status:      ref.Status,
		StartedAt:   ref.StartedAt,
		CompletedAt: ref.CompletedAt,
		Notes:       ref.Notes,
	}, nil
}
