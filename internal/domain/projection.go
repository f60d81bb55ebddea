package domain

import (
	"time"

	"github.com/samber/lo"
)

// ActivityInput is the write-side projection of a ParsedActivity. Exactly one
// detail group is set, matching ActivityType. Unset groups and unset optional
// fields are omitted from the encoded body rather than sent as null.
type ActivityInput struct {
	ActivityType  ActivityType        `json:"activityType"`
	FeedDetails   *FeedDetailsInput   `json:"feedDetails,omitempty"`
	DiaperDetails *DiaperDetailsInput `json:"diaperDetails,omitempty"`
	SleepDetails  *SleepDetailsInput  `json:"sleepDetails,omitempty"`
}

type FeedDetailsInput struct {
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	AmountMl  *int       `json:"amountMl,omitempty"`
	FeedType  *FeedType  `json:"feedType,omitempty"`
}

type DiaperDetailsInput struct {
	ChangedAt time.Time `json:"changedAt"`
	HadPee    *bool     `json:"hadPee,omitempty"`
	HadPoop   bool      `json:"hadPoop"`
}

type SleepDetailsInput struct {
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Project maps a parsed activity onto the write schema. Derived fields
// (durations, the active flag) are dropped; the backend recomputes them.
func Project(a ParsedActivity) ActivityInput {
	return MatchActivity(a,
		func(f Feed) ActivityInput {
			return ActivityInput{
				ActivityType: ActivityTypeFeed,
				FeedDetails: &FeedDetailsInput{
					StartTime: f.StartTime,
					EndTime:   copyPtr(f.EndTime),
					AmountMl:  copyPtr(f.AmountMl),
					FeedType:  copyPtr(f.FeedType),
				},
			}
		},
		func(d Diaper) ActivityInput {
			return ActivityInput{
				ActivityType: ActivityTypeDiaper,
				DiaperDetails: &DiaperDetailsInput{
					ChangedAt: d.ChangedAt,
					HadPee:    lo.ToPtr(d.HadPee),
					HadPoop:   d.HadPoop,
				},
			}
		},
		func(s Sleep) ActivityInput {
			return ActivityInput{
				ActivityType: ActivityTypeSleep,
				SleepDetails: &SleepDetailsInput{
					StartTime: s.StartTime,
					EndTime:   copyPtr(s.EndTime),
				},
			}
		},
	)
}

// ProjectAll projects every activity, preserving order.
func ProjectAll(activities []ParsedActivity) []ActivityInput {
	return lo.Map(activities, func(a ParsedActivity, _ int) ActivityInput {
		return Project(a)
	})
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
