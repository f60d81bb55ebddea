package domain

import (
	"encoding/json"
	"fmt"
)

// ActivityEnvelope is the wire shape shared by the backend and the UI: a type
// tag plus one populated detail group.
type ActivityEnvelope struct {
	ActivityType  ActivityType `json:"activityType"`
	FeedDetails   *Feed        `json:"feedDetails,omitempty"`
	DiaperDetails *Diaper      `json:"diaperDetails,omitempty"`
	SleepDetails  *Sleep       `json:"sleepDetails,omitempty"`
}

// Envelope wraps a parsed activity for encoding.
func Envelope(a ParsedActivity) ActivityEnvelope {
	return MatchActivity(a,
		func(f Feed) ActivityEnvelope {
			return ActivityEnvelope{ActivityType: ActivityTypeFeed, FeedDetails: &f}
		},
		func(d Diaper) ActivityEnvelope {
			return ActivityEnvelope{ActivityType: ActivityTypeDiaper, DiaperDetails: &d}
		},
		func(s Sleep) ActivityEnvelope {
			return ActivityEnvelope{ActivityType: ActivityTypeSleep, SleepDetails: &s}
		},
	)
}

// Activity unwraps the envelope. It fails when the tag is unknown or the
// matching detail group is missing.
func (e ActivityEnvelope) Activity() (ParsedActivity, error) {
	switch e.ActivityType {
	case ActivityTypeFeed:
		if e.FeedDetails == nil {
			return nil, fmt.Errorf("%s activity is missing feedDetails", e.ActivityType)
		}
		return *e.FeedDetails, nil
	case ActivityTypeDiaper:
		if e.DiaperDetails == nil {
			return nil, fmt.Errorf("%s activity is missing diaperDetails", e.ActivityType)
		}
		return *e.DiaperDetails, nil
	case ActivityTypeSleep:
		if e.SleepDetails == nil {
			return nil, fmt.Errorf("%s activity is missing sleepDetails", e.ActivityType)
		}
		return *e.SleepDetails, nil
	case "":
		return nil, fmt.Errorf("missing activityType")
	default:
		return nil, fmt.Errorf("unsupported activityType %q", e.ActivityType)
	}
}

type interpretationResultJSON struct {
	Success          bool               `json:"success"`
	RawText          string             `json:"rawText"`
	ParsedActivities []ActivityEnvelope `json:"parsedActivities"`
	Warnings         []string           `json:"warnings"`
}

func (r InterpretationResult) MarshalJSON() ([]byte, error) {
	out := interpretationResultJSON{
		Success:          r.Success,
		RawText:          r.RawText,
		ParsedActivities: make([]ActivityEnvelope, 0, len(r.ParsedActivities)),
		Warnings:         r.Warnings,
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	for _, a := range r.ParsedActivities {
		out.ParsedActivities = append(out.ParsedActivities, Envelope(a))
	}
	return json.Marshal(out)
}

// UnwrapActivities decodes envelopes leniently: entries that cannot be
// unwrapped become warnings instead of failing the whole result.
func UnwrapActivities(envelopes []ActivityEnvelope) ([]ParsedActivity, []string) {
	var activities []ParsedActivity
	var warnings []string
	for i, env := range envelopes {
		activity, err := env.Activity()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("activity %d skipped: %v", i+1, err))
			continue
		}
		activities = append(activities, activity)
	}
	return activities, warnings
}
