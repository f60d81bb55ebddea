package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity is the persisted login state of this device.
type Identity struct {
	FamilyID      uuid.UUID `json:"familyId"`
	CaregiverID   uuid.UUID `json:"caregiverId"`
	CaregiverName string    `json:"caregiverName"`
	FamilyName    string    `json:"familyName"`
	BabyName      string    `json:"babyName"`
}

// DisplayName returns the caregiver name, falling back to the first word of
// the family name for logins saved before the name was recorded.
func (i Identity) DisplayName() string {
	if name := strings.TrimSpace(i.CaregiverName); name != "" {
		return name
	}
	if fields := strings.Fields(i.FamilyName); len(fields) > 0 {
		return fields[0]
	}
	return "User"
}

// TenancyHeaders scope one backend call to a household.
type TenancyHeaders struct {
	FamilyID    uuid.UUID
	CaregiverID uuid.UUID
	Timezone    string
}

// CareSessionStatus mirrors the backend enum.
type CareSessionStatus string

const (
	CareSessionInProgress CareSessionStatus = "IN_PROGRESS"
	CareSessionCompleted  CareSessionStatus = "COMPLETED"
)

// CommitResult is the session the committed activities were attributed to.
type CommitResult struct {
	SessionID   string            `json:"sessionId"`
	FamilyID    string            `json:"familyId"`
	Status      CareSessionStatus `json:"status"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Notes       *string           `json:"notes,omitempty"`
}

// Caregiver is the read model of a family member.
type Caregiver struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CareSessionSummary aggregates a session's activities.
type CareSessionSummary struct {
	TotalFeeds         int        `json:"totalFeeds"`
	TotalMl            int        `json:"totalMl"`
	TotalDiaperChanges int        `json:"totalDiaperChanges"`
	TotalSleepMinutes  int        `json:"totalSleepMinutes"`
	LastFeedTime       *time.Time `json:"lastFeedTime,omitempty"`
	LastSleepTime      *time.Time `json:"lastSleepTime,omitempty"`
	CurrentlyAsleep    bool       `json:"currentlyAsleep"`
}

// CareSession is the read model shown on the dashboard.
type CareSession struct {
	ID          string             `json:"id"`
	Status      CareSessionStatus  `json:"status"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	Notes       *string            `json:"notes,omitempty"`
	Caregiver   Caregiver          `json:"caregiver"`
	Summary     CareSessionSummary `json:"summary"`
}

// SessionSnapshot is what the session views display after a refresh.
type SessionSnapshot struct {
	Current     *CareSession  `json:"current,omitempty"`
	Recent      []CareSession `json:"recent"`
	RefreshedAt time.Time     `json:"refreshedAt"`
}
