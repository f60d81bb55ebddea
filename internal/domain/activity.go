package domain

import "time"

// ActivityType tags the variant of a care activity.
type ActivityType string

const (
	ActivityTypeFeed   ActivityType = "FEED"
	ActivityTypeDiaper ActivityType = "DIAPER"
	ActivityTypeSleep  ActivityType = "SLEEP"
)

// FeedType distinguishes formula from breast milk feeds.
type FeedType string

const (
	FeedTypeFormula    FeedType = "FORMULA"
	FeedTypeBreastMilk FeedType = "BREAST_MILK"
)

// ParsedActivity is a backend-proposed, not yet committed care event.
// It is sealed: the only implementations are Feed, Diaper and Sleep.
type ParsedActivity interface {
	Type() ActivityType
	Accept(v ActivityVisitor)
	sealed()
}

// ActivityVisitor is implemented by every consumer that needs to branch on
// the activity variant. Adding a variant adds a method here.
type ActivityVisitor interface {
	VisitFeed(Feed)
	VisitDiaper(Diaper)
	VisitSleep(Sleep)
}

// Feed is a proposed feeding.
type Feed struct {
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	AmountMl        *int       `json:"amountMl,omitempty"`
	FeedType        *FeedType  `json:"feedType,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
}

func (Feed) Type() ActivityType         { return ActivityTypeFeed }
func (f Feed) Accept(v ActivityVisitor) { v.VisitFeed(f) }
func (Feed) sealed()                    {}

// Diaper is a proposed diaper change.
type Diaper struct {
	ChangedAt time.Time `json:"changedAt"`
	HadPee    bool      `json:"hadPee"`
	HadPoop   bool      `json:"hadPoop"`
}

func (Diaper) Type() ActivityType         { return ActivityTypeDiaper }
func (d Diaper) Accept(v ActivityVisitor) { v.VisitDiaper(d) }
func (Diaper) sealed()                    {}

// Sleep is a proposed sleep. IsActive is set when the baby is still asleep.
type Sleep struct {
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	IsActive        *bool      `json:"isActive,omitempty"`
}

func (Sleep) Type() ActivityType         { return ActivityTypeSleep }
func (s Sleep) Accept(v ActivityVisitor) { v.VisitSleep(s) }
func (Sleep) sealed()                    {}

// MatchActivity dispatches a to exactly one of the handlers and returns its result.
func MatchActivity[T any](a ParsedActivity, onFeed func(Feed) T, onDiaper func(Diaper) T, onSleep func(Sleep) T) T {
	m := &matcher[T]{onFeed: onFeed, onDiaper: onDiaper, onSleep: onSleep}
	a.Accept(m)
	return m.out
}

type matcher[T any] struct {
	onFeed   func(Feed) T
	onDiaper func(Diaper) T
	onSleep  func(Sleep) T
	out      T
}

func (m *matcher[T]) VisitFeed(f Feed)     { m.out = m.onFeed(f) }
func (m *matcher[T]) VisitDiaper(d Diaper) { m.out = m.onDiaper(d) }
func (m *matcher[T]) VisitSleep(s Sleep)   { m.out = m.onSleep(s) }
