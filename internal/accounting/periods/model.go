package periods

import "time"

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// Period represents a fiscal period window. Bounds are inclusive dates.
type Period struct {
	ID         int64
	CompanyID  int64
	Code       string
	StartDate  time.Time
	EndDate    time.Time
	Status     PeriodStatus
	ClosedAt   *time.Time
	ClosedBy   *int64
	ReopenedAt *time.Time
	ReopenedBy *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Contains reports whether date falls inside the period, inclusive on both ends.
func (p Period) Contains(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(p.StartDate)) && !d.After(DateOnly(p.EndDate))
}

// Overlaps reports whether two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return !DateOnly(p.EndDate).Before(DateOnly(other.StartDate)) && !DateOnly(other.EndDate).Before(DateOnly(p.StartDate))
}

// IsOpen reports whether postings may land in the period.
func (p Period) IsOpen() bool {
	return p.Status == PeriodStatusOpen
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreateInput describes a new period.
type CreateInput struct {
	Code      string    `json:"code" validate:"required,max=32"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}
