package campaigns

import "time"

// Campaign models are tenant-scoped (workspace_id required everywhere).

type Campaign struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Name   string `json:"name" db:"name"`
	Status Status `json:"status" db:"status"`

	// Scheduled send slot. DayOfWeek follows time.Weekday (0 = Sunday).
	ScheduledDay  int `json:"scheduled_day" db:"scheduled_day"`
	ScheduledHour int `json:"scheduled_hour" db:"scheduled_hour"`

	// HasActiveTest is true while an A/B test is running for this campaign.
	HasActiveTest bool `json:"has_active_test" db:"has_active_test"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// MetricSnapshot is one observation of campaign engagement, captured per
// send batch. Snapshots are immutable once written.
type MetricSnapshot struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`

	Sent   int `json:"sent" db:"sent"`
	Opens  int `json:"opens" db:"opens"`
	Clicks int `json:"clicks" db:"clicks"`

	// SentAt is the batch send time; bucketing uses its weekday and hour.
	SentAt     time.Time `json:"sent_at" db:"sent_at"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}

// ClickToOpen is the engagement ratio used by decline detection.
// Returns 0 when there were no opens.
func (s MetricSnapshot) ClickToOpen() float64 {
	if s.Opens <= 0 {
		return 0
	}
	return float64(s.Clicks) / float64(s.Opens)
}
