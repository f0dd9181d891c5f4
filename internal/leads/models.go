package leads

import (
	"time"

	"autopilot-platform/internal/channel"
)

// Lead models are tenant-scoped (workspace_id required everywhere).

// Profile is the contactable identity of a lead plus the consent and
// firmographic data the autonomous engine needs.
type Profile struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Name  string `json:"name,omitempty" db:"name"`
	Email string `json:"email,omitempty" db:"email"`
	// Phone is E.164 where possible; used for both sms and phone channels.
	Phone          string `json:"phone,omitempty" db:"phone"`
	LinkedInHandle string `json:"linkedin_handle,omitempty" db:"linkedin_handle"`

	// Consent records explicit per-channel opt-in. Absence means no consent.
	Consent map[channel.Channel]bool `json:"consent,omitempty"`

	// Firmographics drive learning-context bucketing.
	Industry  string `json:"industry,omitempty" db:"industry"`
	Employees int    `json:"employees,omitempty" db:"employees"`

	Preferences Preferences `json:"preferences"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Preferences control how the escalation machine works a lead.
type Preferences struct {
	// ChannelPriorities is ordered highest priority first. Equal priorities
	// are resolved by list position.
	ChannelPriorities []channel.Channel `json:"channel_priorities"`

	// ResponseWindow is how long to wait on a channel before escalating.
	ResponseWindow time.Duration `json:"response_window"`
}

// ContactPoint returns the usable contact point for a channel, if any.
func (p Profile) ContactPoint(ch channel.Channel) (string, bool) {
	switch ch {
	case channel.ChannelEmail:
		return p.Email, p.Email != ""
	case channel.ChannelLinkedIn:
		return p.LinkedInHandle, p.LinkedInHandle != ""
	case channel.ChannelSMS, channel.ChannelPhone:
		return p.Phone, p.Phone != ""
	default:
		return "", false
	}
}

// HasOptedIn reports explicit consent for a channel. Missing entries fail
// closed.
func (p Profile) HasOptedIn(ch channel.Channel) bool {
	if p.Consent == nil {
		return false
	}
	return p.Consent[ch]
}
