package channel

import "context"

// Channel identifies a communication channel usable for lead outreach.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
	ChannelSMS      Channel = "sms"
	ChannelPhone    Channel = "phone"
)

func Valid(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelLinkedIn, ChannelSMS, ChannelPhone:
		return true
	default:
		return false
	}
}

// SendStatus is the relay's delivery verdict for a single send.
type SendStatus string

const (
	SendStatusSent     SendStatus = "sent"
	SendStatusBounced  SendStatus = "bounced"
	SendStatusRejected SendStatus = "rejected"
)

// Message is a provider-agnostic outbound message.
//
// Rules:
// - No relay/provider SDK calls outside channel adapters.
// - Recipient is a channel-specific contact point (address, handle, E.164).
// - Keep these types provider-agnostic; raw relay payloads belong in metadata.
type Message struct {
	WorkspaceID string  `json:"workspace_id"`
	LeadID      string  `json:"lead_id"`
	Channel     Channel `json:"channel"`
	Recipient   string  `json:"recipient"`
	Subject     string  `json:"subject,omitempty"`
	Body        string  `json:"body"`
}

// SendResult reports the relay boundary outcome.
type SendResult struct {
	Status SendStatus `json:"status"`

	// ExternalID is the relay's identifier for the accepted message.
	// Empty when the message was not accepted.
	ExternalID string `json:"external_id,omitempty"`
}

// Executor sends rendered messages over a channel.
type Executor interface {
	Name() string
	Send(ctx context.Context, msg Message) (SendResult, error)
}
