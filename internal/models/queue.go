package models

import "time"

// QueueMode controls how the assistant orchestrator treats tickets in a queue.
type QueueMode string

const (
	// QueueModeOff disables assistant handling for the queue.
	QueueModeOff QueueMode = "off"
	// QueueModeTriage lets the assistant route and tag but never reply.
	QueueModeTriage QueueMode = "triage"
	// QueueModeReply additionally permits automated replies.
	QueueModeReply QueueMode = "reply"
)

// Queue is a routing bucket tickets are assigned to.
type Queue struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenantId"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	Mode      QueueMode `json:"mode"`
	Prompt    string    `json:"prompt,omitempty"`
	AutoReply bool      `json:"autoReply"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AssistantEnabled reports whether tickets in this queue qualify for
// assistant decisioning at all.
func (q *Queue) AssistantEnabled() bool {
	return q != nil && (q.Mode == QueueModeTriage || q.Mode == QueueModeReply)
}

// RepliesAllowed reports whether the assistant may send automated replies.
func (q *Queue) RepliesAllowed() bool {
	return q != nil && q.Mode == QueueModeReply && q.AutoReply
}

// Tag is a named, colored label, unique per tenant, many-to-many with tickets.
type Tag struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenantId"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
}

// User is an agent belonging to a tenant.
type User struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenantId"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
}

// ChannelConnection is a configured endpoint of a messaging channel
// belonging to a tenant (e.g. one WhatsApp session).
type ChannelConnection struct {
	ID              int64  `json:"id"`
	TenantID        int64  `json:"tenantId"`
	Name            string `json:"name"`
	Channel         string `json:"channel"`
	Status          string `json:"status"`
	FarewellMessage string `json:"farewellMessage,omitempty"`
}
