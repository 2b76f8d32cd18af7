package models

import "time"

type TicketStatus string

const (
	TicketStatusPending TicketStatus = "pending"
	TicketStatusOpen    TicketStatus = "open"
	TicketStatusClosed  TicketStatus = "closed"
)

// Valid reports whether s is one of the three ticket states.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusPending, TicketStatusOpen, TicketStatusClosed:
		return true
	}
	return false
}

// Ticket is one conversation thread between a tenant and a contact over one
// channel connection. A contact has at most one non-closed ticket per
// channel connection.
type Ticket struct {
	ID                   int64        `json:"id"`
	TenantID             int64        `json:"tenantId"`
	ContactID            int64        `json:"contactId"`
	ChannelConnectionID  int64        `json:"channelConnectionId"`
	QueueID              *int64       `json:"queueId,omitempty"`
	UserID               *int64       `json:"userId,omitempty"`
	Status               TicketStatus `json:"status"`
	Channel              string       `json:"channel"`
	LastMessage          string       `json:"lastMessage"`
	LeadScore            int          `json:"leadScore"`
	UnreadMessages       int          `json:"unreadMessages"`
	IsGroup              bool         `json:"isGroup"`
	SLADueAt             *time.Time   `json:"slaDueAt,omitempty"`
	FirstHumanResponseAt *time.Time   `json:"firstHumanResponseAt,omitempty"`
	ResolvedAt           *time.Time   `json:"resolvedAt,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`

	// Associations loaded for notification payloads
	Contact *Contact `json:"contact,omitempty"`
	Queue   *Queue   `json:"queue,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

// TicketUpdate describes the mutable fields of a ticket update request.
// Nil fields are left untouched; TagIDs, when present, replaces the full set.
type TicketUpdate struct {
	Status              *TicketStatus `json:"status,omitempty"`
	UserID              *int64        `json:"userId,omitempty"`
	QueueID             *int64        `json:"queueId,omitempty"`
	ChannelConnectionID *int64        `json:"channelConnectionId,omitempty"`
	LeadScore           *int          `json:"leadScore,omitempty"`
	TagIDs              []int64       `json:"tagIds,omitempty"`
}
