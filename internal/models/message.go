package models

import "time"

// AckLevel is the ordinal delivery-confirmation state of a message.
// It is monotonically non-decreasing once a message row exists.
type AckLevel int

const (
	AckNone      AckLevel = 0
	AckSent      AckLevel = 1
	AckDelivered AckLevel = 2
	AckRead      AckLevel = 3
	AckPlayed    AckLevel = 4
)

// Merge returns the higher of the two levels.
func (a AckLevel) Merge(other AckLevel) AckLevel {
	if other > a {
		return other
	}
	return a
}

// Message is one unit of conversation content, keyed by a provider-supplied
// identifier when available, otherwise by a minted synthetic one.
type Message struct {
	ID          string    `json:"id"`
	TenantID    int64     `json:"tenantId"`
	TicketID    int64     `json:"ticketId"`
	ContactID   *int64    `json:"contactId,omitempty"`
	Body        string    `json:"body"`
	FromMe      bool      `json:"fromMe"`
	Read        bool      `json:"read"`
	Ack         AckLevel  `json:"ack"`
	MediaType   string    `json:"mediaType,omitempty"`
	MediaURL    string    `json:"mediaUrl,omitempty"`
	QuotedMsgID *string   `json:"quotedMsgId,omitempty"`
	Deleted     bool      `json:"isDeleted"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
