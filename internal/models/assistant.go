package models

// AssistantRequest is the payload POSTed to the decision webhook.
type AssistantRequest struct {
	Event               string              `json:"event"`
	At                  int64               `json:"at"`
	ChannelConnectionID int64               `json:"channelConnectionId"`
	Queue               AssistantQueueInfo  `json:"queue"`
	Ticket              AssistantTicketInfo `json:"ticket"`
	Contact             AssistantContact    `json:"contact"`
	Message             string              `json:"message"`
	RecentMessages      []AssistantMessage  `json:"recentMessages"`
}

type AssistantQueueInfo struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Mode      QueueMode `json:"mode"`
	Prompt    string    `json:"prompt,omitempty"`
	AutoReply bool      `json:"autoReply"`
}

type AssistantTicketInfo struct {
	ID      int64        `json:"id"`
	Status  TicketStatus `json:"status"`
	QueueID *int64       `json:"queueId,omitempty"`
	UserID  *int64       `json:"userId,omitempty"`
}

type AssistantContact struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
	AltID  string `json:"altId,omitempty"`
}

type AssistantMessage struct {
	Body   string `json:"body"`
	FromMe bool   `json:"fromMe"`
}

// AssistantDecision is the webhook response. Every field is optional; an
// empty decision means the conversation is left for a human. LeadScore,
// when present, overrides LeadScoreDelta.
type AssistantDecision struct {
	Reply           string        `json:"reply,omitempty"`
	TransferQueueID *int64        `json:"transferQueueId,omitempty"`
	AssignUserID    *int64        `json:"assignUserId,omitempty"`
	TicketStatus    *TicketStatus `json:"ticketStatus,omitempty"`
	CloseTicket     bool          `json:"closeTicket,omitempty"`
	LeadScore       *int          `json:"leadScore,omitempty"`
	LeadScoreDelta  *int          `json:"leadScoreDelta,omitempty"`
	Tags            []string      `json:"tags,omitempty"`
}

// Empty reports whether the decision requests no mutation at all.
func (d *AssistantDecision) Empty() bool {
	return d.Reply == "" && d.TransferQueueID == nil && d.AssignUserID == nil &&
		d.TicketStatus == nil && !d.CloseTicket && d.LeadScore == nil &&
		d.LeadScoreDelta == nil && len(d.Tags) == 0
}

// ResolveLeadScore applies the dual-mode lead score contract to current.
// An absolute value wins over a delta when both are present; the result
// never drops below zero.
func (d *AssistantDecision) ResolveLeadScore(current int) (int, bool) {
	switch {
	case d.LeadScore != nil:
		score := *d.LeadScore
		if score < 0 {
			score = 0
		}
		return score, true
	case d.LeadScoreDelta != nil:
		score := current + *d.LeadScoreDelta
		if score < 0 {
			score = 0
		}
		return score, true
	}
	return current, false
}
