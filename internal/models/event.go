package models

import "time"

// TicketEventType identifies a lifecycle transition recorded in the audit log.
type TicketEventType string

const (
	EventStatusChanged   TicketEventType = "ticket_status_changed"
	EventQueueChanged    TicketEventType = "ticket_queue_changed"
	EventAssigneeChanged TicketEventType = "ticket_assignee_changed"
	EventSLAStarted      TicketEventType = "sla_started"
	EventSLAEscalated    TicketEventType = "sla_escalated"
	EventAIDecision      TicketEventType = "ai_decision"
	EventAITransfer      TicketEventType = "ai_transfer"
	EventAIReply         TicketEventType = "ai_reply"
)

// EventSource identifies who triggered a lifecycle transition.
type EventSource string

const (
	SourceSystem       EventSource = "system"
	SourceAgent        EventSource = "agent"
	SourceAISupervisor EventSource = "ai_supervisor"
	SourceSLA          EventSource = "sla"
)

// TicketEvent is an immutable audit record of a ticket lifecycle transition.
type TicketEvent struct {
	ID        int64           `json:"id"`
	TenantID  int64           `json:"tenantId"`
	TicketID  int64           `json:"ticketId"`
	Type      TicketEventType `json:"type"`
	Source    EventSource     `json:"source"`
	Payload   string          `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
