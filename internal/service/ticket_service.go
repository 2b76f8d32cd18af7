package service

import (
	"context"
	"encoding/json"
	"time"

	"ticketflow/internal/models"
	"ticketflow/internal/notify"
	"ticketflow/internal/tenant"

	apperrors "ticketflow/internal/errors"

	"github.com/sirupsen/logrus"
)

// TicketStore defines the database operations the lifecycle engine needs.
type TicketStore interface {
	CreateTicket(ctx context.Context, scope tenant.Scope, t *models.Ticket) error
	GetTicket(ctx context.Context, scope tenant.Scope, id int64) (*models.Ticket, error)
	GetOpenTicketForContact(ctx context.Context, scope tenant.Scope, contactID, channelConnectionID int64) (*models.Ticket, error)
	CountOpenTicketsForContact(ctx context.Context, scope tenant.Scope, contactID, excludeConnectionID int64) (int, error)
	UpdateTicket(ctx context.Context, scope tenant.Scope, t *models.Ticket) error
	GetTicketWithAssociations(ctx context.Context, scope tenant.Scope, id int64) (*models.Ticket, error)
	InsertTicketEvent(ctx context.Context, scope tenant.Scope, e *models.TicketEvent) error
	MarkMessagesRead(ctx context.Context, scope tenant.Scope, ticketID int64) error
	GetQueue(ctx context.Context, scope tenant.Scope, id int64) (*models.Queue, error)
	GetUser(ctx context.Context, scope tenant.Scope, id int64) (*models.User, error)
	GetChannelConnection(ctx context.Context, scope tenant.Scope, id int64) (*models.ChannelConnection, error)
	GetTag(ctx context.Context, scope tenant.Scope, id int64) (*models.Tag, error)
	SetTicketTags(ctx context.Context, scope tenant.Scope, ticketID int64, tagIDs []int64) error
}

// TicketService drives the ticket state machine: creation and lookup, queue
// and agent assignment, status transitions, tag and score mutation, and the
// lifecycle audit log.
type TicketService struct {
	db       TicketStore
	notifier notify.Notifier
	logger   *logrus.Logger
}

func NewTicketService(db TicketStore, notifier notify.Notifier, logger *logrus.Logger) *TicketService {
	return &TicketService{
		db:       db,
		notifier: notifier,
		logger:   logger,
	}
}

// FindOrCreateParams carries the context of an inbound event that needs a
// ticket.
type FindOrCreateParams struct {
	Contact      *models.Contact
	Connection   *models.ChannelConnection
	UnreadDelta  int
	GroupContact *models.Contact
	Body         string
	FromMe       bool
}

// FindOrCreate returns the contact's existing non-closed ticket on the
// channel connection, or creates one in pending status. A farewell-message
// echo is suppressed before ticket creation; the returned ticket is nil in
// that case.
func (s *TicketService) FindOrCreate(ctx context.Context, scope tenant.Scope, params FindOrCreateParams) (*models.Ticket, error) {
	contact := params.Contact
	if params.GroupContact != nil {
		contact = params.GroupContact
	}
	if contact == nil || params.Connection == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidationFailed, "ticket lookup requires a contact and a channel connection")
	}

	ticket, err := s.db.GetOpenTicketForContact(ctx, scope, contact.ID, params.Connection.ID)
	if err != nil {
		return nil, err
	}

	if ticket != nil {
		if params.Body != "" {
			ticket.LastMessage = params.Body
		}
		if !params.FromMe {
			ticket.UnreadMessages += params.UnreadDelta
		}
		if err := s.db.UpdateTicket(ctx, scope, ticket); err != nil {
			return nil, err
		}
		return ticket, nil
	}

	// The channel's own auto-reply echoed back to itself must not open a
	// spurious thread.
	if params.FromMe && params.Body != "" && params.Body == params.Connection.FarewellMessage {
		s.logger.WithFields(logrus.Fields{
			"contactId":           contact.ID,
			"channelConnectionId": params.Connection.ID,
		}).Debug("Suppressing farewell-message echo, no ticket created")
		return nil, nil
	}

	ticket = &models.Ticket{
		TenantID:            params.Connection.TenantID,
		ContactID:           contact.ID,
		ChannelConnectionID: params.Connection.ID,
		Status:              models.TicketStatusPending,
		Channel:             params.Connection.Channel,
		LastMessage:         params.Body,
		IsGroup:             contact.IsGroup,
	}
	if !params.FromMe {
		ticket.UnreadMessages = params.UnreadDelta
	}

	if err := s.db.CreateTicket(ctx, scope, ticket); err != nil {
		return nil, err
	}

	s.emitTicket(ticket.TenantID, notify.RoomNotification, "create", ticket)
	s.emitTicket(ticket.TenantID, notify.StatusRoom(string(ticket.Status)), "create", ticket)
	return ticket, nil
}

// CheckContactOpenTickets fails with a conflict when the contact still has a
// non-closed ticket on another channel connection. The engine calls it
// before reassigning a contact's channel connection.
func (s *TicketService) CheckContactOpenTickets(ctx context.Context, scope tenant.Scope, contactID, excludeConnectionID int64) error {
	count, err := s.db.CountOpenTicketsForContact(ctx, scope, contactID, excludeConnectionID)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperrors.New(apperrors.ErrCodeConflict, "contact already has an open ticket on another channel connection").
			WithContext("contactId", contactID)
	}
	return nil
}

func validTransition(from, to models.TicketStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case models.TicketStatusPending:
		return to == models.TicketStatusOpen || to == models.TicketStatusClosed
	case models.TicketStatusOpen:
		return to == models.TicketStatusClosed || to == models.TicketStatusPending
	case models.TicketStatusClosed:
		return to == models.TicketStatusPending
	}
	return false
}

// Update applies a partial mutation to the ticket, validating every
// referenced entity against the ticket's tenant, auditing actual changes,
// and emitting room notifications consumers use to move the ticket between
// status-filtered lists.
func (s *TicketService) Update(ctx context.Context, scope tenant.Scope, ticketID int64, req models.TicketUpdate, source models.EventSource) (*models.Ticket, error) {
	ticket, err := s.db.GetTicket(ctx, scope, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "ticket %d not found", ticketID)
	}

	rowScope := tenant.System(ticket.TenantID)
	if err := s.validateReferences(ctx, rowScope, req); err != nil {
		return nil, err
	}

	oldStatus := ticket.Status
	oldUserID := ticket.UserID
	oldQueueID := ticket.QueueID

	if req.ChannelConnectionID != nil && *req.ChannelConnectionID != ticket.ChannelConnectionID {
		if err := s.CheckContactOpenTickets(ctx, rowScope, ticket.ContactID, ticket.ChannelConnectionID); err != nil {
			return nil, err
		}
		ticket.ChannelConnectionID = *req.ChannelConnectionID
	}

	if req.Status != nil && *req.Status != ticket.Status {
		if !req.Status.Valid() {
			return nil, apperrors.Newf(apperrors.ErrCodeValidationFailed, "invalid ticket status %q", *req.Status)
		}
		if !validTransition(ticket.Status, *req.Status) {
			return nil, apperrors.Newf(apperrors.ErrCodeValidationFailed, "invalid status transition %s -> %s", ticket.Status, *req.Status)
		}
		ticket.Status = *req.Status
		if ticket.Status == models.TicketStatusClosed && ticket.ResolvedAt == nil {
			now := time.Now().UTC()
			ticket.ResolvedAt = &now
		}
	}

	if req.UserID != nil {
		if *req.UserID == 0 {
			ticket.UserID = nil
		} else {
			ticket.UserID = req.UserID
		}
	}
	if req.QueueID != nil {
		if *req.QueueID == 0 {
			ticket.QueueID = nil
		} else {
			ticket.QueueID = req.QueueID
		}
	}
	if req.LeadScore != nil {
		score := *req.LeadScore
		if score < 0 {
			score = 0
		}
		ticket.LeadScore = score
	}

	// An agent touching the ticket marks its messages read.
	if err := s.db.MarkMessagesRead(ctx, rowScope, ticket.ID); err != nil {
		return nil, err
	}
	ticket.UnreadMessages = 0

	if err := s.db.UpdateTicket(ctx, rowScope, ticket); err != nil {
		return nil, err
	}

	if req.TagIDs != nil {
		if err := s.db.SetTicketTags(ctx, rowScope, ticket.ID, req.TagIDs); err != nil {
			return nil, err
		}
	}

	statusChanged := ticket.Status != oldStatus
	assigneeChanged := !sameID(ticket.UserID, oldUserID)
	queueChanged := !sameID(ticket.QueueID, oldQueueID)

	if statusChanged {
		s.audit(ctx, rowScope, ticket, models.EventStatusChanged, source, map[string]interface{}{
			"from": oldStatus, "to": ticket.Status,
		})
	}
	if queueChanged {
		s.audit(ctx, rowScope, ticket, models.EventQueueChanged, source, map[string]interface{}{
			"from": oldQueueID, "to": ticket.QueueID,
		})
	}
	if assigneeChanged {
		s.audit(ctx, rowScope, ticket, models.EventAssigneeChanged, source, map[string]interface{}{
			"from": oldUserID, "to": ticket.UserID,
		})
	}

	// Reload with fresh associations so notification payloads are consistent.
	reloaded, err := s.db.GetTicketWithAssociations(ctx, rowScope, ticket.ID)
	if err != nil {
		return nil, err
	}
	if reloaded == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "ticket %d not found after update", ticketID)
	}

	s.emitTicket(reloaded.TenantID, notify.TicketRoom(reloaded.ID), "update", reloaded)
	s.emitTicket(reloaded.TenantID, notify.StatusRoom(string(reloaded.Status)), "update", reloaded)
	s.emitTicket(reloaded.TenantID, notify.RoomNotification, "update", reloaded)

	if statusChanged || assigneeChanged {
		// Status-filtered lists drop the ticket from the list it left.
		s.emitDelete(reloaded.TenantID, notify.StatusRoom(string(oldStatus)), reloaded.ID)
	}

	return reloaded, nil
}

// validateReferences checks every referenced entity belongs to the ticket's
// tenant. A reference outside the tenant resolves to nothing and is denied.
func (s *TicketService) validateReferences(ctx context.Context, rowScope tenant.Scope, req models.TicketUpdate) error {
	if req.QueueID != nil && *req.QueueID != 0 {
		queue, err := s.db.GetQueue(ctx, rowScope, *req.QueueID)
		if err != nil {
			return err
		}
		if queue == nil {
			return apperrors.Newf(apperrors.ErrCodePermissionDenied, "queue %d does not belong to the ticket's tenant", *req.QueueID)
		}
	}
	if req.UserID != nil && *req.UserID != 0 {
		user, err := s.db.GetUser(ctx, rowScope, *req.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return apperrors.Newf(apperrors.ErrCodePermissionDenied, "user %d does not belong to the ticket's tenant", *req.UserID)
		}
	}
	if req.ChannelConnectionID != nil && *req.ChannelConnectionID != 0 {
		conn, err := s.db.GetChannelConnection(ctx, rowScope, *req.ChannelConnectionID)
		if err != nil {
			return err
		}
		if conn == nil {
			return apperrors.Newf(apperrors.ErrCodePermissionDenied, "channel connection %d does not belong to the ticket's tenant", *req.ChannelConnectionID)
		}
	}
	for _, tagID := range req.TagIDs {
		tag, err := s.db.GetTag(ctx, rowScope, tagID)
		if err != nil {
			return err
		}
		if tag == nil {
			return apperrors.Newf(apperrors.ErrCodePermissionDenied, "tag %d does not belong to the ticket's tenant", tagID)
		}
	}
	return nil
}

func (s *TicketService) audit(ctx context.Context, scope tenant.Scope, ticket *models.Ticket, eventType models.TicketEventType, source models.EventSource, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to marshal ticket event payload")
		data = []byte("{}")
	}

	event := &models.TicketEvent{
		TenantID: ticket.TenantID,
		TicketID: ticket.ID,
		Type:     eventType,
		Source:   source,
		Payload:  string(data),
	}
	if err := s.db.InsertTicketEvent(ctx, scope, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"ticketId": ticket.ID,
			"type":     eventType,
		}).Error("Failed to write ticket event")
	}
}

func (s *TicketService) emitTicket(tenantID int64, room, action string, ticket *models.Ticket) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(tenantID, room, "ticket", map[string]interface{}{
		"action": action,
		"ticket": ticket,
	})
}

func (s *TicketService) emitDelete(tenantID int64, room string, ticketID int64) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(tenantID, room, "ticket", map[string]interface{}{
		"action":   "delete",
		"ticketId": ticketID,
	})
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
