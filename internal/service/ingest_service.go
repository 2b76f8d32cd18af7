package service

import (
	"context"

	"ticketflow/internal/models"
	"ticketflow/internal/tenant"
	"ticketflow/pkg/channel/types"

	apperrors "ticketflow/internal/errors"

	"github.com/sirupsen/logrus"
)

// IngestStore defines the database operations the ingest pipeline needs.
type IngestStore interface {
	GetChannelConnection(ctx context.Context, scope tenant.Scope, id int64) (*models.ChannelConnection, error)
}

// IngestService is the entry point for normalized channel events. It chains
// identity resolution, ticket lookup, message persistence, SLA arming, and
// assistant decisioning for one event.
type IngestService struct {
	db        IngestStore
	contacts  *ContactService
	tickets   *TicketService
	messages  *MessageService
	sla       *SLAService
	assistant *AssistantService
	logger    *logrus.Logger
}

func NewIngestService(db IngestStore, contacts *ContactService, tickets *TicketService, messages *MessageService, sla *SLAService, assistant *AssistantService, logger *logrus.Logger) *IngestService {
	return &IngestService{
		db:        db,
		contacts:  contacts,
		tickets:   tickets,
		messages:  messages,
		sla:       sla,
		assistant: assistant,
		logger:    logger,
	}
}

// HandleMessageEvent processes one inbound message event end to end. The
// pipeline is idempotent: re-delivering the same event converges to the same
// state.
func (s *IngestService) HandleMessageEvent(ctx context.Context, event *types.MessageEvent) error {
	if event == nil {
		return apperrors.New(apperrors.ErrCodeValidationFailed, "event payload required")
	}

	// Events carry no tenant id; the channel connection anchors the scope.
	conn, err := s.db.GetChannelConnection(ctx, tenant.Super(), event.Context.ChannelConnectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return apperrors.Newf(apperrors.ErrCodeNotFound, "channel connection %d not found", event.Context.ChannelConnectionID)
	}
	scope := tenant.System(conn.TenantID)

	contact, err := s.contacts.ResolveOrCreate(ctx, scope, models.ContactInput{
		Name:          event.Contact.Name,
		Number:        event.Contact.Number,
		AltID:         event.Contact.AltID,
		ProfilePicURL: event.Contact.ProfilePicURL,
		IsGroup:       event.Contact.IsGroup,
	})
	if err != nil {
		return err
	}

	var groupContact *models.Contact
	if gc := event.Context.GroupContact; gc != nil {
		groupContact, err = s.contacts.ResolveOrCreate(ctx, scope, models.ContactInput{
			Name:          gc.Name,
			Number:        gc.Number,
			AltID:         gc.AltID,
			ProfilePicURL: gc.ProfilePicURL,
			IsGroup:       true,
		})
		if err != nil {
			return err
		}
	}

	unread := event.Context.UnreadMessages
	if unread <= 0 {
		unread = 1
	}

	ticket, err := s.tickets.FindOrCreate(ctx, scope, FindOrCreateParams{
		Contact:      contact,
		Connection:   conn,
		UnreadDelta:  unread,
		GroupContact: groupContact,
		Body:         event.Message.Body,
		FromMe:       event.Message.FromMe,
	})
	if err != nil {
		return err
	}
	if ticket == nil {
		// Farewell echo; the event carries nothing worth keeping.
		return nil
	}

	msg := &models.Message{
		ID:        event.Message.ID,
		TenantID:  conn.TenantID,
		TicketID:  ticket.ID,
		ContactID: &contact.ID,
		Body:      event.Message.Body,
		FromMe:    event.Message.FromMe,
		Read:      event.Message.FromMe,
	}
	if event.Message.Ack != nil {
		msg.Ack = models.AckLevel(*event.Message.Ack)
	}
	if event.Message.HasQuotedMsg && event.Message.QuotedMsgID != "" {
		quoted := event.Message.QuotedMsgID
		msg.QuotedMsgID = &quoted
	}
	if event.Media != nil {
		msg.MediaType = event.Media.MimeType
	}

	stored, err := s.messages.Persist(ctx, scope, msg)
	if err != nil {
		return err
	}

	if event.Message.FromMe {
		if err := s.sla.HandleHumanReply(ctx, scope, ticket); err != nil {
			s.logger.WithError(err).WithField("ticketId", ticket.ID).Warn("Failed to record human reply")
		}
		return nil
	}

	if err := s.sla.StartSLA(ctx, scope, ticket); err != nil {
		s.logger.WithError(err).WithField("ticketId", ticket.ID).Warn("Failed to arm SLA deadline")
	}

	if s.assistant != nil && ticket.UserID == nil {
		// Decisioning may block on the webhook; keep the webhook handler fast.
		go s.assistant.HandleInbound(context.Background(), ticket, contact, stored)
	}
	return nil
}

// HandleAckEvent merges one delivery-state update.
func (s *IngestService) HandleAckEvent(ctx context.Context, event *types.AckEvent) error {
	if event == nil || event.MessageID == "" {
		return apperrors.New(apperrors.ErrCodeValidationFailed, "ack event requires a message id")
	}
	return s.messages.ApplyAck(ctx, event.MessageID, models.AckLevel(event.Level))
}
