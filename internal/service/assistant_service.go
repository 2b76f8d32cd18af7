package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ticketflow/internal/constants"
	"ticketflow/internal/models"
	"ticketflow/internal/tenant"
	"ticketflow/pkg/channel/types"

	"github.com/sirupsen/logrus"
)

// AssistantStore defines the database operations the orchestrator needs
// beyond what the ticket and message services already offer.
type AssistantStore interface {
	GetQueue(ctx context.Context, scope tenant.Scope, id int64) (*models.Queue, error)
	GetContact(ctx context.Context, scope tenant.Scope, id int64) (*models.Contact, error)
	GetTagByName(ctx context.Context, scope tenant.Scope, name string) (*models.Tag, error)
	CreateTag(ctx context.Context, scope tenant.Scope, t *models.Tag) error
	ListTicketTags(ctx context.Context, scope tenant.Scope, ticketID int64) ([]models.Tag, error)
	InsertTicketEvent(ctx context.Context, scope tenant.Scope, e *models.TicketEvent) error
}

// AssistantService bridges inbound conversation turns to an external
// decision webhook and applies the returned decision to the ticket. The
// webhook is advisory: any transport or contract failure leaves the ticket
// untouched for a human.
type AssistantService struct {
	db         AssistantStore
	tickets    *TicketService
	messages   *MessageService
	channel    types.Client
	logger     *logrus.Logger
	httpClient *http.Client

	webhookURL      string
	contextMessages int
}

func NewAssistantService(db AssistantStore, tickets *TicketService, messages *MessageService, channel types.Client, logger *logrus.Logger, webhookURL string, timeout time.Duration, contextMessages int) *AssistantService {
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultAssistantTimeoutSec) * time.Second
	}
	if contextMessages <= 0 {
		contextMessages = constants.DefaultAssistantContextMessages
	}
	return &AssistantService{
		db:              db,
		tickets:         tickets,
		messages:        messages,
		channel:         channel,
		logger:          logger,
		httpClient:      &http.Client{Timeout: timeout},
		webhookURL:      webhookURL,
		contextMessages: contextMessages,
	}
}

// HandleInbound runs the decision flow for one inbound customer message.
// It short-circuits when the ticket does not qualify and never propagates
// webhook failures to the ingest path.
func (s *AssistantService) HandleInbound(ctx context.Context, ticket *models.Ticket, contact *models.Contact, msg *models.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Assistant orchestration panicked")
		}
	}()

	if s.webhookURL == "" || ticket == nil || msg == nil || msg.FromMe || ticket.IsGroup || ticket.UserID != nil {
		return
	}
	if ticket.QueueID == nil {
		return
	}

	scope := tenant.System(ticket.TenantID)
	queue, err := s.db.GetQueue(ctx, scope, *ticket.QueueID)
	if err != nil {
		s.logger.WithError(err).WithField("ticketId", ticket.ID).Warn("Failed to load queue for assistant decision")
		return
	}
	if !queue.AssistantEnabled() {
		return
	}

	decision, err := s.requestDecision(ctx, scope, queue, ticket, contact, msg)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"ticketId": ticket.ID,
			"queueId":  queue.ID,
		}).Warn("Assistant webhook failed, leaving ticket for a human")
		return
	}
	if decision == nil || decision.Empty() {
		return
	}

	s.applyDecision(ctx, scope, queue, ticket, contact, decision)
}

func (s *AssistantService) requestDecision(ctx context.Context, scope tenant.Scope, queue *models.Queue, ticket *models.Ticket, contact *models.Contact, msg *models.Message) (*models.AssistantDecision, error) {
	recent, err := s.messages.RecentMessages(ctx, scope, ticket.ID, s.contextMessages)
	if err != nil {
		return nil, err
	}
	history := make([]models.AssistantMessage, 0, len(recent))
	for _, m := range recent {
		history = append(history, models.AssistantMessage{Body: m.Body, FromMe: m.FromMe})
	}

	req := models.AssistantRequest{
		Event:               "message.inbound",
		At:                  time.Now().UnixMilli(),
		ChannelConnectionID: ticket.ChannelConnectionID,
		Queue: models.AssistantQueueInfo{
			ID:        queue.ID,
			Name:      queue.Name,
			Mode:      queue.Mode,
			Prompt:    queue.Prompt,
			AutoReply: queue.AutoReply,
		},
		Ticket: models.AssistantTicketInfo{
			ID:      ticket.ID,
			Status:  ticket.Status,
			QueueID: ticket.QueueID,
			UserID:  ticket.UserID,
		},
		Message:        msg.Body,
		RecentMessages: history,
	}
	if contact != nil {
		req.Contact = models.AssistantContact{
			ID:     contact.ID,
			Name:   contact.Name,
			Number: contact.Number,
		}
		if contact.AltID != nil {
			req.Contact.AltID = *contact.AltID
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("assistant webhook returned status %d", resp.StatusCode)
	}

	var decision models.AssistantDecision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("assistant webhook returned unparsable body: %w", err)
	}
	return &decision, nil
}

// applyDecision translates the webhook's decision into ticket mutations.
// Each part is best effort and logged on failure; a partial application is
// acceptable because every mutation is idempotent on re-delivery.
func (s *AssistantService) applyDecision(ctx context.Context, scope tenant.Scope, queue *models.Queue, ticket *models.Ticket, contact *models.Contact, decision *models.AssistantDecision) {
	s.recordEvent(ctx, scope, ticket, models.EventAIDecision, decision)

	update := models.TicketUpdate{}
	mutated := false
	transferred := false
	transferFrom := ticket.QueueID

	if decision.TransferQueueID != nil && (ticket.QueueID == nil || *decision.TransferQueueID != *ticket.QueueID) {
		update.QueueID = decision.TransferQueueID
		mutated = true
		transferred = true
	}
	if decision.AssignUserID != nil {
		update.UserID = decision.AssignUserID
		mutated = true
	}
	if decision.CloseTicket {
		closed := models.TicketStatusClosed
		update.Status = &closed
		mutated = true
	} else if decision.TicketStatus != nil {
		update.Status = decision.TicketStatus
		mutated = true
	}
	if score, ok := decision.ResolveLeadScore(ticket.LeadScore); ok && score != ticket.LeadScore {
		update.LeadScore = &score
		mutated = true
	}
	if len(decision.Tags) > 0 {
		if tagIDs, err := s.resolveTags(ctx, scope, ticket, decision.Tags); err != nil {
			s.logger.WithError(err).WithField("ticketId", ticket.ID).Warn("Failed to resolve assistant tags")
		} else if tagIDs != nil {
			update.TagIDs = tagIDs
			mutated = true
		}
	}

	if mutated {
		if _, err := s.tickets.Update(ctx, scope, ticket.ID, update, models.SourceAISupervisor); err != nil {
			s.logger.WithError(err).WithField("ticketId", ticket.ID).Warn("Failed to apply assistant decision")
		} else if transferred {
			// Recorded only once the lifecycle engine accepted the move, so
			// a rejected transfer never leaves a phantom audit entry.
			s.recordEvent(ctx, scope, ticket, models.EventAITransfer, map[string]interface{}{
				"from": transferFrom,
				"to":   decision.TransferQueueID,
			})
		}
	}

	if decision.Reply != "" {
		s.sendReply(ctx, scope, queue, ticket, contact, decision.Reply)
	}
}

// resolveTags maps tag names to ids, creating missing tags, and returns the
// merged set of the ticket's current tags plus the decision's.
func (s *AssistantService) resolveTags(ctx context.Context, scope tenant.Scope, ticket *models.Ticket, names []string) ([]int64, error) {
	current, err := s.db.ListTicketTags(ctx, scope, ticket.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(current)+len(names))
	seen := make(map[int64]bool)
	for _, tag := range current {
		ids = append(ids, tag.ID)
		seen[tag.ID] = true
	}

	for _, name := range names {
		if name == "" {
			continue
		}
		tag, err := s.db.GetTagByName(ctx, scope, name)
		if err != nil {
			return nil, err
		}
		if tag == nil {
			tag = &models.Tag{TenantID: ticket.TenantID, Name: name}
			if err := s.db.CreateTag(ctx, scope, tag); err != nil {
				// A concurrent create may have won the unique constraint.
				tag, err = s.db.GetTagByName(ctx, scope, name)
				if err != nil || tag == nil {
					return nil, fmt.Errorf("failed to resolve tag %q: %w", name, err)
				}
			}
		}
		if !seen[tag.ID] {
			ids = append(ids, tag.ID)
			seen[tag.ID] = true
		}
	}
	return ids, nil
}

// sendReply delivers the automated reply when the queue allows it and
// persists the outbound message so the conversation history stays complete.
func (s *AssistantService) sendReply(ctx context.Context, scope tenant.Scope, queue *models.Queue, ticket *models.Ticket, contact *models.Contact, body string) {
	if !queue.RepliesAllowed() {
		s.logger.WithFields(logrus.Fields{
			"ticketId": ticket.ID,
			"queueId":  queue.ID,
		}).Debug("Queue does not allow automated replies, dropping assistant reply")
		return
	}
	if s.channel == nil || contact == nil || contact.Number == "" {
		return
	}

	resp, err := s.channel.SendText(ctx, ticket.ChannelConnectionID, contact.Number, body, nil)
	if err != nil {
		s.logger.WithError(err).WithField("ticketId", ticket.ID).Warn("Failed to send assistant reply")
		return
	}

	outbound := &models.Message{
		TenantID:  ticket.TenantID,
		TicketID:  ticket.ID,
		ContactID: &contact.ID,
		Body:      body,
		FromMe:    true,
		Read:      true,
	}
	if resp != nil {
		outbound.ID = resp.ID
		outbound.Ack = models.AckLevel(resp.Ack)
	}
	if _, err := s.messages.Persist(ctx, scope, outbound); err != nil {
		s.logger.WithError(err).WithField("ticketId", ticket.ID).Warn("Failed to persist assistant reply")
		return
	}

	s.recordEvent(ctx, scope, ticket, models.EventAIReply, map[string]interface{}{
		"messageId": outbound.ID,
	})
}

func (s *AssistantService) recordEvent(ctx context.Context, scope tenant.Scope, ticket *models.Ticket, eventType models.TicketEventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	event := &models.TicketEvent{
		TenantID: ticket.TenantID,
		TicketID: ticket.ID,
		Type:     eventType,
		Source:   models.SourceAISupervisor,
		Payload:  string(data),
	}
	if err := s.db.InsertTicketEvent(ctx, scope, event); err != nil {
		s.logger.WithError(err).WithField("ticketId", ticket.ID).Error("Failed to write assistant event")
	}
}
