package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ticketflow/internal/constants"
	"ticketflow/internal/models"
	"ticketflow/internal/notify"
	"ticketflow/internal/tenant"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MessageStore defines the database operations the reconciliation store needs.
type MessageStore interface {
	GetMessage(ctx context.Context, scope tenant.Scope, id string) (*models.Message, error)
	InsertMessage(ctx context.Context, scope tenant.Scope, m *models.Message) error
	UpdateMessageAck(ctx context.Context, scope tenant.Scope, id string, ack models.AckLevel) error
	ListRecentMessages(ctx context.Context, scope tenant.Scope, ticketID int64, limit int) ([]*models.Message, error)
	GetTicketWithAssociations(ctx context.Context, scope tenant.Scope, id int64) (*models.Ticket, error)
}

// ackBuffer holds acknowledgment levels that arrived before their message.
// It is best effort: bounded, process-lifetime only, and never a correctness
// dependency of already-persisted state.
type ackBuffer struct {
	mu     sync.Mutex
	cap    int
	levels map[string]models.AckLevel
}

func newAckBuffer(capacity int) *ackBuffer {
	return &ackBuffer{
		cap:    capacity,
		levels: make(map[string]models.AckLevel),
	}
}

// merge max-merges the level for the id. It reports false when the buffer is
// full and the id is not already tracked; the entry is then dropped.
func (b *ackBuffer) merge(id string, level models.AckLevel) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.levels[id]
	if !ok && len(b.levels) >= b.cap {
		return false
	}
	b.levels[id] = current.Merge(level)
	return true
}

// take removes and returns the buffered level for the id.
func (b *ackBuffer) take(id string) (models.AckLevel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	level, ok := b.levels[id]
	if ok {
		delete(b.levels, id)
	}
	return level, ok
}

// MessageService persists messages idempotently under unordered, duplicated
// delivery and merges acknowledgment updates that may precede the message.
type MessageService struct {
	db       MessageStore
	notifier notify.Notifier
	logger   *logrus.Logger
	acks     *ackBuffer
}

func NewMessageService(db MessageStore, notifier notify.Notifier, logger *logrus.Logger) *MessageService {
	return &MessageService{
		db:       db,
		notifier: notifier,
		logger:   logger,
		acks:     newAckBuffer(constants.DefaultAckBufferCap),
	}
}

// Persist stores one logical message exactly once. Missing provider ids are
// replaced by synthetic ones; id collisions from the provider are resolved
// by minting a new id rather than overwriting unrelated content.
func (s *MessageService) Persist(ctx context.Context, scope tenant.Scope, m *models.Message) (*models.Message, error) {
	if m.ID == "" {
		m.ID = s.mintSyntheticID(m.TicketID)
		s.logger.WithFields(logrus.Fields{
			"ticketId":    m.TicketID,
			"syntheticId": m.ID,
		}).Warn("Message arrived without an id, minted synthetic id")
	}

	existing, err := s.db.GetMessage(ctx, scope, m.ID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if existing.TicketID == m.TicketID && existing.Body == m.Body && existing.FromMe == m.FromMe {
			return s.upsertRedelivery(ctx, scope, existing, m.Ack)
		}

		// Same id, different content: provider reused an identifier.
		collidedID := m.ID
		m.ID = s.mintSyntheticID(m.TicketID)
		s.logger.WithFields(logrus.Fields{
			"collidedId":  collidedID,
			"syntheticId": m.ID,
			"ticketId":    m.TicketID,
		}).Warn("Message id collision detected, persisting under synthetic id")
	}

	if buffered, ok := s.acks.take(m.ID); ok {
		m.Ack = m.Ack.Merge(buffered)
	}

	if err := s.db.InsertMessage(ctx, scope, m); err != nil {
		return nil, err
	}

	stored, err := s.db.GetMessage(ctx, scope, m.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("message %s vanished after insert", m.ID)
	}

	s.emitMessage(ctx, scope, "create", stored)
	return stored, nil
}

// upsertRedelivery treats a duplicate of an already-stored message as a
// benign re-delivery: an idempotent no-op plus any ack advancement.
func (s *MessageService) upsertRedelivery(ctx context.Context, scope tenant.Scope, existing *models.Message, incomingAck models.AckLevel) (*models.Message, error) {
	target := existing.Ack.Merge(incomingAck)
	if buffered, ok := s.acks.take(existing.ID); ok {
		target = target.Merge(buffered)
	}

	if target == existing.Ack {
		return existing, nil
	}

	if err := s.db.UpdateMessageAck(ctx, scope, existing.ID, target); err != nil {
		return nil, err
	}
	existing.Ack = target

	s.emitMessage(ctx, scope, "update", existing)
	return existing, nil
}

// ApplyAck merges a delivery-state update into the message. When the message
// has not been persisted yet the level is buffered and applied at
// persistence time.
func (s *MessageService) ApplyAck(ctx context.Context, messageID string, level models.AckLevel) error {
	msg, err := s.db.GetMessage(ctx, tenant.Super(), messageID)
	if err != nil {
		return err
	}

	if msg == nil {
		if !s.acks.merge(messageID, level) {
			s.logger.WithFields(logrus.Fields{
				"messageId": messageID,
				"ackLevel":  level,
			}).Warn("Ack buffer full, dropping early acknowledgment")
			return nil
		}
		s.logger.WithFields(logrus.Fields{
			"messageId": messageID,
			"ackLevel":  level,
		}).Debug("Buffered acknowledgment for unpersisted message")
		return nil
	}

	scope := tenant.System(msg.TenantID)
	if err := s.db.UpdateMessageAck(ctx, scope, messageID, level); err != nil {
		return err
	}
	msg.Ack = msg.Ack.Merge(level)

	s.emitMessage(ctx, scope, "update", msg)
	return nil
}

// RecentMessages returns the last limit messages of a ticket, oldest first.
func (s *MessageService) RecentMessages(ctx context.Context, scope tenant.Scope, ticketID int64, limit int) ([]*models.Message, error) {
	return s.db.ListRecentMessages(ctx, scope, ticketID, limit)
}

func (s *MessageService) mintSyntheticID(ticketID int64) string {
	random := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%d-%d-%s", constants.SyntheticIDHint, ticketID, time.Now().UnixMilli(), random)
}

// emitMessage broadcasts the message to the tenant notification room along
// with a list-ordering projection. Emission is skipped when the resolved
// ticket carries no tenant id; the engine never broadcasts outside a tenant
// scope.
func (s *MessageService) emitMessage(ctx context.Context, scope tenant.Scope, action string, m *models.Message) {
	if s.notifier == nil {
		return
	}

	ticket, err := s.db.GetTicketWithAssociations(ctx, scope, m.TicketID)
	if err != nil {
		s.logger.WithError(err).WithField("ticketId", m.TicketID).Warn("Failed to load ticket for message notification")
		return
	}
	if ticket == nil || ticket.TenantID == 0 {
		s.logger.WithFields(logrus.Fields{
			"messageId": m.ID,
			"ticketId":  m.TicketID,
		}).Warn("Skipping message notification for ticket without tenant")
		return
	}

	payload := map[string]interface{}{
		"action":          action,
		"message":         m,
		"ticket":          ticket,
		"contact":         ticket.Contact,
		"lastMessageAt":   m.CreatedAt.UTC().Format(time.RFC3339),
		"lastMessageAtTs": m.CreatedAt.UnixMilli(),
	}

	s.notifier.Broadcast(ticket.TenantID, notify.RoomNotification, "appMessage", payload)
	s.notifier.Broadcast(ticket.TenantID, notify.TicketRoom(ticket.ID), "appMessage", payload)
}
