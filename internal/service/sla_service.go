package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"ticketflow/internal/constants"
	"ticketflow/internal/models"
	"ticketflow/internal/notify"
	"ticketflow/internal/tenant"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SLAStore defines the database operations the SLA scheduler needs.
type SLAStore interface {
	GetSetting(ctx context.Context, scope tenant.Scope, key string) (string, error)
	GetQueue(ctx context.Context, scope tenant.Scope, id int64) (*models.Queue, error)
	ListOverdueTickets(ctx context.Context, scope tenant.Scope, now time.Time) ([]*models.Ticket, error)
	UpdateTicket(ctx context.Context, scope tenant.Scope, t *models.Ticket) error
	InsertTicketEvent(ctx context.Context, scope tenant.Scope, e *models.TicketEvent) error
	GetTicketWithAssociations(ctx context.Context, scope tenant.Scope, id int64) (*models.Ticket, error)
}

// SLAService arms per-ticket first-response deadlines and escalates the
// tickets that blow past them. Escalation policy is per-tenant settings:
// whether it runs, how long the reply window is, and which queue overdue
// tickets land in.
type SLAService struct {
	db       SLAStore
	notifier notify.Notifier
	logger   *logrus.Logger

	cron     *cron.Cron
	sweeping atomic.Bool
}

func NewSLAService(db SLAStore, notifier notify.Notifier, logger *logrus.Logger) *SLAService {
	return &SLAService{
		db:       db,
		notifier: notifier,
		logger:   logger,
	}
}

// slaPolicy is one tenant's escalation configuration.
type slaPolicy struct {
	enabled      bool
	replyMinutes int
	queueID      *int64
}

func (s *SLAService) loadPolicy(ctx context.Context, tenantID int64) (slaPolicy, error) {
	scope := tenant.System(tenantID)

	enabled, err := s.db.GetSetting(ctx, scope, constants.SettingSLAEscalationEnabled)
	if err != nil {
		return slaPolicy{}, err
	}
	minutesRaw, err := s.db.GetSetting(ctx, scope, constants.SettingSLAReplyMinutes)
	if err != nil {
		return slaPolicy{}, err
	}
	queueRaw, err := s.db.GetSetting(ctx, scope, constants.SettingSLAEscalationQueueID)
	if err != nil {
		return slaPolicy{}, err
	}

	// "true" is accepted for installs that stored the pre-rename value.
	policy := slaPolicy{enabled: enabled == "enabled" || enabled == "true"}
	if minutesRaw != "" {
		if minutes, convErr := strconv.Atoi(minutesRaw); convErr == nil {
			policy.replyMinutes = minutes
		}
	}
	if queueRaw != "" {
		if queueID, convErr := strconv.ParseInt(queueRaw, 10, 64); convErr == nil && queueID > 0 {
			// Only route to a queue that actually exists in the tenant.
			queue, qErr := s.db.GetQueue(ctx, scope, queueID)
			if qErr != nil {
				return slaPolicy{}, qErr
			}
			if queue != nil {
				policy.queueID = &queueID
			}
		}
	}
	return policy, nil
}

// StartSLA arms the first-response deadline for a ticket that just received
// an inbound customer message. Group conversations, closed tickets, tickets
// already answered by a human, and tenants without an escalation policy are
// left alone.
func (s *SLAService) StartSLA(ctx context.Context, scope tenant.Scope, ticket *models.Ticket) error {
	if ticket == nil || ticket.IsGroup || ticket.Status == models.TicketStatusClosed {
		return nil
	}
	if ticket.FirstHumanResponseAt != nil || ticket.SLADueAt != nil {
		return nil
	}

	policy, err := s.loadPolicy(ctx, ticket.TenantID)
	if err != nil {
		return err
	}
	if !policy.enabled || policy.replyMinutes <= 0 {
		return nil
	}

	dueAt := time.Now().UTC().Add(time.Duration(policy.replyMinutes) * time.Minute)
	ticket.SLADueAt = &dueAt

	rowScope := tenant.System(ticket.TenantID)
	if err := s.db.UpdateTicket(ctx, rowScope, ticket); err != nil {
		return err
	}

	s.recordEvent(ctx, rowScope, ticket, models.EventSLAStarted, map[string]interface{}{
		"dueAt":        dueAt.Format(time.RFC3339),
		"replyMinutes": policy.replyMinutes,
	})

	s.logger.WithFields(logrus.Fields{
		"ticketId": ticket.ID,
		"dueAt":    dueAt,
	}).Debug("Armed first-response deadline")
	return nil
}

// HandleHumanReply records the first human response exactly once and disarms
// the deadline.
func (s *SLAService) HandleHumanReply(ctx context.Context, scope tenant.Scope, ticket *models.Ticket) error {
	if ticket == nil {
		return nil
	}
	if ticket.FirstHumanResponseAt != nil && ticket.SLADueAt == nil {
		return nil
	}

	if ticket.FirstHumanResponseAt == nil {
		now := time.Now().UTC()
		ticket.FirstHumanResponseAt = &now
	}
	ticket.SLADueAt = nil

	return s.db.UpdateTicket(ctx, tenant.System(ticket.TenantID), ticket)
}

// RunEscalationSweep finds every overdue ticket across tenants and escalates
// it: back to pending, unassigned, moved to the tenant's escalation queue,
// with a renewed deadline. One broken ticket never stops the sweep. Only one
// sweep runs at a time; a call that overlaps a running sweep returns without
// doing anything, so manual invocation is safe alongside the scheduler.
func (s *SLAService) RunEscalationSweep(ctx context.Context) (int, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Debug("Escalation sweep already running, skipping")
		return 0, nil
	}
	defer s.sweeping.Store(false)

	now := time.Now().UTC()
	overdue, err := s.db.ListOverdueTickets(ctx, tenant.Super(), now)
	if err != nil {
		return 0, err
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	policies := make(map[int64]slaPolicy)
	escalated := 0

	for _, ticket := range overdue {
		policy, ok := policies[ticket.TenantID]
		if !ok {
			policy, err = s.loadPolicy(ctx, ticket.TenantID)
			if err != nil {
				s.logger.WithError(err).WithField("tenantId", ticket.TenantID).Error("Failed to load escalation policy, skipping tenant's tickets")
				policies[ticket.TenantID] = slaPolicy{}
				continue
			}
			policies[ticket.TenantID] = policy
		}
		if !policy.enabled {
			continue
		}

		if err := s.escalate(ctx, ticket, policy, now); err != nil {
			s.logger.WithError(err).WithField("ticketId", ticket.ID).Error("Failed to escalate overdue ticket")
			continue
		}
		escalated++
	}

	if escalated > 0 {
		s.logger.WithField("count", escalated).Info("Escalated overdue tickets")
	}
	return escalated, nil
}

func (s *SLAService) escalate(ctx context.Context, ticket *models.Ticket, policy slaPolicy, now time.Time) error {
	rowScope := tenant.System(ticket.TenantID)

	oldStatus := ticket.Status
	oldQueueID := ticket.QueueID
	oldUserID := ticket.UserID

	ticket.Status = models.TicketStatusPending
	ticket.UserID = nil
	if policy.queueID != nil {
		ticket.QueueID = policy.queueID
	}
	if policy.replyMinutes > 0 {
		dueAt := now.Add(time.Duration(policy.replyMinutes) * time.Minute)
		ticket.SLADueAt = &dueAt
	} else {
		ticket.SLADueAt = nil
	}

	if err := s.db.UpdateTicket(ctx, rowScope, ticket); err != nil {
		return err
	}

	s.recordEvent(ctx, rowScope, ticket, models.EventSLAEscalated, map[string]interface{}{
		"fromStatus": oldStatus,
		"fromQueue":  oldQueueID,
		"fromUser":   oldUserID,
		"toQueue":    ticket.QueueID,
	})

	if ticket.TenantID == 0 {
		s.logger.WithField("ticketId", ticket.ID).Warn("Skipping escalation notification for ticket without tenant")
		return nil
	}

	if s.notifier != nil {
		reloaded, err := s.db.GetTicketWithAssociations(ctx, rowScope, ticket.ID)
		if err != nil || reloaded == nil {
			reloaded = ticket
		}
		payload := map[string]interface{}{
			"action": "update",
			"ticket": reloaded,
		}
		s.notifier.Broadcast(ticket.TenantID, notify.RoomNotification, "ticket", payload)
		s.notifier.Broadcast(ticket.TenantID, notify.TicketRoom(ticket.ID), "ticket", payload)
		s.notifier.Broadcast(ticket.TenantID, notify.StatusRoom(string(models.TicketStatusPending)), "ticket", payload)
		if oldStatus != models.TicketStatusPending {
			s.notifier.Broadcast(ticket.TenantID, notify.StatusRoom(string(oldStatus)), "ticket", map[string]interface{}{
				"action":   "delete",
				"ticketId": ticket.ID,
			})
		}
	}
	return nil
}

func (s *SLAService) recordEvent(ctx context.Context, scope tenant.Scope, ticket *models.Ticket, eventType models.TicketEventType, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	event := &models.TicketEvent{
		TenantID: ticket.TenantID,
		TicketID: ticket.ID,
		Type:     eventType,
		Source:   models.SourceSLA,
		Payload:  string(data),
	}
	if err := s.db.InsertTicketEvent(ctx, scope, event); err != nil {
		s.logger.WithError(err).WithField("ticketId", ticket.ID).Error("Failed to write SLA event")
	}
}

// StartScheduler runs the escalation sweep on the given cron schedule.
// Overlapping runs are collapsed by the sweep's own single-flight guard.
func (s *SLAService) StartScheduler(schedule string) error {
	if schedule == "" {
		schedule = constants.DefaultSLASweepSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.RunEscalationSweep(context.Background()); err != nil {
			s.logger.WithError(err).Error("Escalation sweep failed")
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	s.cron = c
	s.logger.WithField("schedule", schedule).Info("SLA escalation scheduler started")
	return nil
}

// StopScheduler stops the cron scheduler and waits for a running sweep.
func (s *SLAService) StopScheduler() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
