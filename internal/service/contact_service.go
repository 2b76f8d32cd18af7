package service

import (
	"context"
	"sync"

	"ticketflow/internal/models"
	"ticketflow/internal/tenant"

	apperrors "ticketflow/internal/errors"
	"ticketflow/internal/notify"

	"github.com/sirupsen/logrus"
)

// ContactStore defines the database operations the identity resolver needs.
type ContactStore interface {
	CreateContact(ctx context.Context, scope tenant.Scope, c *models.Contact) error
	GetContact(ctx context.Context, scope tenant.Scope, id int64) (*models.Contact, error)
	GetContactByNumber(ctx context.Context, scope tenant.Scope, number string) (*models.Contact, error)
	GetContactByAltID(ctx context.Context, scope tenant.Scope, altID string) (*models.Contact, error)
	UpdateContact(ctx context.Context, scope tenant.Scope, c *models.Contact) error
	MergeContacts(ctx context.Context, scope tenant.Scope, survivorID, loserID int64) error
}

// ContactService resolves a channel-supplied identity to exactly one
// canonical contact per tenant, merging duplicates when the number and the
// alternate id resolve to different records.
type ContactService struct {
	db       ContactStore
	notifier notify.Notifier
	logger   *logrus.Logger
}

func NewContactService(db ContactStore, notifier notify.Notifier, logger *logrus.Logger) *ContactService {
	return &ContactService{
		db:       db,
		notifier: notifier,
		logger:   logger,
	}
}

// ResolveOrCreate maps the (number, altId) pair to one canonical contact.
// Identity races and duplicate-identifier conflicts are recovered locally;
// callers never see them as errors.
func (s *ContactService) ResolveOrCreate(ctx context.Context, scope tenant.Scope, input models.ContactInput) (*models.Contact, error) {
	if input.Number == "" && input.AltID == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidationFailed, "contact requires a number or an alternate id")
	}

	byNumber, byAltID, err := s.lookupPair(ctx, scope, input.Number, input.AltID)
	if err != nil {
		return nil, err
	}

	switch {
	case byNumber == nil && byAltID == nil:
		return s.create(ctx, scope, input)

	case byNumber != nil && byAltID != nil && byNumber.ID != byAltID.ID:
		return s.merge(ctx, scope, byNumber, byAltID, input)

	case byNumber != nil:
		return s.refresh(ctx, scope, byNumber, input)

	default:
		return s.refresh(ctx, scope, byAltID, input)
	}
}

// lookupPair runs the number and alternate-id lookups independently.
func (s *ContactService) lookupPair(ctx context.Context, scope tenant.Scope, number, altID string) (*models.Contact, *models.Contact, error) {
	var wg sync.WaitGroup
	var byNumber, byAltID *models.Contact
	var numErr, altErr error

	if number != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			byNumber, numErr = s.db.GetContactByNumber(ctx, scope, number)
		}()
	}
	if altID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			byAltID, altErr = s.db.GetContactByAltID(ctx, scope, altID)
		}()
	}
	wg.Wait()

	if numErr != nil {
		return nil, nil, numErr
	}
	if altErr != nil {
		return nil, nil, altErr
	}
	return byNumber, byAltID, nil
}

func (s *ContactService) create(ctx context.Context, scope tenant.Scope, input models.ContactInput) (*models.Contact, error) {
	contact := &models.Contact{
		Name:          input.Name,
		Number:        input.Number,
		ProfilePicURL: input.ProfilePicURL,
		IsGroup:       input.IsGroup,
	}
	if input.AltID != "" {
		altID := input.AltID
		contact.AltID = &altID
	}

	err := s.db.CreateContact(ctx, scope, contact)
	if err == nil {
		s.emit(scope, "create", contact)
		return contact, nil
	}

	// A concurrent resolution for the same new identity won the insert.
	// Re-query and update the now-existing row instead of erroring.
	s.logger.WithFields(logrus.Fields{
		"tenantId": scope.TenantID,
	}).Warn("Contact insert conflict, re-querying existing row")

	byNumber, byAltID, lookupErr := s.lookupPair(ctx, scope, input.Number, input.AltID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	switch {
	case byNumber != nil:
		return s.refresh(ctx, scope, byNumber, input)
	case byAltID != nil:
		return s.refresh(ctx, scope, byAltID, input)
	}
	return nil, err
}

// refresh updates an existing contact with any new identifier and profile
// fields carried by the event.
func (s *ContactService) refresh(ctx context.Context, scope tenant.Scope, contact *models.Contact, input models.ContactInput) (*models.Contact, error) {
	changed := false

	if input.Name != "" && input.Name != contact.Name {
		contact.Name = input.Name
		changed = true
	}
	if input.ProfilePicURL != "" && input.ProfilePicURL != contact.ProfilePicURL {
		contact.ProfilePicURL = input.ProfilePicURL
		changed = true
	}
	if input.Number != "" && contact.Number == "" {
		contact.Number = input.Number
		changed = true
	}
	if input.AltID != "" && (contact.AltID == nil || *contact.AltID == "") {
		altID := input.AltID
		contact.AltID = &altID
		changed = true
	}
	if input.IsGroup != contact.IsGroup {
		contact.IsGroup = input.IsGroup
		changed = true
	}

	if changed {
		if err := s.db.UpdateContact(ctx, scope, contact); err != nil {
			return nil, err
		}
		s.emit(scope, "update", contact)
	}
	return contact, nil
}

// merge collapses two contacts that independently match the number and the
// alternate id. The number-match record survives; the loser's tickets,
// messages, and custom fields are repointed to it, then the loser is
// destroyed.
func (s *ContactService) merge(ctx context.Context, scope tenant.Scope, survivor, loser *models.Contact, input models.ContactInput) (*models.Contact, error) {
	s.logger.WithFields(logrus.Fields{
		"tenantId":   survivor.TenantID,
		"survivorId": survivor.ID,
		"loserId":    loser.ID,
	}).Warn("Merging duplicate contacts for one identity")

	if err := s.db.MergeContacts(ctx, scope, survivor.ID, loser.ID); err != nil {
		return nil, err
	}

	// Copy the loser's non-conflicting identity and fill empty profile fields.
	if survivor.AltID == nil || *survivor.AltID == "" {
		survivor.AltID = loser.AltID
	}
	if survivor.Name == "" {
		survivor.Name = loser.Name
	}
	if survivor.ProfilePicURL == "" {
		survivor.ProfilePicURL = loser.ProfilePicURL
	}
	if err := s.db.UpdateContact(ctx, scope, survivor); err != nil {
		return nil, err
	}
	s.emit(scope, "update", survivor)

	return s.refresh(ctx, scope, survivor, input)
}

func (s *ContactService) emit(scope tenant.Scope, action string, contact *models.Contact) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(contact.TenantID, notify.RoomNotification, "contact", map[string]interface{}{
		"action":  action,
		"contact": contact,
	})
}
