package service

import (
	"context"
	"testing"

	"ticketflow/internal/models"
	"ticketflow/internal/notify"

	apperrors "ticketflow/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOrCreateRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	svc := NewContactService(env.db, env.notifier, env.logger)

	_, err := svc.ResolveOrCreate(context.Background(), env.scope, models.ContactInput{Name: "Nobody"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestResolveOrCreateCreatesNewContact(t *testing.T) {
	env := newTestEnv(t)
	svc := NewContactService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	contact, err := svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{
		Name: "Alice", Number: "555123", AltID: "555123@lid",
	})
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.NotZero(t, contact.ID)
	assert.Equal(t, "Alice", contact.Name)
	require.NotNil(t, contact.AltID)
	assert.Equal(t, "555123@lid", *contact.AltID)

	assert.Equal(t, 1, env.notifier.count(notify.RoomNotification, "contact"))
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	svc := NewContactService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	input := models.ContactInput{Name: "Alice", Number: "555123"}
	first, err := svc.ResolveOrCreate(ctx, env.scope, input)
	require.NoError(t, err)

	second, err := svc.ResolveOrCreate(ctx, env.scope, input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveOrCreateRefreshesProfile(t *testing.T) {
	env := newTestEnv(t)
	svc := NewContactService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	first, err := svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{Number: "555123"})
	require.NoError(t, err)
	assert.Empty(t, first.Name)

	updated, err := svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{
		Number: "555123", Name: "Alice", AltID: "555123@lid", ProfilePicURL: "https://pic",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, updated.ID)
	assert.Equal(t, "Alice", updated.Name)
	require.NotNil(t, updated.AltID)
	assert.Equal(t, "555123@lid", *updated.AltID)
	assert.Equal(t, "https://pic", updated.ProfilePicURL)
}

func TestResolveOrCreateFindsByAlternateID(t *testing.T) {
	env := newTestEnv(t)
	svc := NewContactService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	created, err := svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{
		Number: "555123", AltID: "555123@lid",
	})
	require.NoError(t, err)

	// An event carrying only the alternate id resolves to the same record.
	found, err := svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{AltID: "555123@lid"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func TestResolveOrCreateMergesDuplicates(t *testing.T) {
	env := newTestEnv(t)
	svc := NewContactService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	// Two records created independently for what turns out to be one identity.
	byNumber, err := svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{Number: "555123"})
	require.NoError(t, err)
	byAltID, err := svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{AltID: "555123@lid", Name: "Alice"})
	require.NoError(t, err)
	require.NotEqual(t, byNumber.ID, byAltID.ID)

	ticket := env.createTicket(t, byAltID)

	merged, err := svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{
		Number: "555123", AltID: "555123@lid",
	})
	require.NoError(t, err)

	// The number match survives and absorbs the loser's identity and rows.
	assert.Equal(t, byNumber.ID, merged.ID)
	require.NotNil(t, merged.AltID)
	assert.Equal(t, "555123@lid", *merged.AltID)
	assert.Equal(t, "Alice", merged.Name)

	gone, err := env.db.GetContact(ctx, env.scope, byAltID.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	movedTicket, err := env.db.GetTicket(ctx, env.scope, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, byNumber.ID, movedTicket.ContactID)
}

func TestResolveOrCreateMergeConverges(t *testing.T) {
	env := newTestEnv(t)
	svc := NewContactService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	_, err := svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{Number: "555123"})
	require.NoError(t, err)
	_, err = svc.ResolveOrCreate(ctx, env.scope, models.ContactInput{AltID: "555123@lid"})
	require.NoError(t, err)

	input := models.ContactInput{Number: "555123", AltID: "555123@lid"}
	first, err := svc.ResolveOrCreate(ctx, env.scope, input)
	require.NoError(t, err)

	// Re-resolving after the merge is a plain lookup.
	second, err := svc.ResolveOrCreate(ctx, env.scope, input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
