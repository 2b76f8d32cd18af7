package service

import (
	"context"
	"strings"
	"testing"

	"ticketflow/internal/models"
	"ticketflow/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistStoresMessageOnce(t *testing.T) {
	env := newTestEnv(t)
	svc := NewMessageService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	contact := env.createContact(t, "555123")
	ticket := env.createTicket(t, contact)

	msg := &models.Message{ID: "m1", TicketID: ticket.ID, Body: "hello", Ack: models.AckSent}
	stored, err := svc.Persist(ctx, env.scope, msg)
	require.NoError(t, err)
	assert.Equal(t, "m1", stored.ID)
	assert.Equal(t, models.AckSent, stored.Ack)

	// Re-delivery of the identical message is a no-op.
	again, err := svc.Persist(ctx, env.scope, &models.Message{ID: "m1", TicketID: ticket.ID, Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, stored.ID, again.ID)

	messages, err := svc.RecentMessages(ctx, env.scope, ticket.ID, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestPersistRedeliveryAdvancesAck(t *testing.T) {
	env := newTestEnv(t)
	svc := NewMessageService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	ticket := env.createTicket(t, env.createContact(t, "555123"))

	_, err := svc.Persist(ctx, env.scope, &models.Message{ID: "m1", TicketID: ticket.ID, Body: "hello", Ack: models.AckSent})
	require.NoError(t, err)

	// The duplicate carries a higher ack; the stored row picks it up.
	again, err := svc.Persist(ctx, env.scope, &models.Message{ID: "m1", TicketID: ticket.ID, Body: "hello", Ack: models.AckRead})
	require.NoError(t, err)
	assert.Equal(t, models.AckRead, again.Ack)

	// And a lower one regresses nothing.
	again, err = svc.Persist(ctx, env.scope, &models.Message{ID: "m1", TicketID: ticket.ID, Body: "hello", Ack: models.AckDelivered})
	require.NoError(t, err)
	assert.Equal(t, models.AckRead, again.Ack)
}

func TestPersistMintsSyntheticID(t *testing.T) {
	env := newTestEnv(t)
	svc := NewMessageService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	ticket := env.createTicket(t, env.createContact(t, "555123"))

	stored, err := svc.Persist(ctx, env.scope, &models.Message{TicketID: ticket.ID, Body: "no id"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.ID, "gen-"))
}

func TestPersistResolvesIDCollision(t *testing.T) {
	env := newTestEnv(t)
	svc := NewMessageService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	ticket := env.createTicket(t, env.createContact(t, "555123"))

	first, err := svc.Persist(ctx, env.scope, &models.Message{ID: "m1", TicketID: ticket.ID, Body: "original"})
	require.NoError(t, err)

	// Same provider id, different content: both messages survive.
	second, err := svc.Persist(ctx, env.scope, &models.Message{ID: "m1", TicketID: ticket.ID, Body: "different"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, strings.HasPrefix(second.ID, "gen-"))

	original, err := env.db.GetMessage(ctx, env.scope, "m1")
	require.NoError(t, err)
	assert.Equal(t, "original", original.Body)
}

func TestAckBeforeMessageIsBuffered(t *testing.T) {
	env := newTestEnv(t)
	svc := NewMessageService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	ticket := env.createTicket(t, env.createContact(t, "555123"))

	// The ack outruns its message.
	require.NoError(t, svc.ApplyAck(ctx, "m1", models.AckDelivered))
	require.NoError(t, svc.ApplyAck(ctx, "m1", models.AckRead))

	stored, err := svc.Persist(ctx, env.scope, &models.Message{ID: "m1", TicketID: ticket.ID, Body: "late"})
	require.NoError(t, err)
	assert.Equal(t, models.AckRead, stored.Ack)
}

func TestApplyAckOnPersistedMessage(t *testing.T) {
	env := newTestEnv(t)
	svc := NewMessageService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	ticket := env.createTicket(t, env.createContact(t, "555123"))
	_, err := svc.Persist(ctx, env.scope, &models.Message{ID: "m1", TicketID: ticket.ID, Body: "hello"})
	require.NoError(t, err)

	require.NoError(t, svc.ApplyAck(ctx, "m1", models.AckDelivered))
	require.NoError(t, svc.ApplyAck(ctx, "m1", models.AckSent))

	msg, err := env.db.GetMessage(ctx, env.scope, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.AckDelivered, msg.Ack)
}

func TestPersistEmitsNotifications(t *testing.T) {
	env := newTestEnv(t)
	svc := NewMessageService(env.db, env.notifier, env.logger)
	ctx := context.Background()

	ticket := env.createTicket(t, env.createContact(t, "555123"))
	_, err := svc.Persist(ctx, env.scope, &models.Message{ID: "m1", TicketID: ticket.ID, Body: "hello"})
	require.NoError(t, err)

	assert.Equal(t, 1, env.notifier.count(notify.RoomNotification, "appMessage"))
	assert.Equal(t, 1, env.notifier.count(notify.TicketRoom(ticket.ID), "appMessage"))
}

func TestAckBufferDropsWhenFull(t *testing.T) {
	buf := newAckBuffer(2)

	assert.True(t, buf.merge("a", models.AckSent))
	assert.True(t, buf.merge("b", models.AckSent))
	assert.False(t, buf.merge("c", models.AckSent))

	// Existing entries still merge at capacity.
	assert.True(t, buf.merge("a", models.AckRead))
	level, ok := buf.take("a")
	assert.True(t, ok)
	assert.Equal(t, models.AckRead, level)

	// The taken slot frees capacity.
	assert.True(t, buf.merge("c", models.AckSent))
}
