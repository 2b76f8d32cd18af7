package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ticketflow/internal/models"
	"ticketflow/internal/tenant"
	"ticketflow/pkg/channel/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannelClient struct {
	mu       sync.Mutex
	sent     []string
	response *types.SendResponse
	err      error
}

func (c *fakeChannelClient) SendText(ctx context.Context, connectionID int64, recipient, body string, opts *types.SendOptions) (*types.SendResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, body)
	return c.response, c.err
}

func (c *fakeChannelClient) SendMedia(ctx context.Context, connectionID int64, recipient string, media types.MediaInput, opts *types.SendOptions) (*types.SendResponse, error) {
	return c.response, c.err
}

func (c *fakeChannelClient) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type assistantFixture struct {
	env      *testEnv
	svc      *AssistantService
	tickets  *TicketService
	messages *MessageService
	channel  *fakeChannelClient
	requests []models.AssistantRequest
	mu       sync.Mutex
}

func newAssistantFixture(t *testing.T, decision interface{}, status int) *assistantFixture {
	t.Helper()
	env := newTestEnv(t)

	fx := &assistantFixture{env: env, channel: &fakeChannelClient{
		response: &types.SendResponse{ID: "out-1", Ack: 1},
	}}

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.AssistantRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fx.mu.Lock()
		fx.requests = append(fx.requests, req)
		fx.mu.Unlock()

		w.WriteHeader(status)
		if decision != nil {
			_ = json.NewEncoder(w).Encode(decision)
		}
	}))
	t.Cleanup(webhook.Close)

	fx.tickets = NewTicketService(env.db, env.notifier, env.logger)
	fx.messages = NewMessageService(env.db, env.notifier, env.logger)
	fx.svc = NewAssistantService(env.db, fx.tickets, fx.messages, fx.channel, env.logger,
		webhook.URL, 5*time.Second, 10)
	return fx
}

func (fx *assistantFixture) requestCount() int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return len(fx.requests)
}

// triageTicket creates a ticket routed to a queue with the given mode.
func (fx *assistantFixture) triageTicket(t *testing.T, mode models.QueueMode, autoReply bool) (*models.Ticket, *models.Contact, *models.Message) {
	t.Helper()
	ctx := context.Background()
	env := fx.env

	queue := &models.Queue{Name: "AI " + string(mode), Mode: mode, AutoReply: autoReply, Prompt: "be helpful"}
	require.NoError(t, env.db.CreateQueue(ctx, env.scope, queue))

	contact := env.createContact(t, "555123")
	ticket := env.createTicket(t, contact)
	ticket.QueueID = &queue.ID
	require.NoError(t, env.db.UpdateTicket(ctx, env.scope, ticket))

	msg, err := fx.messages.Persist(ctx, env.scope, &models.Message{
		ID: "in-1", TicketID: ticket.ID, ContactID: &contact.ID, Body: "I want a refund",
	})
	require.NoError(t, err)
	return ticket, contact, msg
}

func TestAssistantShortCircuits(t *testing.T) {
	fx := newAssistantFixture(t, map[string]string{"reply": "hi"}, http.StatusOK)
	ctx := context.Background()

	ticket, contact, msg := fx.triageTicket(t, models.QueueModeTriage, false)

	// Outbound messages never trigger decisioning.
	outbound := *msg
	outbound.FromMe = true
	fx.svc.HandleInbound(ctx, ticket, contact, &outbound)
	assert.Equal(t, 0, fx.requestCount())

	// Neither do tickets an agent already owns.
	agent := &models.User{Name: "Bob"}
	require.NoError(t, fx.env.db.CreateUser(ctx, fx.env.scope, agent))
	owned := *ticket
	owned.UserID = &agent.ID
	fx.svc.HandleInbound(ctx, &owned, contact, msg)
	assert.Equal(t, 0, fx.requestCount())

	// Nor group conversations.
	group := *ticket
	group.IsGroup = true
	fx.svc.HandleInbound(ctx, &group, contact, msg)
	assert.Equal(t, 0, fx.requestCount())

	// Nor tickets without a queue.
	unrouted := *ticket
	unrouted.QueueID = nil
	fx.svc.HandleInbound(ctx, &unrouted, contact, msg)
	assert.Equal(t, 0, fx.requestCount())
}

func TestAssistantSkipsQueueModeOff(t *testing.T) {
	fx := newAssistantFixture(t, map[string]string{"reply": "hi"}, http.StatusOK)
	ticket, contact, msg := fx.triageTicket(t, models.QueueModeOff, false)

	fx.svc.HandleInbound(context.Background(), ticket, contact, msg)
	assert.Equal(t, 0, fx.requestCount())
}

func TestAssistantSendsContextToWebhook(t *testing.T) {
	fx := newAssistantFixture(t, map[string]string{}, http.StatusOK)
	ticket, contact, msg := fx.triageTicket(t, models.QueueModeTriage, false)

	fx.svc.HandleInbound(context.Background(), ticket, contact, msg)
	require.Equal(t, 1, fx.requestCount())

	req := fx.requests[0]
	assert.Equal(t, "message.inbound", req.Event)
	assert.Equal(t, ticket.ID, req.Ticket.ID)
	assert.Equal(t, contact.ID, req.Contact.ID)
	assert.Equal(t, "I want a refund", req.Message)
	assert.Equal(t, models.QueueModeTriage, req.Queue.Mode)
	assert.Equal(t, "be helpful", req.Queue.Prompt)
	require.Len(t, req.RecentMessages, 1)
	assert.Equal(t, "I want a refund", req.RecentMessages[0].Body)
}

func TestAssistantAppliesTransferDecision(t *testing.T) {
	fx := newAssistantFixture(t, nil, http.StatusOK)
	ctx := context.Background()

	target := &models.Queue{Name: "Billing", Mode: models.QueueModeOff}
	require.NoError(t, fx.env.db.CreateQueue(ctx, fx.env.scope, target))

	// Re-point the webhook to return the transfer decision.
	fx2 := newAssistantFixtureWithEnv(t, fx, map[string]interface{}{
		"transferQueueId": target.ID,
		"leadScoreDelta":  5,
		"tags":            []string{"refund"},
	})

	ticket, contact, msg := fx.triageTicket(t, models.QueueModeTriage, false)
	fx2.HandleInbound(ctx, ticket, contact, msg)

	updated, err := fx.env.db.GetTicket(ctx, fx.env.scope, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.QueueID)
	assert.Equal(t, target.ID, *updated.QueueID)
	assert.Equal(t, 5, updated.LeadScore)

	tags, err := fx.env.db.ListTicketTags(ctx, fx.env.scope, ticket.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "refund", tags[0].Name)

	events, err := fx.env.db.ListTicketEvents(ctx, fx.env.scope, ticket.ID)
	require.NoError(t, err)
	eventTypes := make(map[models.TicketEventType]int)
	for _, e := range events {
		eventTypes[e.Type]++
	}
	assert.Equal(t, 1, eventTypes[models.EventAIDecision])
	assert.Equal(t, 1, eventTypes[models.EventAITransfer])
	assert.Equal(t, 1, eventTypes[models.EventQueueChanged])
}

func TestAssistantRejectedTransferLeavesNoTransferEvent(t *testing.T) {
	fx := newAssistantFixture(t, nil, http.StatusOK)
	ctx := context.Background()

	// A queue belonging to another tenant fails reference validation in the
	// lifecycle engine, so the transfer must not be applied or audited.
	otherTenant, err := fx.env.db.CreateTenant(ctx, "Other Org")
	require.NoError(t, err)
	foreign := &models.Queue{Name: "Foreign", Mode: models.QueueModeOff}
	require.NoError(t, fx.env.db.CreateQueue(ctx, tenant.System(otherTenant), foreign))

	svc := newAssistantFixtureWithEnv(t, fx, map[string]interface{}{
		"transferQueueId": foreign.ID,
	})

	ticket, contact, msg := fx.triageTicket(t, models.QueueModeTriage, false)
	originalQueue := *ticket.QueueID
	svc.HandleInbound(ctx, ticket, contact, msg)

	updated, err := fx.env.db.GetTicket(ctx, fx.env.scope, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.QueueID)
	assert.Equal(t, originalQueue, *updated.QueueID)

	events, err := fx.env.db.ListTicketEvents(ctx, fx.env.scope, ticket.ID)
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, models.EventAITransfer, e.Type)
		assert.NotEqual(t, models.EventQueueChanged, e.Type)
	}
}

// newAssistantFixtureWithEnv builds a second assistant service against an
// existing fixture's environment with a different webhook decision.
func newAssistantFixtureWithEnv(t *testing.T, fx *assistantFixture, decision interface{}) *AssistantService {
	t.Helper()
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(decision)
	}))
	t.Cleanup(webhook.Close)

	return NewAssistantService(fx.env.db, fx.tickets, fx.messages, fx.channel, fx.env.logger,
		webhook.URL, 5*time.Second, 10)
}

func TestAssistantAbsoluteLeadScoreWinsOverDelta(t *testing.T) {
	fx := newAssistantFixture(t, map[string]interface{}{
		"leadScore":      80,
		"leadScoreDelta": 5,
	}, http.StatusOK)
	ctx := context.Background()

	ticket, contact, msg := fx.triageTicket(t, models.QueueModeTriage, false)
	fx.svc.HandleInbound(ctx, ticket, contact, msg)

	updated, err := fx.env.db.GetTicket(ctx, fx.env.scope, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, updated.LeadScore)
}

func TestAssistantRepliesOnlyInReplyMode(t *testing.T) {
	decision := map[string]string{"reply": "We can help with that."}

	t.Run("triage queue drops the reply", func(t *testing.T) {
		fx := newAssistantFixture(t, decision, http.StatusOK)
		ticket, contact, msg := fx.triageTicket(t, models.QueueModeTriage, true)
		fx.svc.HandleInbound(context.Background(), ticket, contact, msg)
		assert.Equal(t, 0, fx.channel.sentCount())
	})

	t.Run("reply queue without autoReply drops the reply", func(t *testing.T) {
		fx := newAssistantFixture(t, decision, http.StatusOK)
		ticket, contact, msg := fx.triageTicket(t, models.QueueModeReply, false)
		fx.svc.HandleInbound(context.Background(), ticket, contact, msg)
		assert.Equal(t, 0, fx.channel.sentCount())
	})

	t.Run("reply queue with autoReply sends and persists", func(t *testing.T) {
		fx := newAssistantFixture(t, decision, http.StatusOK)
		ctx := context.Background()
		ticket, contact, msg := fx.triageTicket(t, models.QueueModeReply, true)
		fx.svc.HandleInbound(ctx, ticket, contact, msg)

		require.Equal(t, 1, fx.channel.sentCount())
		assert.Equal(t, "We can help with that.", fx.channel.sent[0])

		stored, err := fx.env.db.GetMessage(ctx, fx.env.scope, "out-1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.True(t, stored.FromMe)
		assert.Equal(t, "We can help with that.", stored.Body)

		events, err := fx.env.db.ListTicketEvents(ctx, fx.env.scope, ticket.ID)
		require.NoError(t, err)
		found := false
		for _, e := range events {
			if e.Type == models.EventAIReply {
				found = true
			}
		}
		assert.True(t, found)
	})
}

func TestAssistantClosesTicketOnDecision(t *testing.T) {
	fx := newAssistantFixture(t, map[string]interface{}{"closeTicket": true}, http.StatusOK)
	ctx := context.Background()

	ticket, contact, msg := fx.triageTicket(t, models.QueueModeTriage, false)
	fx.svc.HandleInbound(ctx, ticket, contact, msg)

	updated, err := fx.env.db.GetTicket(ctx, fx.env.scope, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusClosed, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)
}

func TestAssistantFailsOpenOnWebhookError(t *testing.T) {
	fx := newAssistantFixture(t, nil, http.StatusInternalServerError)
	ctx := context.Background()

	ticket, contact, msg := fx.triageTicket(t, models.QueueModeReply, true)
	fx.svc.HandleInbound(ctx, ticket, contact, msg)

	// The ticket is untouched and nothing was sent.
	updated, err := fx.env.db.GetTicket(ctx, fx.env.scope, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, updated.Status)
	assert.Nil(t, updated.UserID)
	assert.Equal(t, 0, fx.channel.sentCount())
}

func TestAssistantFailsOpenOnUnparsableBody(t *testing.T) {
	env := newTestEnv(t)
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(webhook.Close)

	tickets := NewTicketService(env.db, env.notifier, env.logger)
	messages := NewMessageService(env.db, env.notifier, env.logger)
	svc := NewAssistantService(env.db, tickets, messages, &fakeChannelClient{}, env.logger,
		webhook.URL, 5*time.Second, 10)

	ctx := context.Background()
	queue := &models.Queue{Name: "AI", Mode: models.QueueModeTriage}
	require.NoError(t, env.db.CreateQueue(ctx, env.scope, queue))
	contact := env.createContact(t, "555123")
	ticket := env.createTicket(t, contact)
	ticket.QueueID = &queue.ID
	require.NoError(t, env.db.UpdateTicket(ctx, env.scope, ticket))
	msg, err := messages.Persist(ctx, env.scope, &models.Message{ID: "in-1", TicketID: ticket.ID, Body: "hi"})
	require.NoError(t, err)

	svc.HandleInbound(ctx, ticket, contact, msg)

	updated, err := env.db.GetTicket(ctx, env.scope, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusPending, updated.Status)
}
