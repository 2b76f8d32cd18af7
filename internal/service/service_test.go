package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"ticketflow/internal/database"
	"ticketflow/internal/models"
	"ticketflow/internal/tenant"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type notification struct {
	tenantID int64
	room     string
	event    string
	payload  interface{}
}

// recordingNotifier captures broadcasts for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) Broadcast(tenantID int64, room, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{tenantID: tenantID, room: room, event: event, payload: payload})
}

func (n *recordingNotifier) count(room, event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e.room == room && e.event == event {
			count++
		}
	}
	return count
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

type testEnv struct {
	db       *database.Database
	notifier *recordingNotifier
	logger   *logrus.Logger
	tenantID int64
	scope    tenant.Scope
	conn     *models.ChannelConnection
	queue    *models.Queue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tenantID, err := db.CreateTenant(ctx, "acme")
	require.NoError(t, err)
	scope := tenant.System(tenantID)

	conn := &models.ChannelConnection{Name: "wa-main", Channel: "whatsapp", Status: "connected"}
	require.NoError(t, db.CreateChannelConnection(ctx, scope, conn))

	queue := &models.Queue{Name: "Support", Mode: models.QueueModeOff}
	require.NoError(t, db.CreateQueue(ctx, scope, queue))

	return &testEnv{
		db:       db,
		notifier: &recordingNotifier{},
		logger:   testLogger(),
		tenantID: tenantID,
		scope:    scope,
		conn:     conn,
		queue:    queue,
	}
}

func (e *testEnv) createContact(t *testing.T, number string) *models.Contact {
	t.Helper()
	contact := &models.Contact{Name: "Contact " + number, Number: number}
	require.NoError(t, e.db.CreateContact(context.Background(), e.scope, contact))
	return contact
}

func (e *testEnv) createTicket(t *testing.T, contact *models.Contact) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		ContactID:           contact.ID,
		ChannelConnectionID: e.conn.ID,
		Channel:             e.conn.Channel,
	}
	require.NoError(t, e.db.CreateTicket(context.Background(), e.scope, ticket))
	return ticket
}
