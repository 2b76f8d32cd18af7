package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ticketflow/internal/models"
	"ticketflow/internal/tenant"
)

const ticketColumns = `id, tenant_id, contact_id, channel_connection_id, queue_id, user_id,
	status, channel, last_message, lead_score, unread_messages, is_group,
	sla_due_at, first_human_response_at, resolved_at, created_at, updated_at`

func scanTicket(scanner interface{ Scan(...interface{}) error }) (*models.Ticket, error) {
	var t models.Ticket
	var queueID, userID sql.NullInt64
	var slaDueAt, firstHuman, resolvedAt sql.NullTime
	var lastMessage sql.NullString

	err := scanner.Scan(&t.ID, &t.TenantID, &t.ContactID, &t.ChannelConnectionID,
		&queueID, &userID, &t.Status, &t.Channel, &lastMessage, &t.LeadScore,
		&t.UnreadMessages, &t.IsGroup, &slaDueAt, &firstHuman, &resolvedAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ticket: %w", err)
	}

	if queueID.Valid {
		t.QueueID = &queueID.Int64
	}
	if userID.Valid {
		t.UserID = &userID.Int64
	}
	if slaDueAt.Valid {
		t.SLADueAt = &slaDueAt.Time
	}
	if firstHuman.Valid {
		t.FirstHumanResponseAt = &firstHuman.Time
	}
	if resolvedAt.Valid {
		t.ResolvedAt = &resolvedAt.Time
	}
	t.LastMessage = lastMessage.String
	return &t, nil
}

func (d *Database) CreateTicket(ctx context.Context, scope tenant.Scope, t *models.Ticket) error {
	tenantID, err := scopedTenantID(scope, t.TenantID)
	if err != nil {
		return err
	}
	t.TenantID = tenantID

	if t.Status == "" {
		t.Status = models.TicketStatusPending
	}

	query := `
		INSERT INTO tickets (
			tenant_id, contact_id, channel_connection_id, queue_id, user_id,
			status, channel, last_message, lead_score, unread_messages, is_group,
			sla_due_at, first_human_response_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var res sql.Result
	err = retryableWrite(ctx, func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx, query,
			tenantID, t.ContactID, t.ChannelConnectionID, nullableID(t.QueueID), nullableID(t.UserID),
			t.Status, t.Channel, t.LastMessage, t.LeadScore, t.UnreadMessages, t.IsGroup,
			nullableTime(t.SLADueAt), nullableTime(t.FirstHumanResponseAt), nullableTime(t.ResolvedAt))
		return execErr
	}, "create ticket")
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read ticket id: %w", err)
	}
	t.ID = id
	return nil
}

func (d *Database) GetTicket(ctx context.Context, scope tenant.Scope, id int64) (*models.Ticket, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?` + cond
	return scanTicket(d.db.QueryRowContext(ctx, query, append([]interface{}{id}, args...)...))
}

// GetOpenTicketForContact returns the contact's non-closed ticket on the
// given channel connection, if one exists.
func (d *Database) GetOpenTicketForContact(ctx context.Context, scope tenant.Scope, contactID, channelConnectionID int64) (*models.Ticket, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets
		WHERE contact_id = ? AND channel_connection_id = ? AND status != 'closed'` + cond + `
		ORDER BY id DESC LIMIT 1`
	return scanTicket(d.db.QueryRowContext(ctx, query,
		append([]interface{}{contactID, channelConnectionID}, args...)...))
}

// CountOpenTicketsForContact counts the contact's non-closed tickets on
// connections other than excludeConnectionID.
func (d *Database) CountOpenTicketsForContact(ctx context.Context, scope tenant.Scope, contactID, excludeConnectionID int64) (int, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM tickets
		WHERE contact_id = ? AND channel_connection_id != ? AND status != 'closed'` + cond

	var count int
	err = d.db.QueryRowContext(ctx, query,
		append([]interface{}{contactID, excludeConnectionID}, args...)...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open tickets: %w", err)
	}
	return count, nil
}

func (d *Database) UpdateTicket(ctx context.Context, scope tenant.Scope, t *models.Ticket) error {
	cond, condArgs, err := scopeClause(scope)
	if err != nil {
		return err
	}

	query := `
		UPDATE tickets
		SET contact_id = ?, channel_connection_id = ?, queue_id = ?, user_id = ?,
		    status = ?, channel = ?, last_message = ?, lead_score = ?,
		    unread_messages = ?, is_group = ?, sla_due_at = ?,
		    first_human_response_at = ?, resolved_at = ?
		WHERE id = ?` + cond

	args := []interface{}{
		t.ContactID, t.ChannelConnectionID, nullableID(t.QueueID), nullableID(t.UserID),
		t.Status, t.Channel, t.LastMessage, t.LeadScore,
		t.UnreadMessages, t.IsGroup, nullableTime(t.SLADueAt),
		nullableTime(t.FirstHumanResponseAt), nullableTime(t.ResolvedAt), t.ID,
	}
	args = append(args, condArgs...)

	return retryableWrite(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, args...)
		return err
	}, "update ticket")
}

// ListOverdueTickets returns every pending/open ticket whose SLA due time is
// in the past. The SLA sweep calls it under the super-admin scope; tenant
// callers see only their own rows.
func (d *Database) ListOverdueTickets(ctx context.Context, scope tenant.Scope, now time.Time) ([]*models.Ticket, error) {
	cond, condArgs, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets
		WHERE status IN ('pending', 'open') AND sla_due_at IS NOT NULL AND sla_due_at < ?` + cond + `
		ORDER BY tenant_id, id`

	rows, err := d.db.QueryContext(ctx, query, append([]interface{}{now}, condArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// GetTicketWithAssociations reloads a ticket with its contact, queue, and
// tags so notification payloads are consistent.
func (d *Database) GetTicketWithAssociations(ctx context.Context, scope tenant.Scope, id int64) (*models.Ticket, error) {
	t, err := d.GetTicket(ctx, scope, id)
	if err != nil || t == nil {
		return t, err
	}

	rowScope := tenant.System(t.TenantID)
	if t.Contact, err = d.GetContact(ctx, rowScope, t.ContactID); err != nil {
		return nil, err
	}
	if t.QueueID != nil {
		if t.Queue, err = d.GetQueue(ctx, rowScope, *t.QueueID); err != nil {
			return nil, err
		}
	}
	if t.Tags, err = d.ListTicketTags(ctx, rowScope, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
