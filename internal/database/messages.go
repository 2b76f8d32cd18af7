package database

import (
	"context"
	"database/sql"
	"fmt"

	"ticketflow/internal/models"
	"ticketflow/internal/tenant"
)

const messageColumns = `id, tenant_id, ticket_id, contact_id, body, from_me, is_read, ack,
	media_type, media_url, quoted_msg_id, is_deleted, created_at, updated_at`

func (d *Database) scanMessage(scanner interface{ Scan(...interface{}) error }) (*models.Message, error) {
	var m models.Message
	var contactID sql.NullInt64
	var encBody sql.NullString
	var mediaType, mediaURL, quotedMsgID sql.NullString

	err := scanner.Scan(&m.ID, &m.TenantID, &m.TicketID, &contactID, &encBody,
		&m.FromMe, &m.Read, &m.Ack, &mediaType, &mediaURL, &quotedMsgID,
		&m.Deleted, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if contactID.Valid {
		m.ContactID = &contactID.Int64
	}
	if m.Body, err = d.encryptor.DecryptIfEnabled(encBody.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt message body: %w", err)
	}
	m.MediaType = mediaType.String
	m.MediaURL = mediaURL.String
	if quotedMsgID.Valid && quotedMsgID.String != "" {
		m.QuotedMsgID = &quotedMsgID.String
	}
	return &m, nil
}

func (d *Database) InsertMessage(ctx context.Context, scope tenant.Scope, m *models.Message) error {
	tenantID, err := scopedTenantID(scope, m.TenantID)
	if err != nil {
		return err
	}
	m.TenantID = tenantID

	encBody, err := d.encryptor.EncryptIfEnabled(m.Body)
	if err != nil {
		return fmt.Errorf("failed to encrypt message body: %w", err)
	}

	var quotedMsgID interface{}
	if m.QuotedMsgID != nil && *m.QuotedMsgID != "" {
		quotedMsgID = *m.QuotedMsgID
	}

	query := `
		INSERT INTO messages (
			id, tenant_id, ticket_id, contact_id, body, from_me, is_read, ack,
			media_type, media_url, quoted_msg_id, is_deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return retryableWrite(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			m.ID, tenantID, m.TicketID, nullableID(m.ContactID), encBody, m.FromMe,
			m.Read, m.Ack, m.MediaType, m.MediaURL, quotedMsgID, m.Deleted)
		return err
	}, "insert message")
}

func (d *Database) GetMessage(ctx context.Context, scope tenant.Scope, id string) (*models.Message, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?` + cond
	return d.scanMessage(d.db.QueryRowContext(ctx, query, append([]interface{}{id}, args...)...))
}

// UpdateMessageAck merges the incoming ack level into the stored one,
// never regressing it. The merge happens in SQL so concurrent updates
// commute.
func (d *Database) UpdateMessageAck(ctx context.Context, scope tenant.Scope, id string, ack models.AckLevel) error {
	cond, condArgs, err := scopeClause(scope)
	if err != nil {
		return err
	}

	query := `UPDATE messages SET ack = MAX(ack, ?) WHERE id = ?` + cond
	args := append([]interface{}{int(ack), id}, condArgs...)

	return retryableWrite(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, args...)
		return err
	}, "update message ack")
}

func (d *Database) ListRecentMessages(ctx context.Context, scope tenant.Scope, ticketID int64, limit int) ([]*models.Message, error) {
	cond, condArgs, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE ticket_id = ? AND is_deleted = FALSE` + cond + `
		ORDER BY created_at DESC, id DESC LIMIT ?`

	args := append([]interface{}{ticketID}, condArgs...)
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := d.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first for conversational context
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (d *Database) MarkMessagesRead(ctx context.Context, scope tenant.Scope, ticketID int64) error {
	cond, condArgs, err := scopeClause(scope)
	if err != nil {
		return err
	}

	query := `UPDATE messages SET is_read = TRUE WHERE ticket_id = ? AND is_read = FALSE` + cond
	args := append([]interface{}{ticketID}, condArgs...)

	return retryableWrite(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, args...)
		return err
	}, "mark messages read")
}

// MarkMessageDeleted flags a message as deleted. Messages are never removed.
func (d *Database) MarkMessageDeleted(ctx context.Context, scope tenant.Scope, id string) error {
	cond, condArgs, err := scopeClause(scope)
	if err != nil {
		return err
	}

	query := `UPDATE messages SET is_deleted = TRUE WHERE id = ?` + cond
	args := append([]interface{}{id}, condArgs...)

	return retryableWrite(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, args...)
		return err
	}, "mark message deleted")
}
