package database

import (
	"context"
	"database/sql"
	"fmt"

	"ticketflow/internal/models"
	"ticketflow/internal/tenant"
)

func (d *Database) InsertTicketEvent(ctx context.Context, scope tenant.Scope, e *models.TicketEvent) error {
	tenantID, err := scopedTenantID(scope, e.TenantID)
	if err != nil {
		return err
	}
	e.TenantID = tenantID

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO ticket_events (tenant_id, ticket_id, type, source, payload) VALUES (?, ?, ?, ?, ?)`,
		tenantID, e.TicketID, e.Type, e.Source, e.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert ticket event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read ticket event id: %w", err)
	}
	e.ID = id
	return nil
}

func (d *Database) ListTicketEvents(ctx context.Context, scope tenant.Scope, ticketID int64) ([]models.TicketEvent, error) {
	cond, condArgs, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, ticket_id, type, source, payload, created_at
		FROM ticket_events WHERE ticket_id = ?` + cond + ` ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, append([]interface{}{ticketID}, condArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket events: %w", err)
	}
	defer rows.Close()

	var events []models.TicketEvent
	for rows.Next() {
		var e models.TicketEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.TicketID, &e.Type, &e.Source, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket event: %w", err)
		}
		e.Payload = payload.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Queue operations

func (d *Database) GetQueue(ctx context.Context, scope tenant.Scope, id int64) (*models.Queue, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, name, color, mode, prompt, auto_reply, created_at, updated_at
		FROM queues WHERE id = ?` + cond

	var q models.Queue
	var color, prompt sql.NullString
	err = d.db.QueryRowContext(ctx, query, append([]interface{}{id}, args...)...).
		Scan(&q.ID, &q.TenantID, &q.Name, &color, &q.Mode, &prompt, &q.AutoReply, &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	q.Color = color.String
	q.Prompt = prompt.String
	return &q, nil
}

func (d *Database) CreateQueue(ctx context.Context, scope tenant.Scope, q *models.Queue) error {
	tenantID, err := scopedTenantID(scope, q.TenantID)
	if err != nil {
		return err
	}
	q.TenantID = tenantID

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO queues (tenant_id, name, color, mode, prompt, auto_reply) VALUES (?, ?, ?, ?, ?, ?)`,
		tenantID, q.Name, q.Color, q.Mode, q.Prompt, q.AutoReply)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read queue id: %w", err)
	}
	q.ID = id
	return nil
}

// User operations

func (d *Database) GetUser(ctx context.Context, scope tenant.Scope, id int64) (*models.User, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, name, email FROM users WHERE id = ?` + cond

	var u models.User
	var email sql.NullString
	err = d.db.QueryRowContext(ctx, query, append([]interface{}{id}, args...)...).
		Scan(&u.ID, &u.TenantID, &u.Name, &email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Email = email.String
	return &u, nil
}

func (d *Database) CreateUser(ctx context.Context, scope tenant.Scope, u *models.User) error {
	tenantID, err := scopedTenantID(scope, u.TenantID)
	if err != nil {
		return err
	}
	u.TenantID = tenantID

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO users (tenant_id, name, email) VALUES (?, ?, ?)`,
		tenantID, u.Name, u.Email)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	u.ID = id
	return nil
}

// Channel connection operations

func (d *Database) GetChannelConnection(ctx context.Context, scope tenant.Scope, id int64) (*models.ChannelConnection, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, name, channel, status, farewell_message
		FROM channel_connections WHERE id = ?` + cond

	var c models.ChannelConnection
	var farewell sql.NullString
	err = d.db.QueryRowContext(ctx, query, append([]interface{}{id}, args...)...).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Status, &farewell)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel connection: %w", err)
	}
	c.FarewellMessage = farewell.String
	return &c, nil
}

func (d *Database) CreateChannelConnection(ctx context.Context, scope tenant.Scope, c *models.ChannelConnection) error {
	tenantID, err := scopedTenantID(scope, c.TenantID)
	if err != nil {
		return err
	}
	c.TenantID = tenantID

	if c.Channel == "" {
		c.Channel = "whatsapp"
	}
	if c.Status == "" {
		c.Status = "connected"
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO channel_connections (tenant_id, name, channel, status, farewell_message) VALUES (?, ?, ?, ?, ?)`,
		tenantID, c.Name, c.Channel, c.Status, c.FarewellMessage)
	if err != nil {
		return fmt.Errorf("failed to create channel connection: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read channel connection id: %w", err)
	}
	c.ID = id
	return nil
}

// Tag operations

func (d *Database) GetTag(ctx context.Context, scope tenant.Scope, id int64) (*models.Tag, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, name, color FROM tags WHERE id = ?` + cond
	return scanTag(d.db.QueryRowContext(ctx, query, append([]interface{}{id}, args...)...))
}

func (d *Database) GetTagByName(ctx context.Context, scope tenant.Scope, name string) (*models.Tag, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, tenant_id, name, color FROM tags WHERE name = ?` + cond
	return scanTag(d.db.QueryRowContext(ctx, query, append([]interface{}{name}, args...)...))
}

func scanTag(row *sql.Row) (*models.Tag, error) {
	var t models.Tag
	var color sql.NullString
	err := row.Scan(&t.ID, &t.TenantID, &t.Name, &color)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tag: %w", err)
	}
	t.Color = color.String
	return &t, nil
}

func (d *Database) CreateTag(ctx context.Context, scope tenant.Scope, t *models.Tag) error {
	tenantID, err := scopedTenantID(scope, t.TenantID)
	if err != nil {
		return err
	}
	t.TenantID = tenantID

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO tags (tenant_id, name, color) VALUES (?, ?, ?)`,
		tenantID, t.Name, t.Color)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read tag id: %w", err)
	}
	t.ID = id
	return nil
}

// SetTicketTags replaces the full tag set of a ticket.
func (d *Database) SetTicketTags(ctx context.Context, scope tenant.Scope, ticketID int64, tagIDs []int64) error {
	if _, err := requireScope(scope); err != nil {
		return err
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ticket_tags WHERE ticket_id = ?`, ticketID); err != nil {
			return fmt.Errorf("failed to clear ticket tags: %w", err)
		}
		for _, tagID := range tagIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ticket_tags (ticket_id, tag_id) VALUES (?, ?)`, ticketID, tagID); err != nil {
				return fmt.Errorf("failed to set ticket tag: %w", err)
			}
		}
		return nil
	})
}

func (d *Database) ListTicketTags(ctx context.Context, scope tenant.Scope, ticketID int64) ([]models.Tag, error) {
	cond, condArgs, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT t.id, t.tenant_id, t.name, t.color
		FROM tags t JOIN ticket_tags tt ON tt.tag_id = t.id
		WHERE tt.ticket_id = ?` + replaceTenantAlias(cond) + ` ORDER BY t.id`

	rows, err := d.db.QueryContext(ctx, query, append([]interface{}{ticketID}, condArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var t models.Tag
		var color sql.NullString
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &color); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		t.Color = color.String
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// Settings operations

func (d *Database) GetSetting(ctx context.Context, scope tenant.Scope, key string) (string, error) {
	tenantID, err := requireScope(scope)
	if err != nil {
		return "", err
	}

	var value sql.NullString
	err = d.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE tenant_id = ? AND key = ?`, tenantID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value.String, nil
}

func (d *Database) SetSetting(ctx context.Context, scope tenant.Scope, key, value string) error {
	tenantID, err := requireScope(scope)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO settings (tenant_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		tenantID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

// Tenant operations

func (d *Database) CreateTenant(ctx context.Context, name string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `INSERT INTO tenants (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create tenant: %w", err)
	}
	return res.LastInsertId()
}

func replaceTenantAlias(cond string) string {
	if cond == "" {
		return ""
	}
	return " AND t.tenant_id = ?"
}
