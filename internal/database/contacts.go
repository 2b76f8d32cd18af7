package database

import (
	"context"
	"database/sql"
	"fmt"

	"ticketflow/internal/models"
	"ticketflow/internal/tenant"
)

// scopeClause returns the tenant predicate appended to every tenant-scoped
// query. Super-admin scopes bypass it.
func scopeClause(scope tenant.Scope) (string, []interface{}, error) {
	if scope.IsSuperAdmin() {
		return "", nil, nil
	}
	if err := scope.Validate(); err != nil {
		return "", nil, err
	}
	return " AND tenant_id = ?", []interface{}{scope.TenantID}, nil
}

const contactColumns = `id, tenant_id, name, number, alt_id, email, profile_pic_url, is_group, created_at, updated_at`

func (d *Database) scanContact(row *sql.Row) (*models.Contact, error) {
	var c models.Contact
	var encName, encNumber string
	var encAltID sql.NullString

	err := row.Scan(&c.ID, &c.TenantID, &encName, &encNumber, &encAltID,
		&c.Email, &c.ProfilePicURL, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}

	if c.Name, err = d.encryptor.DecryptIfEnabled(encName); err != nil {
		return nil, fmt.Errorf("failed to decrypt contact name: %w", err)
	}
	if c.Number, err = d.encryptor.DecryptIfEnabled(encNumber); err != nil {
		return nil, fmt.Errorf("failed to decrypt contact number: %w", err)
	}
	if encAltID.Valid {
		altID, err := d.encryptor.DecryptIfEnabled(encAltID.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt contact alt id: %w", err)
		}
		c.AltID = &altID
	}

	return &c, nil
}

func (d *Database) encodeContactIdentity(c *models.Contact) (name, number string, altID interface{}, err error) {
	if name, err = d.encryptor.EncryptIfEnabled(c.Name); err != nil {
		return "", "", nil, fmt.Errorf("failed to encrypt contact name: %w", err)
	}
	if number, err = d.encryptor.EncryptForLookupIfEnabled(c.Number); err != nil {
		return "", "", nil, fmt.Errorf("failed to encrypt contact number: %w", err)
	}
	if c.AltID != nil && *c.AltID != "" {
		encAlt, err := d.encryptor.EncryptForLookupIfEnabled(*c.AltID)
		if err != nil {
			return "", "", nil, fmt.Errorf("failed to encrypt contact alt id: %w", err)
		}
		altID = encAlt
	}
	return name, number, altID, nil
}

// CreateContact inserts a contact stamped with the scope's tenant.
// A UNIQUE constraint failure is returned as-is; callers re-query on it.
func (d *Database) CreateContact(ctx context.Context, scope tenant.Scope, c *models.Contact) error {
	tenantID, err := scopedTenantID(scope, c.TenantID)
	if err != nil {
		return err
	}
	c.TenantID = tenantID

	name, number, altID, err := d.encodeContactIdentity(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO contacts (tenant_id, name, number, alt_id, email, profile_pic_url, is_group)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := d.db.ExecContext(ctx, query, tenantID, name, number, altID, c.Email, c.ProfilePicURL, c.IsGroup)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read contact id: %w", err)
	}
	c.ID = id
	return nil
}

func (d *Database) GetContact(ctx context.Context, scope tenant.Scope, id int64) (*models.Contact, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = ?` + cond
	return d.scanContact(d.db.QueryRowContext(ctx, query, append([]interface{}{id}, args...)...))
}

func (d *Database) GetContactByNumber(ctx context.Context, scope tenant.Scope, number string) (*models.Contact, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	encNumber, err := d.encryptor.EncryptForLookupIfEnabled(number)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt contact number: %w", err)
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE number = ?` + cond
	return d.scanContact(d.db.QueryRowContext(ctx, query, append([]interface{}{encNumber}, args...)...))
}

func (d *Database) GetContactByAltID(ctx context.Context, scope tenant.Scope, altID string) (*models.Contact, error) {
	cond, args, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}

	encAltID, err := d.encryptor.EncryptForLookupIfEnabled(altID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt contact alt id: %w", err)
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE alt_id = ?` + cond
	return d.scanContact(d.db.QueryRowContext(ctx, query, append([]interface{}{encAltID}, args...)...))
}

func (d *Database) UpdateContact(ctx context.Context, scope tenant.Scope, c *models.Contact) error {
	cond, condArgs, err := scopeClause(scope)
	if err != nil {
		return err
	}

	name, number, altID, err := d.encodeContactIdentity(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE contacts
		SET name = ?, number = ?, alt_id = ?, email = ?, profile_pic_url = ?, is_group = ?
		WHERE id = ?` + cond

	args := []interface{}{name, number, altID, c.Email, c.ProfilePicURL, c.IsGroup, c.ID}
	args = append(args, condArgs...)

	return retryableWrite(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, args...)
		return err
	}, "update contact")
}

// MergeContacts repoints every ticket, message, and custom field of the
// loser to the survivor and destroys the loser, all in one transaction.
func (d *Database) MergeContacts(ctx context.Context, scope tenant.Scope, survivorID, loserID int64) error {
	tenantID, err := requireScope(scope)
	if err != nil {
		return err
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		repoint := []string{
			`UPDATE tickets SET contact_id = ? WHERE contact_id = ? AND tenant_id = ?`,
			`UPDATE messages SET contact_id = ? WHERE contact_id = ? AND tenant_id = ?`,
		}
		for _, query := range repoint {
			if _, err := tx.ExecContext(ctx, query, survivorID, loserID, tenantID); err != nil {
				return fmt.Errorf("failed to repoint contact rows: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE contact_custom_fields SET contact_id = ? WHERE contact_id = ?`,
			survivorID, loserID); err != nil {
			return fmt.Errorf("failed to repoint custom fields: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM contacts WHERE id = ? AND tenant_id = ?`, loserID, tenantID); err != nil {
			return fmt.Errorf("failed to delete merged contact: %w", err)
		}
		return nil
	})
}

func (d *Database) SaveContactCustomField(ctx context.Context, scope tenant.Scope, field *models.ContactCustomField) error {
	contact, err := d.GetContact(ctx, scope, field.ContactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return sql.ErrNoRows
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO contact_custom_fields (contact_id, name, value) VALUES (?, ?, ?)`,
		field.ContactID, field.Name, field.Value)
	if err != nil {
		return fmt.Errorf("failed to save custom field: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read custom field id: %w", err)
	}
	field.ID = id
	return nil
}

func (d *Database) GetContactCustomFields(ctx context.Context, scope tenant.Scope, contactID int64) ([]models.ContactCustomField, error) {
	contact, err := d.GetContact(ctx, scope, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, nil
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, contact_id, name, value FROM contact_custom_fields WHERE contact_id = ? ORDER BY id`,
		contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom fields: %w", err)
	}
	defer rows.Close()

	var fields []models.ContactCustomField
	for rows.Next() {
		var f models.ContactCustomField
		if err := rows.Scan(&f.ID, &f.ContactID, &f.Name, &f.Value); err != nil {
			return nil, fmt.Errorf("failed to scan custom field: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}
