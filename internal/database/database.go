// Package database is the tenant-scoped repository layer over SQLite.
// Every method of a tenant-scoped entity takes the operation's tenant.Scope
// explicitly and composes it into the query predicate; nothing relies on an
// implicit interception mechanism.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"ticketflow/internal/migrations"
	"ticketflow/internal/tenant"

	apperrors "ticketflow/internal/errors"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' || strings.Contains(dbPath, "..") {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// requireScope validates the scope of a tenant-scoped operation and returns
// the tenant id to stamp/filter with. Super-admin callers must name the
// tenant on the row itself; rowTenantID carries that when present.
func requireScope(scope tenant.Scope) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	return scope.TenantID, nil
}

// scopedTenantID resolves the tenant id an entity row should carry: the
// scope's tenant, unless a super-admin caller supplied one explicitly.
func scopedTenantID(scope tenant.Scope, explicit int64) (int64, error) {
	if scope.IsSuperAdmin() {
		if explicit <= 0 {
			return 0, apperrors.New(apperrors.ErrCodeTenantContextRequired, "super-admin write requires an explicit tenant id")
		}
		return explicit, nil
	}
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if explicit != 0 && explicit != scope.TenantID {
		return 0, apperrors.New(apperrors.ErrCodePermissionDenied, "cross-tenant mutation denied")
	}
	return scope.TenantID, nil
}

func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
