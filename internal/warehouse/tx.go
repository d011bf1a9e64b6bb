package warehouse

import (
	"context"
	"database/sql"
	"fmt"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Dimension and fact helpers are written against it so they work both
// inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is a warehouse transaction. All dimension lookups and fact upserts for
// one snapshot file happen on a single Tx so that a crash mid-file cannot
// leave the fact tables partially updated.
type Tx struct {
	tx *sql.Tx
}

// InTransaction runs fn inside a single all-or-nothing transaction.
//
// The transaction is rolled back if fn returns an error or panics, and
// committed otherwise.
func (db *DB) InTransaction(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
