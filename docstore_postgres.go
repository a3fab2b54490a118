package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type postgresBackend struct {
	conn *sql.DB
}

func newPostgresBackend(ctx context.Context, dsn string) (*postgresBackend, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &postgresBackend{conn: conn}

	if err := b.createTables(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return b, nil
}

func (b *postgresBackend) createTables(ctx context.Context) error {
	_, err := b.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		fields JSONB NOT NULL,
		create_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		update_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	)`)
	return err
}

func (b *postgresBackend) Close() error {
	return b.conn.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (storedDocument, error) {
	var (
		raw []byte
		doc storedDocument
	)

	if err := row.Scan(&raw, &doc.CreateTime, &doc.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storedDocument{}, ErrNotFound
		}
		return storedDocument{}, err
	}

	if err := json.Unmarshal(raw, &doc.Fields); err != nil {
		return storedDocument{}, fmt.Errorf("decode stored fields: %w", err)
	}

	return doc, nil
}

func (b *postgresBackend) Get(ctx context.Context, collection, id string) (storedDocument, error) {
	row := b.conn.QueryRowContext(ctx,
		`SELECT fields, create_time, update_time FROM documents WHERE collection = $1 AND id = $2`,
		collection, id)

	return scanDocument(row)
}

// Patch merges inside a transaction so concurrent patches of different
// fields of one document do not lose each other. Patches of the same field
// still overwrite: that is the protocol.
func (b *postgresBackend) Patch(ctx context.Context, collection, id string, fields map[string]json.RawMessage, mask []string) (storedDocument, error) {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return storedDocument{}, err
	}
	defer tx.Rollback()

	current, err := scanDocument(tx.QueryRowContext(ctx,
		`SELECT fields, create_time, update_time FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return storedDocument{}, err
	}

	merged := applyPatch(current.Fields, fields, mask)

	raw, err := json.Marshal(merged)
	if err != nil {
		return storedDocument{}, err
	}

	now := time.Now().UTC()

	doc, err := scanDocument(tx.QueryRowContext(ctx,
		`INSERT INTO documents (collection, id, fields, create_time, update_time)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (collection, id) DO UPDATE SET fields = EXCLUDED.fields, update_time = EXCLUDED.update_time
		 RETURNING fields, create_time, update_time`,
		collection, id, string(raw), now))
	if err != nil {
		return storedDocument{}, err
	}

	if err := tx.Commit(); err != nil {
		return storedDocument{}, err
	}

	return doc, nil
}
