package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteBackend keeps each collection as rows of one documents table, the
// document body stored as wire-format JSON.
type SQLiteBackend struct {
	db *sql.DB
}

const documentsSchema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`

// NewSQLiteBackend ensures the documents table exists on the given handle.
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	if _, err := db.Exec(documentsSchema); err != nil {
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, body FROM documents WHERE collection=? ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Data); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Get(ctx context.Context, collection, id string) (*Document, error) {
	var d Document
	err := b.db.QueryRowContext(ctx, `SELECT id, body FROM documents WHERE collection=? AND id=?`, collection, id).
		Scan(&d.ID, &d.Data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, collection string, doc Document) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := b.db.ExecContext(ctx, `INSERT INTO documents(collection,id,body,updated_at) VALUES (?,?,?,?)
ON CONFLICT(collection,id) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		collection, doc.ID, doc.Data, now)
	return err
}

func (b *SQLiteBackend) Delete(ctx context.Context, collection, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM documents WHERE collection=? AND id=?`, collection, id)
	return err
}

func (b *SQLiteBackend) Apply(ctx context.Context, collection string, puts []Document, deletes []string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	for _, doc := range puts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents(collection,id,body,updated_at) VALUES (?,?,?,?)
ON CONFLICT(collection,id) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
			collection, doc.ID, doc.Data, now); err != nil {
			return err
		}
	}
	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection=? AND id=?`, collection, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
