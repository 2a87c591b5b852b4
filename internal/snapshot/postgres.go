package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresBackend stores snapshot documents in the snapshots table
type PostgresBackend struct {
	db     DBTX
	logger *zap.Logger
}

func NewPostgresBackend(db DBTX, logger *zap.Logger) *PostgresBackend {
	return &PostgresBackend{db: db, logger: logger.Named("PgSnapshotBackend")}
}

// EnsureSchema creates the snapshots table when it is missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	const ddl = `
        CREATE TABLE IF NOT EXISTS snapshots (
            id         TEXT PRIMARY KEY,
            project_id TEXT NOT NULL,
            doc        BYTEA NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS snapshots_project_id_idx ON snapshots (project_id);
    `
	if _, err := b.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Put(ctx context.Context, projectID, id string, doc []byte) error {
	query := `
        INSERT INTO snapshots (id, project_id, doc)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET
            doc = EXCLUDED.doc,
            updated_at = NOW()
    `
	if _, err := b.db.Exec(ctx, query, id, projectID, doc); err != nil {
		b.logger.Error("Error saving snapshot", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("database error saving snapshot '%s': %w", id, err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, id string) ([]byte, error) {
	var doc []byte
	err := b.db.QueryRow(ctx, `SELECT doc FROM snapshots WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, "snapshot %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("database error reading snapshot '%s': %w", id, err)
	}
	return doc, nil
}

func (b *PostgresBackend) List(ctx context.Context, projectID string) ([][]byte, error) {
	rows, err := b.db.Query(ctx, `SELECT doc FROM snapshots WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("database error listing snapshots: %w", err)
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			b.logger.Error("Failed to scan snapshot row", zap.String("project", projectID), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	return docs, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, id string) error {
	tag, err := b.db.Exec(ctx, `DELETE FROM snapshots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("database error deleting snapshot '%s': %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewError(model.KindNotFound, "snapshot %s not found", id)
	}
	return nil
}
