package delivery

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the delivery_log table. Rows are only ever inserted.
const Schema = `CREATE TABLE IF NOT EXISTS delivery_log (
	id               UUID PRIMARY KEY,
	document_id      TEXT NOT NULL,
	tenant_id        TEXT NOT NULL,
	operation        TEXT NOT NULL,
	channel          TEXT NOT NULL DEFAULT '',
	request_payload  TEXT NOT NULL DEFAULT '',
	response_payload TEXT NOT NULL DEFAULT '',
	response_code    TEXT NOT NULL DEFAULT '',
	http_status      INTEGER NOT NULL DEFAULT 0,
	duration_ms      BIGINT NOT NULL,
	error_detail     TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS delivery_log_document_idx ON delivery_log (document_id, created_at)`

const insertEntry = `INSERT INTO delivery_log
	(id, document_id, tenant_id, operation, channel, request_payload, response_payload,
	 response_code, http_status, duration_ms, error_detail, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// execer is the part of *pgxpool.Pool the sink uses
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink inserts entries into delivery_log
type PostgresSink struct {
	db execer
}

// NewPostgresSink creates a sink over a pool or any compatible executor
func NewPostgresSink(db execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgres connects a pool and makes sure the table exists
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if err := NewPostgresSink(pool).EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the table and index if missing
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "create delivery_log")
	}
	return nil
}

func (s *PostgresSink) Append(ctx context.Context, e Entry) error {
	_, err := s.db.Exec(ctx, insertEntry,
		e.ID, e.DocumentID, e.TenantID, string(e.Operation), e.Channel,
		e.RequestPayload, e.ResponsePayload, e.ResponseCode, e.HTTPStatus,
		e.DurationMs, e.ErrorDetail, e.Timestamp,
	)
	if err != nil {
		return errors.Wrap(err, "insert delivery_log")
	}
	return nil
}
