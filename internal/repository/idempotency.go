package repository

import (
	"context"
	"fmt"
)

// IdempotencyKeyRow mirrors one row of the idempotency_keys table.
type IdempotencyKeyRow struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
}

const idempotencyColumns = `idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress`

func scanIdempotencyKey(row interface{ Scan(dest ...any) error }) (IdempotencyKeyRow, error) {
	var r IdempotencyKeyRow
	err := row.Scan(&r.IdempotencyKey, &r.RequestHash, &r.Method, &r.Path, &r.ResponseStatus, &r.ResponseBody, &r.ContentType, &r.InProgress)
	return r, err
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKeyRow, error) {
	query := `SELECT ` + idempotencyColumns + ` FROM idempotency_keys WHERE idempotency_key = $1`
	return scanIdempotencyKey(q.db.QueryRow(ctx, query, key))
}

// ReserveIdempotencyKey claims the key for an in-flight request. The
// conflict target makes the claim race-free: a second caller gets
// pgx.ErrNoRows from the empty RETURNING set.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, key, requestHash, method, path string) (IdempotencyKeyRow, error) {
	query := `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + idempotencyColumns
	return scanIdempotencyKey(q.db.QueryRow(ctx, query, key, requestHash, method, path))
}

// FinalizeIdempotencyKey stores the response for replay and clears the
// in-progress flag.
func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, key, requestHash string, status int32, body []byte, contentType string) (IdempotencyKeyRow, error) {
	query := `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING ` + idempotencyColumns
	row, err := scanIdempotencyKey(q.db.QueryRow(ctx, query, status, body, contentType, key, requestHash))
	if err != nil {
		return IdempotencyKeyRow{}, err
	}
	return row, nil
}

// DeleteExpiredIdempotencyKeys prunes finished keys older than the TTL.
func (q *Queries) DeleteExpiredIdempotencyKeys(ctx context.Context, olderThanSeconds int64) (int64, error) {
	query := `DELETE FROM idempotency_keys WHERE in_progress = FALSE AND updated_at < NOW() - ($1 * INTERVAL '1 second')`
	tag, err := q.db.Exec(ctx, query, olderThanSeconds)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
