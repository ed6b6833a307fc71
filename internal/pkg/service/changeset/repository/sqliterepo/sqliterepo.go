// Package sqliterepo implements the change set repository on top of SQLite.
// Status changes are conditional updates, several processes on one host can share the database file.
package sqliterepo

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

//go:embed schema.sql
var schemaSQL string

const columns = `id, tenant_id, queue_key, direction, event_type, status, retry_count, created_at, last_updated_at, last_error, payload`

type Repository struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Open creates or opens the database at the path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention between processes
func Open(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.PrefixError(err, "cannot open database")
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.PrefixError(err, "cannot connect to database")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.PrefixErrorf(err, `cannot execute "%s"`, pragma)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.PrefixError(err, "cannot apply schema")
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Create(ctx context.Context, v model.ChangeSet) error {
	if err := repository.ValidateChangeSet(ctx, v); err != nil {
		return err
	}

	var payload []byte
	if len(v.Payload) > 0 {
		payload = v.Payload
	}

	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO change_sets (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ChangeSetID, v.TenantID, v.QueueKey, v.Direction, v.EventType, v.Status, v.RetryCount,
		toUnix(v.CreatedAt), toUnix(v.LastUpdatedAt), v.LastError, payload,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return repository.AlreadyExistsError{Key: v.ChangeSetKey}
		}
		return errors.PrefixErrorf(err, `cannot create change set "%s"`, v.ChangeSetKey)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, k model.ChangeSetKey) (model.ChangeSet, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT `+columns+` FROM change_sets WHERE id = ? AND tenant_id = ? AND queue_key = ?`,
		k.ChangeSetID, k.TenantID, k.QueueKey,
	)
	v, err := scanChangeSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ChangeSet{}, repository.NotFoundError{Key: k}
	} else if err != nil {
		return model.ChangeSet{}, errors.PrefixErrorf(err, `cannot get change set "%s"`, k)
	}
	return v, nil
}

func (r *Repository) ListByStatus(ctx context.Context, status model.Status, filter repository.Filter) (out []model.ChangeSet, err error) {
	where, args := filterSQL(status, filter)
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM change_sets WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot list "%s" change sets`, status)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanChangeSet(rows)
		if err != nil {
			return nil, errors.PrefixErrorf(err, `cannot list "%s" change sets`, status)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PrefixErrorf(err, `cannot list "%s" change sets`, status)
	}
	return out, nil
}

func (r *Repository) GroupCounts(ctx context.Context, status model.Status, filter repository.Filter) (out []model.GroupCount, err error) {
	where, args := filterSQL(status, filter)
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT tenant_id, queue_key, COUNT(*) FROM change_sets WHERE `+where+` GROUP BY tenant_id, queue_key ORDER BY tenant_id, queue_key`,
		args...,
	)
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot count "%s" change sets`, status)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.GroupCount
		if err := rows.Scan(&c.TenantID, &c.QueueKey, &c.Count); err != nil {
			return nil, errors.PrefixErrorf(err, `cannot count "%s" change sets`, status)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PrefixErrorf(err, `cannot count "%s" change sets`, status)
	}
	return out, nil
}

func (r *Repository) Claim(ctx context.Context, k model.ChangeSetKey, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE change_sets SET status = ?, last_updated_at = ? WHERE id = ? AND tenant_id = ? AND queue_key = ? AND status = ?`,
		model.StatusRunning, toUnix(now), k.ChangeSetID, k.TenantID, k.QueueKey, model.StatusQueued,
	)
	if err != nil {
		return false, errors.PrefixErrorf(err, `cannot claim change set "%s"`, k)
	}
	return affectedOne(res)
}

func (r *Repository) Transition(ctx context.Context, t model.Transition) (bool, error) {
	if err := repository.ValidateTransition(t); err != nil {
		return false, err
	}

	retryIncrement := 0
	if t.IncrementRetry {
		retryIncrement = 1
	}

	res, err := r.db.ExecContext(
		ctx,
		`UPDATE change_sets
		SET status = ?, last_updated_at = ?, retry_count = retry_count + ?, last_error = CASE WHEN ? != '' THEN ? ELSE last_error END
		WHERE id = ? AND tenant_id = ? AND queue_key = ? AND status = ?`,
		t.To, toUnix(t.At), retryIncrement, t.Reason, t.Reason,
		t.Key.ChangeSetID, t.Key.TenantID, t.Key.QueueKey, t.From,
	)
	if err != nil {
		return false, errors.PrefixErrorf(err, `cannot transition change set "%s" from "%s" to "%s"`, t.Key, t.From, t.To)
	}
	return affectedOne(res)
}

func (r *Repository) BulkExpire(ctx context.Context, olderThan, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE change_sets SET status = ?, last_updated_at = ?, last_error = ? WHERE status = ? AND created_at < ?`,
		model.StatusSkipped, toUnix(now), repository.ExpiredReason, model.StatusQueued, toUnix(olderThan),
	)
	if err != nil {
		return 0, errors.PrefixError(err, "cannot expire queued change sets")
	}
	return res.RowsAffected()
}

func filterSQL(status model.Status, filter repository.Filter) (string, []any) {
	where := []string{"status = ?"}
	args := []any{status}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.QueueKey != "" {
		where = append(where, "queue_key = ?")
		args = append(args, filter.QueueKey)
	}
	if !filter.UpdatedBefore.IsZero() {
		where = append(where, "last_updated_at < ?")
		args = append(args, toUnix(filter.UpdatedBefore))
	}
	return strings.Join(where, " AND "), args
}

func scanChangeSet(row rowScanner) (model.ChangeSet, error) {
	var v model.ChangeSet
	var createdAt, lastUpdatedAt int64
	var payload []byte
	err := row.Scan(
		&v.ChangeSetID, &v.TenantID, &v.QueueKey, &v.Direction, &v.EventType, &v.Status, &v.RetryCount,
		&createdAt, &lastUpdatedAt, &v.LastError, &payload,
	)
	if err != nil {
		return v, err
	}
	v.CreatedAt = fromUnix(createdAt)
	v.LastUpdatedAt = fromUnix(lastUpdatedAt)
	if len(payload) > 0 {
		v.Payload = payload
	}
	return v, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
