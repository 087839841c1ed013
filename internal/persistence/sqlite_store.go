package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/stateline/pkg/api"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_instances (
			id TEXT PRIMARY KEY,
			workflow_type TEXT NOT NULL,
			current_step TEXT NOT NULL,
			status TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '{}',
			next_action_at INTEGER,
			next_action_type TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_instances_due
			ON workflow_instances (next_action_at)
			WHERE status = 'active' AND next_action_at IS NOT NULL;`,
	)
	return err
}

const instanceColumns = `id, workflow_type, current_step, status, context, next_action_at, next_action_type, created_at, updated_at`

func (s *SQLiteStore) Create(ctx context.Context, inst *api.Instance) error {
	contextJSON, err := encodeContext(inst.Context)
	if err != nil {
		return err
	}

	var nextAt sql.NullInt64
	var nextType sql.NullString
	if inst.NextActionAt != nil {
		nextAt = sql.NullInt64{Int64: inst.NextActionAt.UnixMilli(), Valid: true}
		nextType = sql.NullString{String: string(inst.NextActionType), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.Type,
		inst.Step,
		string(inst.Status),
		contextJSON,
		nextAt,
		nextType,
		inst.CreatedAt.UnixMilli(),
		inst.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*api.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE id = ?`,
		id,
	)
	return scanInstance(row)
}

func (s *SQLiteStore) FindByContext(ctx context.Context, key, value string) (*api.Instance, error) {
	// json_extract with a computed path covers the plain identifier keys
	// used for correlation (conversation_id and friends).
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE status = ? AND json_extract(context, '$.' || ?) = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		string(api.StatusActive),
		key,
		value,
	)
	return scanInstance(row)
}

func (s *SQLiteStore) UpdateStep(ctx context.Context, id, step string, status api.Status, timeout *time.Duration) (*api.Instance, error) {
	now := time.Now()

	var res sql.Result
	var err error
	switch {
	case status != "":
		// Terminal transition clears both timer fields unconditionally.
		res, err = s.db.ExecContext(ctx, `
			UPDATE workflow_instances
			SET current_step = ?, status = ?, next_action_at = NULL, next_action_type = NULL, updated_at = ?
			WHERE id = ?`,
			step, string(status), now.UnixMilli(), id,
		)
	case timeout != nil:
		res, err = s.db.ExecContext(ctx, `
			UPDATE workflow_instances
			SET current_step = ?, next_action_at = ?, next_action_type = ?, updated_at = ?
			WHERE id = ?`,
			step, now.Add(*timeout).UnixMilli(), string(api.ActionTimeout), now.UnixMilli(), id,
		)
	default:
		// Step change alone does not cancel a running timer.
		res, err = s.db.ExecContext(ctx, `
			UPDATE workflow_instances
			SET current_step = ?, updated_at = ?
			WHERE id = ?`,
			step, now.UnixMilli(), id,
		)
	}
	if err != nil {
		return nil, err
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *SQLiteStore) UpdateContext(ctx context.Context, id string, partial map[string]any) (*api.Instance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var contextJSON string
	err = tx.QueryRowContext(ctx, `SELECT context FROM workflow_instances WHERE id = ?`, id).Scan(&contextJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrInstanceNotFound
		}
		return nil, err
	}

	merged, err := decodeContext(contextJSON)
	if err != nil {
		return nil, err
	}
	for k, v := range partial {
		merged[k] = v
	}

	mergedJSON, err := encodeContext(merged)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_instances SET context = ?, updated_at = ? WHERE id = ?`,
		mergedJSON, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *SQLiteStore) SetTimer(ctx context.Context, id string, delay time.Duration, action api.ActionType) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET next_action_at = ?, next_action_type = ?, updated_at = ?
		WHERE id = ?`,
		now.Add(delay).UnixMilli(), string(action), now.UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) ClearTimer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET next_action_at = NULL, next_action_type = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*api.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	var args []any

	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, filter.limit())

	return s.queryInstances(ctx, query, args...)
}

func (s *SQLiteStore) DueTimers(ctx context.Context, now time.Time, limit int) ([]*api.Instance, error) {
	return s.queryInstances(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE status = ? AND next_action_at IS NOT NULL AND next_action_at <= ?
		ORDER BY next_action_at ASC
		LIMIT ?`,
		string(api.StatusActive),
		now.UnixMilli(),
		limit,
	)
}

func (s *SQLiteStore) Counts(ctx context.Context, now time.Time) (api.Counts, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN next_action_at IS NOT NULL AND next_action_at <= ? THEN 1 ELSE 0 END), 0)
		FROM workflow_instances
		WHERE status = ?`,
		now.UnixMilli(),
		string(api.StatusActive),
	)

	var counts api.Counts
	if err := row.Scan(&counts.Active, &counts.Stuck); err != nil {
		return api.Counts{}, err
	}
	return counts, nil
}

func (s *SQLiteStore) queryInstances(ctx context.Context, query string, args ...any) ([]*api.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*api.Instance, error) {
	var inst api.Instance
	var statusStr, contextJSON string
	var nextAt sql.NullInt64
	var nextType sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&inst.ID,
		&inst.Type,
		&inst.Step,
		&statusStr,
		&contextJSON,
		&nextAt,
		&nextType,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrInstanceNotFound
		}
		return nil, err
	}

	inst.Status = api.Status(statusStr)
	inst.Context, err = decodeContext(contextJSON)
	if err != nil {
		return nil, err
	}
	if nextAt.Valid {
		t := time.UnixMilli(nextAt.Int64)
		inst.NextActionAt = &t
		inst.NextActionType = api.ActionType(nextType.String)
	}
	inst.CreatedAt = time.UnixMilli(createdAt)
	inst.UpdatedAt = time.UnixMilli(updatedAt)

	return &inst, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrInstanceNotFound
	}
	return nil
}

func encodeContext(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}
	return string(data), nil
}

func decodeContext(data string) (map[string]any, error) {
	m := make(map[string]any)
	if data == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return m, nil
}
