package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

var _ RunStore = (*LibSQLStore)(nil)

// LibSQLStore implements RunStore on libSQL (embedded SQLite fork). It also
// stores the records written by database actions.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/sovrium.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	// A single connection serializes writes, which keeps Update calls ordered.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

func (s *LibSQLStore) Create(ctx context.Context, r *run.Run) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin tx", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE id = ?`, r.ID).Scan(&exists)
	if err != nil {
		return storeError("check run", err)
	}
	if exists > 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", r.ID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, automation_id, status, to_replay, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AutomationID, string(r.Status), boolInt(r.ToReplay), string(doc),
		timeOrNow(r.CreatedAt), timeOrNow(r.UpdatedAt),
	)
	if err != nil {
		return storeError("insert run", err)
	}
	if err := appendRunEvent(ctx, tx, newRunEvent(schema.EventRunCreated, r)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit run", err)
	}
	return nil
}

func (s *LibSQLStore) Update(ctx context.Context, r *run.Run) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, to_replay = ?, document = ?, updated_at = ? WHERE id = ?`,
		string(r.Status), boolInt(r.ToReplay), string(doc), timeOrNow(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return storeError("update run", err)
	}
	if err := checkRowsAffected(res, "run", r.ID); err != nil {
		return err
	}

	eventType := schema.EventRunUpdated
	if r.Status.Terminal() {
		eventType = schema.EventRunFinished
	}
	if err := appendRunEvent(ctx, tx, newRunEvent(eventType, r)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit run", err)
	}
	return nil
}

func (s *LibSQLStore) Get(ctx context.Context, id string) (*run.Run, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM runs WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, storeError("get run", err)
	}
	return decodeRun(doc)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*run.Run, error) {
	var where []string
	var args []any

	if filter.AutomationID != 0 {
		where = append(where, "automation_id = ?")
		args = append(args, filter.AutomationID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ToReplay != nil {
		where = append(where, "to_replay = ?")
		args = append(args, boolInt(*filter.ToReplay))
	}

	query := "SELECT document FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list runs", err)
	}
	defer rows.Close()

	var runs []*run.Run
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		r, err := decodeRun(doc)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Records ---

// CreateRecord inserts a record into table and returns it with its id and
// creation time.
func (s *LibSQLStore) CreateRecord(ctx context.Context, table schema.Table, fields map[string]any) (map[string]any, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal record fields: %w", err)
	}
	rec := Record{
		ID:        uuid.New().String(),
		Table:     table.Name,
		Fields:    data,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, table_name, fields, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Table, string(rec.Fields), rec.CreatedAt,
	)
	if err != nil {
		return nil, storeError("insert record", err)
	}
	return recordOutput(rec, fields), nil
}

// ListRecords returns the records of a table, oldest first.
func (s *LibSQLStore) ListRecords(ctx context.Context, table string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_name, fields, created_at FROM records WHERE table_name = ? ORDER BY created_at ASC, rowid ASC`,
		table,
	)
	if err != nil {
		return nil, storeError("list records", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var fields string
		if err := rows.Scan(&rec.ID, &rec.Table, &fields, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Fields = json.RawMessage(fields)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Helpers ---

func decodeRun(doc string) (*run.Run, error) {
	r := &run.Run{}
	if err := json.Unmarshal([]byte(doc), r); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode run: %v", err).WithCause(err)
	}
	return r, nil
}

func recordOutput(rec Record, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["id"] = rec.ID
	out["created_at"] = rec.CreatedAt.Format(time.RFC3339Nano)
	return out
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
