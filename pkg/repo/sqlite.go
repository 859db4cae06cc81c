package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/validate"
)

// OpenSQLite opens (creating if needed) the database file and applies the
// schema. The caller owns the returned handle. Import the ncruces driver
// and embed packages for their side effects before calling.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("repo: mkdir db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout=5000&_pragma=journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("repo: open sqlite: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// initSchema creates the tables and indexes. Bodies are stored as JSON;
// the columns alongside exist only to filter listings.
func initSchema(db *sql.DB) error {
	const schemaSQL = `
CREATE TABLE IF NOT EXISTS strategies (
    id              TEXT NOT NULL,
    version         TEXT NOT NULL,
    body            TEXT NOT NULL,
    author          TEXT NOT NULL DEFAULT '',
    strategy_type   TEXT NOT NULL DEFAULT '',
    process_step    TEXT NOT NULL DEFAULT '',
    tool_type       TEXT NOT NULL DEFAULT '',
    lifecycle_state TEXT NOT NULL DEFAULT 'draft',
    seq             INTEGER NOT NULL,
    is_current      INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (id, version)
);
CREATE INDEX IF NOT EXISTS idx_strategies_current ON strategies (id, is_current);

CREATE TABLE IF NOT EXISTS schematics (
    id          TEXT PRIMARY KEY,
    body        TEXT NOT NULL,
    file_bytes  BLOB NOT NULL,
    created_by  TEXT NOT NULL DEFAULT '',
    upload_date TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS validations (
    id              TEXT PRIMARY KEY,
    schematic_id    TEXT NOT NULL,
    strategy_id     TEXT NOT NULL,
    body            TEXT NOT NULL,
    validation_date TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validations_schematic ON validations (schematic_id);
CREATE INDEX IF NOT EXISTS idx_validations_strategy ON validations (strategy_id);
`
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("repo: apply schema: %w", err)
	}
	return nil
}

// NewSQLiteStore bundles SQLite implementations of the three repositories
// over one database handle. Writes are transactional, so a successful
// write is visible after restart.
func NewSQLiteStore(db *sql.DB) *Store {
	return &Store{
		Strategies:  &sqliteStrategies{db: db},
		Schematics:  &sqliteSchematics{db: db},
		Validations: &sqliteValidations{db: db},
	}
}

type sqliteStrategies struct {
	db *sql.DB
}

func (s *sqliteStrategies) Put(ctx context.Context, def *strategy.Definition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("repo: marshal strategy: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repo: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM strategies WHERE id = ?`, def.ID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("repo: next seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE strategies SET is_current = 0 WHERE id = ?`, def.ID); err != nil {
		return fmt.Errorf("repo: clear current: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO strategies (id, version, body, author, strategy_type, process_step, tool_type, lifecycle_state, seq, is_current)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
        ON CONFLICT (id, version) DO UPDATE SET
            body = excluded.body,
            author = excluded.author,
            strategy_type = excluded.strategy_type,
            process_step = excluded.process_step,
            tool_type = excluded.tool_type,
            lifecycle_state = excluded.lifecycle_state,
            is_current = 1
    `, def.ID, def.Version, string(body), def.Author, string(def.StrategyType),
		def.ProcessStep, def.ToolType, string(def.LifecycleState), seq); err != nil {
		return fmt.Errorf("repo: put strategy: %w", err)
	}
	return tx.Commit()
}

func (s *sqliteStrategies) Get(ctx context.Context, id, version string) (*strategy.Definition, error) {
	var row *sql.Row
	if version == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT body FROM strategies WHERE id = ? AND is_current = 1`, id)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT body FROM strategies WHERE id = ? AND version = ?`, id, version)
	}
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if version != "" {
				return nil, &ErrNotFound{Kind: "strategy version", ID: id + "@" + version}
			}
			return nil, &ErrNotFound{Kind: "strategy", ID: id}
		}
		return nil, fmt.Errorf("repo: get strategy: %w", err)
	}
	var def strategy.Definition
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return nil, fmt.Errorf("repo: unmarshal strategy: %w", err)
	}
	return &def, nil
}

func (s *sqliteStrategies) Versions(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM strategies WHERE id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("repo: list versions: %w", err)
	}
	defer rows.Close()
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("repo: scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list versions: %w", err)
	}
	if len(versions) == 0 {
		return nil, &ErrNotFound{Kind: "strategy", ID: id}
	}
	return versions, nil
}

func (s *sqliteStrategies) List(ctx context.Context, f StrategyFilter) ([]*strategy.Definition, error) {
	query := `SELECT body FROM strategies WHERE is_current = 1`
	var args []any
	if f.Author != "" {
		query += ` AND author = ?`
		args = append(args, f.Author)
	}
	if f.StrategyType != "" {
		query += ` AND strategy_type = ?`
		args = append(args, string(f.StrategyType))
	}
	if f.ProcessStep != "" {
		query += ` AND process_step = ?`
		args = append(args, f.ProcessStep)
	}
	if f.ToolType != "" {
		query += ` AND tool_type = ?`
		args = append(args, f.ToolType)
	}
	if f.LifecycleState != "" {
		query += ` AND lifecycle_state = ?`
		args = append(args, string(f.LifecycleState))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: list strategies: %w", err)
	}
	defer rows.Close()
	var out []*strategy.Definition
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("repo: scan strategy: %w", err)
		}
		var def strategy.Definition
		if err := json.Unmarshal([]byte(body), &def); err != nil {
			return nil, fmt.Errorf("repo: unmarshal strategy: %w", err)
		}
		out = append(out, &def)
	}
	return out, rows.Err()
}

func (s *sqliteStrategies) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repo: delete strategy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Kind: "strategy", ID: id}
	}
	return nil
}

type sqliteSchematics struct {
	db *sql.DB
}

func (s *sqliteSchematics) Put(ctx context.Context, data *schematic.Data, fileBytes []byte, createdBy string) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("repo: marshal schematic: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO schematics (id, body, file_bytes, created_by, upload_date)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            body = excluded.body,
            file_bytes = excluded.file_bytes,
            created_by = excluded.created_by,
            upload_date = excluded.upload_date
    `, data.ID, string(body), fileBytes, createdBy,
		data.UploadDate.UTC().Format("2006-01-02T15:04:05.000Z07:00")); err != nil {
		return fmt.Errorf("repo: put schematic: %w", err)
	}
	return nil
}

func (s *sqliteSchematics) Get(ctx context.Context, id string) (*schematic.Data, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM schematics WHERE id = ?`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{Kind: "schematic", ID: id}
		}
		return nil, fmt.Errorf("repo: get schematic: %w", err)
	}
	var data schematic.Data
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return nil, fmt.Errorf("repo: unmarshal schematic: %w", err)
	}
	return &data, nil
}

func (s *sqliteSchematics) FileBytes(ctx context.Context, id string) ([]byte, error) {
	var file []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT file_bytes FROM schematics WHERE id = ?`, id).Scan(&file)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{Kind: "schematic", ID: id}
		}
		return nil, fmt.Errorf("repo: get schematic file: %w", err)
	}
	return file, nil
}

func (s *sqliteSchematics) List(ctx context.Context) ([]*schematic.Data, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM schematics ORDER BY upload_date, id`)
	if err != nil {
		return nil, fmt.Errorf("repo: list schematics: %w", err)
	}
	defer rows.Close()
	var out []*schematic.Data
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("repo: scan schematic: %w", err)
		}
		var data schematic.Data
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			return nil, fmt.Errorf("repo: unmarshal schematic: %w", err)
		}
		out = append(out, &data)
	}
	return out, rows.Err()
}

func (s *sqliteSchematics) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schematics WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("repo: delete schematic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Kind: "schematic", ID: id}
	}
	return nil
}

type sqliteValidations struct {
	db *sql.DB
}

func (s *sqliteValidations) Put(ctx context.Context, res *validate.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("repo: marshal validation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO validations (id, schematic_id, strategy_id, body, validation_date)
        VALUES (?, ?, ?, ?, ?)
    `, res.ID, res.SchematicID, res.StrategyID, string(body),
		res.ValidationDate.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	if err != nil {
		// Append-only: a duplicate id is a conflict, not an upsert.
		if strings.Contains(err.Error(), "UNIQUE") {
			return &ErrConflict{Kind: "validation", ID: res.ID}
		}
		return fmt.Errorf("repo: put validation: %w", err)
	}
	return nil
}

func (s *sqliteValidations) Get(ctx context.Context, id string) (*validate.Result, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM validations WHERE id = ?`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{Kind: "validation", ID: id}
		}
		return nil, fmt.Errorf("repo: get validation: %w", err)
	}
	var res validate.Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("repo: unmarshal validation: %w", err)
	}
	return &res, nil
}

func (s *sqliteValidations) List(ctx context.Context, f ValidationFilter) ([]*validate.Result, error) {
	query := `SELECT body FROM validations WHERE 1 = 1`
	var args []any
	if f.SchematicID != "" {
		query += ` AND schematic_id = ?`
		args = append(args, f.SchematicID)
	}
	if f.StrategyID != "" {
		query += ` AND strategy_id = ?`
		args = append(args, f.StrategyID)
	}
	query += ` ORDER BY validation_date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: list validations: %w", err)
	}
	defer rows.Close()
	var out []*validate.Result
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("repo: scan validation: %w", err)
		}
		var res validate.Result
		if err := json.Unmarshal([]byte(body), &res); err != nil {
			return nil, fmt.Errorf("repo: unmarshal validation: %w", err)
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}
