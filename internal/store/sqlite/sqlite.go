// Package sqlite is a core.Store on an embedded SQLite database via
// modernc.org/sqlite. The pool is capped at one connection, which serializes
// transactions and makes scope locks unnecessary.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/itemcode"
	"github.com/JonMunkholm/basicitems/internal/migrations"
)

const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it. An
// empty path or ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrations.Up(ctx, db, migrations.SQLite); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func dsn(path string) string {
	if path == "" || path == ":memory:" {
		return fmt.Sprintf("file:basicitems-%s?mode=memory&cache=shared&%s", uuid.NewString(), pragmas)
	}
	return "file:" + path + "?" + pragmas
}

// DB exposes the handle for migrations tooling.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type tx struct {
	tx *sql.Tx
}

// LockScope relies on the single connection.
func (t *tx) LockScope(ctx context.Context, _ core.Scope) error {
	return ctx.Err()
}

func (t *tx) LastParentCode(ctx context.Context, projectID uuid.UUID, category itemcode.Category) (string, error) {
	var code string
	err := t.tx.QueryRowContext(ctx, `
		SELECT code FROM items
		WHERE project_id = ? AND category = ? AND parent_item_id IS NULL
		ORDER BY length(code) DESC, code DESC
		LIMIT 1`, projectID.String(), string(category)).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return code, err
}

func (t *tx) LastChildCode(ctx context.Context, projectID uuid.UUID, parentID int64) (string, error) {
	var code string
	err := t.tx.QueryRowContext(ctx, `
		SELECT code FROM items
		WHERE project_id = ? AND parent_item_id = ?
		ORDER BY code DESC
		LIMIT 1`, projectID.String(), parentID).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return code, err
}

const insertItem = `
	INSERT INTO items (project_id, category, code, name, unit, rate, avg_lead_time, parent_item_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func insertArgs(n core.NewItem) []any {
	var rate any
	if n.Rate.Valid {
		rate = n.Rate.Decimal.String()
	}
	var parent any
	if n.ParentItemID != nil {
		parent = *n.ParentItemID
	}
	return []any{n.ProjectID.String(), string(n.Category), n.Code, n.Name, n.Unit, rate, n.AvgLeadTime, parent}
}

func itemFrom(id int64, n core.NewItem) core.Item {
	return core.Item{
		ID:           id,
		ProjectID:    n.ProjectID,
		Category:     n.Category,
		Code:         n.Code,
		Name:         n.Name,
		Unit:         n.Unit,
		Rate:         n.Rate,
		AvgLeadTime:  n.AvgLeadTime,
		ParentItemID: n.ParentItemID,
	}
}

func (t *tx) CreateItem(ctx context.Context, n core.NewItem) (core.Item, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, insertItem+" RETURNING id", insertArgs(n)...).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Item{}, fmt.Errorf("%w: %s", core.ErrDuplicateCode, n.Code)
		}
		return core.Item{}, fmt.Errorf("insert item %s: %w", n.Code, err)
	}
	return itemFrom(id, n), nil
}

func (t *tx) CreateItems(ctx context.Context, items []core.NewItem) ([]core.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	stmt, err := t.tx.PrepareContext(ctx, insertItem+" ON CONFLICT (project_id, code) DO NOTHING RETURNING id")
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]core.Item, 0, len(items))
	for _, n := range items {
		var id int64
		err := stmt.QueryRowContext(ctx, insertArgs(n)...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert item %s: %w", n.Code, err)
		}
		out = append(out, itemFrom(id, n))
	}
	return out, nil
}

// maxVars keeps IN lists well under SQLite's bound parameter limit.
const maxVars = 500

func (t *tx) FindIDsByCodes(ctx context.Context, projectID uuid.UUID, codes []string) (map[string]int64, error) {
	out := make(map[string]int64, len(codes))
	for start := 0; start < len(codes); start += maxVars {
		end := min(start+maxVars, len(codes))
		chunk := codes[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, projectID.String())
		for _, c := range chunk {
			args = append(args, c)
		}
		q := `SELECT code, id FROM items WHERE project_id = ? AND code IN (?` +
			strings.Repeat(", ?", len(chunk)-1) + `)`

		rows, err := t.tx.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("find items by code: %w", err)
		}
		for rows.Next() {
			var code string
			var id int64
			if err := rows.Scan(&code, &id); err != nil {
				rows.Close()
				return nil, err
			}
			out[code] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

const selectItem = `SELECT id, project_id, category, code, name, unit, rate, avg_lead_time, parent_item_id FROM items`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (core.Item, error) {
	var (
		it       core.Item
		category string
		parent   sql.NullInt64
	)
	if err := row.Scan(&it.ID, &it.ProjectID, &category, &it.Code, &it.Name, &it.Unit, &it.Rate, &it.AvgLeadTime, &parent); err != nil {
		return core.Item{}, err
	}
	it.Category = itemcode.Category(category)
	if parent.Valid {
		id := parent.Int64
		it.ParentItemID = &id
	}
	return it, nil
}

func (t *tx) GetItem(ctx context.Context, id int64) (core.Item, error) {
	it, err := scanItem(t.tx.QueryRowContext(ctx, selectItem+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Item{}, core.ErrItemNotFound
	}
	return it, err
}

func (t *tx) ListItems(ctx context.Context, projectID uuid.UUID) ([]core.Item, error) {
	rows, err := t.tx.QueryContext(ctx, selectItem+` WHERE project_id = ? ORDER BY code`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []core.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *tx) DeleteItem(ctx context.Context, projectID uuid.UUID, id int64) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM items WHERE project_id = ? AND (id = ? OR parent_item_id = ?)`,
		projectID.String(), id, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrItemNotFound
	}
	return nil
}

func (t *tx) CreateProject(ctx context.Context, name string) (core.Project, error) {
	p := core.Project{ID: uuid.New(), Name: name}
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO projects (id, name) VALUES (?, ?)`, p.ID.String(), p.Name); err != nil {
		return core.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

func (t *tx) GetProject(ctx context.Context, id uuid.UUID) (core.Project, error) {
	var p core.Project
	err := t.tx.QueryRowContext(ctx, `SELECT id, name FROM projects WHERE id = ?`, id.String()).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Project{}, core.ErrProjectNotFound
	}
	return p, err
}

func (t *tx) ListProjects(ctx context.Context) ([]core.Project, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, name FROM projects ORDER BY lower(name)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		var p core.Project
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
