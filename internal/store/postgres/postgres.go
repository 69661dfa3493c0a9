// Package postgres is the production core.Store on pgx. Allocation scopes
// are serialized with transaction-scoped advisory locks; the (project_id,
// code) unique constraint remains the backstop.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/itemcode"
)

const uniqueViolation = "23505"

// Store wraps a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WithTx runs fn in a read-committed transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(ctx, &tx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type tx struct {
	tx pgx.Tx
}

func (t *tx) LockScope(ctx context.Context, scope core.Scope) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, scope.Key())
	return err
}

func (t *tx) LastParentCode(ctx context.Context, projectID uuid.UUID, category itemcode.Category) (string, error) {
	var code string
	err := t.tx.QueryRow(ctx, `
		SELECT code FROM items
		WHERE project_id = $1 AND category = $2 AND parent_item_id IS NULL
		ORDER BY length(code) DESC, code COLLATE "C" DESC
		LIMIT 1`, projectID, string(category)).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return code, err
}

func (t *tx) LastChildCode(ctx context.Context, projectID uuid.UUID, parentID int64) (string, error) {
	var code string
	err := t.tx.QueryRow(ctx, `
		SELECT code FROM items
		WHERE project_id = $1 AND parent_item_id = $2
		ORDER BY code COLLATE "C" DESC
		LIMIT 1`, projectID, parentID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return code, err
}

const insertItem = `
	INSERT INTO items (project_id, category, code, name, unit, rate, avg_lead_time, parent_item_id)
	VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`

func insertArgs(n core.NewItem) []any {
	var rate *string
	if n.Rate.Valid {
		s := n.Rate.Decimal.String()
		rate = &s
	}
	return []any{n.ProjectID, string(n.Category), n.Code, n.Name, n.Unit, rate, n.AvgLeadTime, n.ParentItemID}
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
	err := t.tx.QueryRow(ctx, insertItem+` RETURNING id`, insertArgs(n)...).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return core.Item{}, fmt.Errorf("%w: %s", core.ErrDuplicateCode, n.Code)
		}
		return core.Item{}, fmt.Errorf("insert item %s: %w", n.Code, err)
	}
	return itemFrom(id, n), nil
}

// CreateItems sends every insert in one batch. Conflicting codes return no
// row and are left out of the result.
func (t *tx) CreateItems(ctx context.Context, items []core.NewItem) ([]core.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	batch := &pgx.Batch{}
	for _, n := range items {
		batch.Queue(insertItem+` ON CONFLICT (project_id, code) DO NOTHING RETURNING id`, insertArgs(n)...)
	}

	br := t.tx.SendBatch(ctx, batch)
	out := make([]core.Item, 0, len(items))
	for _, n := range items {
		var id int64
		err := br.QueryRow().Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("insert item %s: %w", n.Code, err)
		}
		out = append(out, itemFrom(id, n))
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return out, nil
}

func (t *tx) FindIDsByCodes(ctx context.Context, projectID uuid.UUID, codes []string) (map[string]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT code, id FROM items WHERE project_id = $1 AND code = ANY($2)`,
		projectID, codes)
	if err != nil {
		return nil, fmt.Errorf("find items by code: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64, len(codes))
	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, err
		}
		out[code] = id
	}
	return out, rows.Err()
}

const selectItem = `SELECT id, project_id, category, code, name, unit, rate::text, avg_lead_time, parent_item_id FROM items`

func scanItem(row pgx.Row) (core.Item, error) {
	var (
		it       core.Item
		category string
		rate     *string
	)
	if err := row.Scan(&it.ID, &it.ProjectID, &category, &it.Code, &it.Name, &it.Unit, &rate, &it.AvgLeadTime, &it.ParentItemID); err != nil {
		return core.Item{}, err
	}
	it.Category = itemcode.Category(category)
	if rate != nil {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			return core.Item{}, fmt.Errorf("item %d rate %q: %w", it.ID, *rate, err)
		}
		it.Rate = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	return it, nil
}

func (t *tx) GetItem(ctx context.Context, id int64) (core.Item, error) {
	it, err := scanItem(t.tx.QueryRow(ctx, selectItem+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Item{}, core.ErrItemNotFound
	}
	return it, err
}

func (t *tx) ListItems(ctx context.Context, projectID uuid.UUID) ([]core.Item, error) {
	rows, err := t.tx.Query(ctx, selectItem+` WHERE project_id = $1 ORDER BY code COLLATE "C"`, projectID)
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
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM items WHERE project_id = $1 AND (id = $2 OR parent_item_id = $2)`,
		projectID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrItemNotFound
	}
	return nil
}

func (t *tx) CreateProject(ctx context.Context, name string) (core.Project, error) {
	p := core.Project{ID: uuid.New(), Name: name}
	if _, err := t.tx.Exec(ctx, `INSERT INTO projects (id, name) VALUES ($1, $2)`, p.ID, p.Name); err != nil {
		return core.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

func (t *tx) GetProject(ctx context.Context, id uuid.UUID) (core.Project, error) {
	var p core.Project
	err := t.tx.QueryRow(ctx, `SELECT id, name FROM projects WHERE id = $1`, id).Scan(&p.ID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Project{}, core.ErrProjectNotFound
	}
	return p, err
}

func (t *tx) ListProjects(ctx context.Context) ([]core.Project, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name FROM projects ORDER BY lower(name)`)
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
