package core

// reconcile.go turns a batch of author-coded rows into parent and child
// inserts.
//
// Reconcile is read-only and runs in phases:
//  1. Structural validation of every row, collecting field errors
//  2. Duplicate codes within the batch (first occurrence wins)
//  3. Hierarchy: every child's parent must be a surviving batch row or an
//     item already stored in the project
//
// Commit then writes the survivors in one transaction: parents first, then a
// code to id lookup, then children with resolved parent ids.

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/JonMunkholm/basicitems/internal/itemcode"
	"github.com/JonMunkholm/basicitems/internal/logging"
)

// ResolvedRow is a row that passed reconciliation.
type ResolvedRow struct {
	Line int
	Item NewItem
	// ParentCode is set for child rows.
	ParentCode string
}

// IsChild reports whether the row is a child row.
func (r ResolvedRow) IsChild() bool { return r.ParentCode != "" }

// Reconciliation is the outcome of Reconcile.
type Reconciliation struct {
	ProjectID uuid.UUID
	// Accepted keeps input order.
	Accepted []ResolvedRow
	// Rejected is ordered by row.
	Rejected []RowError
}

// Partition splits accepted rows into parents and children.
func (r *Reconciliation) Partition() (parents, children []ResolvedRow) {
	for _, row := range r.Accepted {
		if row.IsChild() {
			children = append(children, row)
		} else {
			parents = append(parents, row)
		}
	}
	return parents, children
}

// CommitResult is the outcome of a successful Commit.
type CommitResult struct {
	Inserted []Item
	// Skipped lists rows whose code already existed in the project.
	Skipped []RowError
}

// Reconciler validates and commits import batches.
type Reconciler struct {
	store Store
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile validates rows and resolves hierarchy. Only storage failures are
// returned as errors; row problems land in Rejected.
func (r *Reconciler) Reconcile(ctx context.Context, projectID uuid.UUID, rows []RawRow) (*Reconciliation, error) {
	candidates, rejected := validateRows(projectID, rows)
	candidates, dupes := dedupeRows(candidates)
	rejected = append(rejected, dupes...)

	missing := unresolvedParents(candidates)
	stored := map[string]int64{}
	if len(missing) > 0 {
		err := r.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			stored, err = tx.FindIDsByCodes(ctx, projectID, missing)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("look up stored parents: %w", err)
		}
	}

	accepted, orphans := resolveHierarchy(candidates, stored)
	rejected = append(rejected, orphans...)
	sort.SliceStable(rejected, func(i, j int) bool { return rejected[i].Row < rejected[j].Row })

	logging.WithFields(ctx, "project_id", projectID).Info("import reconciled",
		"rows", len(rows),
		"accepted", len(accepted),
		"rejected", len(rejected),
	)

	return &Reconciliation{ProjectID: projectID, Accepted: accepted, Rejected: rejected}, nil
}

// validateRows is phase 1. Every row is checked; none short-circuits another.
func validateRows(projectID uuid.UUID, rows []RawRow) ([]ResolvedRow, []RowError) {
	var ok []ResolvedRow
	var bad []RowError
	for _, row := range rows {
		item, errs := validateImportRow(projectID, row)
		if len(errs) > 0 {
			bad = append(bad, RowError{
				Row:     row.Line,
				Code:    CleanCell(row.Code),
				Message: joinMessages(errs),
				Fields:  errs,
			})
			continue
		}
		ok = append(ok, ResolvedRow{
			Line:       row.Line,
			Item:       item,
			ParentCode: itemcode.ParentOf(item.Code),
		})
	}
	return ok, bad
}

func dedupeRows(rows []ResolvedRow) ([]ResolvedRow, []RowError) {
	seen := make(map[string]int, len(rows))
	var kept []ResolvedRow
	var bad []RowError
	for _, row := range rows {
		if first, dup := seen[row.Item.Code]; dup {
			bad = append(bad, RowError{
				Row:     row.Line,
				Code:    row.Item.Code,
				Message: fmt.Sprintf("duplicate code in batch (first seen on row %d)", first),
			})
			continue
		}
		seen[row.Item.Code] = row.Line
		kept = append(kept, row)
	}
	return kept, bad
}

// unresolvedParents lists parent codes referenced by children that no parent
// row in the batch supplies.
func unresolvedParents(rows []ResolvedRow) []string {
	inBatch := make(map[string]bool)
	for _, row := range rows {
		if !row.IsChild() {
			inBatch[row.Item.Code] = true
		}
	}
	var out []string
	seen := make(map[string]bool)
	for _, row := range rows {
		if row.IsChild() && !inBatch[row.ParentCode] && !seen[row.ParentCode] {
			seen[row.ParentCode] = true
			out = append(out, row.ParentCode)
		}
	}
	return out
}

// resolveHierarchy is phase 3. stored holds parent codes found in storage.
func resolveHierarchy(rows []ResolvedRow, stored map[string]int64) ([]ResolvedRow, []RowError) {
	inBatch := make(map[string]bool)
	for _, row := range rows {
		if !row.IsChild() {
			inBatch[row.Item.Code] = true
		}
	}

	var ok []ResolvedRow
	var bad []RowError
	for _, row := range rows {
		if row.IsChild() && !inBatch[row.ParentCode] {
			if _, found := stored[row.ParentCode]; !found {
				bad = append(bad, RowError{
					Row:     row.Line,
					Code:    row.Item.Code,
					Message: fmt.Sprintf("missing parent %s: not in this file and not in the project", row.ParentCode),
				})
				continue
			}
		}
		ok = append(ok, row)
	}
	return ok, bad
}

// Commit writes rec's accepted rows atomically. Any error leaves storage
// untouched.
func (r *Reconciler) Commit(ctx context.Context, rec *Reconciliation) (CommitResult, error) {
	parents, children := rec.Partition()
	var res CommitResult

	err := r.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		res = CommitResult{}

		inserted, err := tx.CreateItems(ctx, newItems(parents))
		if err != nil {
			return fmt.Errorf("insert parents: %w", err)
		}
		res.Inserted = append(res.Inserted, inserted...)
		res.Skipped = append(res.Skipped, skippedRows(parents, inserted)...)

		if len(children) == 0 {
			return nil
		}

		ids, err := tx.FindIDsByCodes(ctx, rec.ProjectID, parentCodes(children))
		if err != nil {
			return fmt.Errorf("resolve parents: %w", err)
		}

		pending := make([]ResolvedRow, len(children))
		for i, row := range children {
			id, ok := ids[row.ParentCode]
			if !ok {
				return fmt.Errorf("%w: parent %s of row %d (%s) not found", ErrConsistency, row.ParentCode, row.Line, row.Item.Code)
			}
			row.Item.ParentItemID = &id
			pending[i] = row
		}

		inserted, err = tx.CreateItems(ctx, newItems(pending))
		if err != nil {
			return fmt.Errorf("insert children: %w", err)
		}
		res.Inserted = append(res.Inserted, inserted...)
		res.Skipped = append(res.Skipped, skippedRows(pending, inserted)...)
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}

	sort.SliceStable(res.Skipped, func(i, j int) bool { return res.Skipped[i].Row < res.Skipped[j].Row })
	return res, nil
}

func newItems(rows []ResolvedRow) []NewItem {
	out := make([]NewItem, len(rows))
	for i, row := range rows {
		out[i] = row.Item
	}
	return out
}

func parentCodes(children []ResolvedRow) []string {
	seen := make(map[string]bool)
	var out []string
	for _, row := range children {
		if !seen[row.ParentCode] {
			seen[row.ParentCode] = true
			out = append(out, row.ParentCode)
		}
	}
	return out
}

// skippedRows reports rows that the store did not insert because their code
// already existed.
func skippedRows(rows []ResolvedRow, inserted []Item) []RowError {
	done := make(map[string]bool, len(inserted))
	for _, it := range inserted {
		done[it.Code] = true
	}
	var out []RowError
	for _, row := range rows {
		if !done[row.Item.Code] {
			out = append(out, RowError{
				Row:     row.Line,
				Code:    row.Item.Code,
				Message: "code already exists",
			})
		}
	}
	return out
}
