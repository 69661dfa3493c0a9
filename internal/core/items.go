package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/basicitems/internal/itemcode"
	"github.com/JonMunkholm/basicitems/internal/logging"
)

// CreateItem validates in, allocates the next code in its scope and stores
// the item. Lock, watermark read and insert share one transaction; losing a
// race on the unique constraint retries the whole transaction.
func (s *Service) CreateItem(ctx context.Context, in CreateItemInput) (Item, error) {
	if err := ValidateCreateInput(in); err != nil {
		return Item{}, err
	}
	cat, err := itemcode.ParseCategory(in.Category)
	if err != nil {
		return Item{}, err
	}

	log := logging.WithFields(ctx, "project_id", in.ProjectID, "category", cat)

	for attempt := 0; ; attempt++ {
		var item Item
		err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			item, err = s.allocateAndInsert(ctx, tx, in, cat)
			return err
		})
		if err == nil {
			kind := "parent"
			if item.IsChild() {
				kind = "child"
			}
			s.rec.CodeAllocated(kind)
			log.Info("item created", "item_id", item.ID, "code", item.Code)
			return item, nil
		}

		if errors.Is(err, ErrDuplicateCode) && attempt < s.opts.MaxRetries {
			s.rec.AllocationRetried()
			log.Warn("code allocation raced, retrying", "attempt", attempt+1, "error", err)
			if err := sleepCtx(ctx, s.opts.RetryBackoff*time.Duration(attempt+1)); err != nil {
				return Item{}, err
			}
			continue
		}

		s.rec.AllocationFailed(failureReason(err))
		return Item{}, fmt.Errorf("create item: %w", err)
	}
}

func (s *Service) allocateAndInsert(ctx context.Context, tx Tx, in CreateItemInput, cat itemcode.Category) (Item, error) {
	if _, err := tx.GetProject(ctx, in.ProjectID); err != nil {
		return Item{}, err
	}

	code, cat, err := s.nextCode(ctx, tx, in.ProjectID, cat, in.ParentItemID)
	if err != nil {
		return Item{}, err
	}

	var rate decimal.NullDecimal
	if in.Rate != nil {
		rate = decimal.NullDecimal{Decimal: *in.Rate, Valid: true}
	}

	return tx.CreateItem(ctx, NewItem{
		ProjectID:    in.ProjectID,
		Category:     cat,
		Code:         code,
		Name:         in.Name,
		Unit:         in.Unit,
		Rate:         rate,
		AvgLeadTime:  in.AvgLeadTime,
		ParentItemID: in.ParentItemID,
	})
}

// nextCode locks the allocation scope and computes the code after the
// current watermark. For children the category comes from the parent; an
// empty cat accepts the parent's.
func (s *Service) nextCode(ctx context.Context, tx Tx, projectID uuid.UUID, cat itemcode.Category, parentID *int64) (string, itemcode.Category, error) {
	log := logging.FromContext(ctx)

	if parentID == nil {
		if err := tx.LockScope(ctx, ParentScope(projectID, cat)); err != nil {
			return "", "", fmt.Errorf("lock scope: %w", err)
		}
		last, err := tx.LastParentCode(ctx, projectID, cat)
		if err != nil {
			return "", "", fmt.Errorf("read parent watermark: %w", err)
		}
		code, err := itemcode.NextParentCode(cat, last)
		if err != nil {
			return "", "", err
		}
		log.Debug("allocated parent code", "category", cat, "watermark", last, "code", code)
		return code, cat, nil
	}

	parent, err := tx.GetItem(ctx, *parentID)
	if err != nil {
		return "", "", fmt.Errorf("parent item %d: %w", *parentID, err)
	}
	if parent.ProjectID != projectID {
		return "", "", ErrParentNotInProject
	}
	if parent.IsChild() {
		return "", "", ErrNestingTooDeep
	}
	if cat != "" && cat != parent.Category {
		return "", "", fmt.Errorf("%w: parent %s is %s", ErrCategoryMismatch, parent.Code, parent.Category)
	}

	if err := tx.LockScope(ctx, ChildScope(projectID, parent.ID)); err != nil {
		return "", "", fmt.Errorf("lock scope: %w", err)
	}
	last, err := tx.LastChildCode(ctx, projectID, parent.ID)
	if err != nil {
		return "", "", fmt.Errorf("read child watermark: %w", err)
	}
	code, err := itemcode.NextChildCode(parent.Code, last)
	if err != nil {
		return "", "", err
	}
	log.Debug("allocated child code", "parent", parent.Code, "watermark", last, "code", code)
	return code, parent.Category, nil
}

// PeekNextCode reports the code the next CreateItem in the scope would get,
// without reserving it. With a parent, category may be empty.
func (s *Service) PeekNextCode(ctx context.Context, projectID uuid.UUID, category string, parentID *int64) (string, error) {
	var cat itemcode.Category
	var err error
	if parentID == nil || strings.TrimSpace(category) != "" {
		if cat, err = itemcode.ParseCategory(category); err != nil {
			return "", err
		}
	}
	var code string
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		code, _, err = s.nextCode(ctx, tx, projectID, cat, parentID)
		return err
	})
	return code, err
}

// ListItems returns the project's items flat, ordered by code.
func (s *Service) ListItems(ctx context.Context, projectID uuid.UUID) ([]Item, error) {
	var items []Item
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		var err error
		items, err = tx.ListItems(ctx, projectID)
		return err
	})
	return items, err
}

// ItemQuery narrows ListItems. Query matches code or name, ignoring case.
// A zero Limit means no limit.
type ItemQuery struct {
	Query  string
	Limit  int
	Offset int
}

// SearchItems returns the project's items matching q, in code order.
func (s *Service) SearchItems(ctx context.Context, projectID uuid.UUID, q ItemQuery) ([]Item, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, &InputError{Fields: []ValidationError{{Field: "limit", Message: "limit and offset must not be negative"}}}
	}
	items, err := s.ListItems(ctx, projectID)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Query))
	out := items[:0]
	for _, it := range items {
		if needle == "" ||
			strings.Contains(strings.ToLower(it.Code), needle) ||
			strings.Contains(strings.ToLower(it.Name), needle) {
			out = append(out, it)
		}
	}

	if q.Offset >= len(out) {
		return []Item{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

// ItemTree returns parents ordered by code with their children nested.
func (s *Service) ItemTree(ctx context.Context, projectID uuid.UUID) ([]ItemNode, error) {
	items, err := s.ListItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return BuildTree(items), nil
}

// BuildTree nests children under their parents. items must be ordered by
// code; children whose parent is missing from items are dropped.
func BuildTree(items []Item) []ItemNode {
	index := make(map[int64]int)
	var nodes []ItemNode
	for _, it := range items {
		if !it.IsChild() {
			index[it.ID] = len(nodes)
			nodes = append(nodes, ItemNode{Item: it, Children: []Item{}})
		}
	}
	for _, it := range items {
		if !it.IsChild() {
			continue
		}
		if i, ok := index[*it.ParentItemID]; ok {
			nodes[i].Children = append(nodes[i].Children, it)
		}
	}
	return nodes
}

// DeleteItem removes an item and any children. The freed code becomes the
// scope's next allocation if it was the watermark.
func (s *Service) DeleteItem(ctx context.Context, projectID uuid.UUID, itemID int64) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.DeleteItem(ctx, projectID, itemID)
	})
	if err != nil {
		return fmt.Errorf("delete item %d: %w", itemID, err)
	}
	logging.FromContext(ctx).Info("item deleted", "project_id", projectID, "item_id", itemID)
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, itemcode.ErrRangeExhausted):
		return "range_exhausted"
	case errors.Is(err, itemcode.ErrChildRangeExhausted):
		return "child_range_exhausted"
	case errors.Is(err, ErrDuplicateCode):
		return "retries_exhausted"
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrProjectNotFound),
		errors.Is(err, ErrParentNotInProject), errors.Is(err, ErrNestingTooDeep),
		errors.Is(err, ErrCategoryMismatch):
		return "invalid_reference"
	default:
		return "storage"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
