// Package storetest is a conformance suite every core.Store must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/itemcode"
)

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) core.Store) {
	t.Run("ProjectRoundTrip", func(t *testing.T) { testProjects(t, newStore(t)) })
	t.Run("ParentWatermark", func(t *testing.T) { testParentWatermark(t, newStore(t)) })
	t.Run("ChildWatermark", func(t *testing.T) { testChildWatermark(t, newStore(t)) })
	t.Run("DuplicateCode", func(t *testing.T) { testDuplicateCode(t, newStore(t)) })
	t.Run("CreateItemsSkipsExisting", func(t *testing.T) { testCreateItemsSkips(t, newStore(t)) })
	t.Run("FindIDsByCodes", func(t *testing.T) { testFindIDs(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("ListOrderAndRate", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("WatermarkMatchesListOrder", func(t *testing.T) { testWatermarkOrder(t, newStore(t)) })
	t.Run("RateAtColumnLimit", func(t *testing.T) { testRateLimit(t, newStore(t)) })
	t.Run("ConcurrentTransactions", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func inTx(t *testing.T, s core.Store, fn func(ctx context.Context, tx core.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), fn))
}

func newProject(t *testing.T, s core.Store) core.Project {
	t.Helper()
	var p core.Project
	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		var err error
		p, err = tx.CreateProject(ctx, "Depot "+uuid.NewString()[:8])
		return err
	})
	return p
}

func item(p core.Project, cat itemcode.Category, code string, parent *int64) core.NewItem {
	return core.NewItem{
		ProjectID:    p.ID,
		Category:     cat,
		Code:         code,
		Name:         "item " + code,
		Unit:         "nos",
		AvgLeadTime:  3,
		ParentItemID: parent,
	}
}

func create(t *testing.T, s core.Store, n core.NewItem) core.Item {
	t.Helper()
	var it core.Item
	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		var err error
		it, err = tx.CreateItem(ctx, n)
		return err
	})
	return it
}

func testProjects(t *testing.T, s core.Store) {
	p := newProject(t, s)
	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		got, err := tx.GetProject(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p, got)

		_, err = tx.GetProject(ctx, uuid.New())
		assert.ErrorIs(t, err, core.ErrProjectNotFound)

		all, err := tx.ListProjects(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		return nil
	})
}

func testParentWatermark(t *testing.T, s core.Store) {
	p := newProject(t, s)
	other := newProject(t, s)

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		last, err := tx.LastParentCode(ctx, p.ID, itemcode.Civil)
		require.NoError(t, err)
		assert.Equal(t, "", last)
		return nil
	})

	parent := create(t, s, item(p, itemcode.Civil, "M1009", nil))
	create(t, s, item(p, itemcode.Civil, "M1010", nil))
	create(t, s, item(p, itemcode.Civil, "M1002", nil))
	create(t, s, item(p, itemcode.Civil, "M1009-01", &parent.ID))
	create(t, s, item(p, itemcode.OHE, "M2500", nil))
	create(t, s, item(other, itemcode.Civil, "M1900", nil))

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		last, err := tx.LastParentCode(ctx, p.ID, itemcode.Civil)
		require.NoError(t, err)
		assert.Equal(t, "M1010", last, "children and other scopes must not count")

		last, err = tx.LastParentCode(ctx, p.ID, itemcode.OHE)
		require.NoError(t, err)
		assert.Equal(t, "M2500", last)
		return nil
	})
}

func testChildWatermark(t *testing.T, s core.Store) {
	p := newProject(t, s)
	a := create(t, s, item(p, itemcode.Mechanical, "M8001", nil))
	b := create(t, s, item(p, itemcode.Mechanical, "M8002", nil))
	create(t, s, item(p, itemcode.Mechanical, "M8001-01", &a.ID))
	create(t, s, item(p, itemcode.Mechanical, "M8001-10", &a.ID))
	create(t, s, item(p, itemcode.Mechanical, "M8001-02", &a.ID))

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		last, err := tx.LastChildCode(ctx, p.ID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "M8001-10", last)

		last, err = tx.LastChildCode(ctx, p.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "", last)
		return nil
	})
}

func testDuplicateCode(t *testing.T, s core.Store) {
	p := newProject(t, s)
	other := newProject(t, s)
	create(t, s, item(p, itemcode.Civil, "M1001", nil))

	err := s.WithTx(context.Background(), func(ctx context.Context, tx core.Tx) error {
		_, err := tx.CreateItem(ctx, item(p, itemcode.Civil, "M1001", nil))
		return err
	})
	assert.ErrorIs(t, err, core.ErrDuplicateCode)

	// Codes are unique per project only.
	create(t, s, item(other, itemcode.Civil, "M1001", nil))
}

func testCreateItemsSkips(t *testing.T, s core.Store) {
	p := newProject(t, s)
	create(t, s, item(p, itemcode.PWay, "M3002", nil))

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		got, err := tx.CreateItems(ctx, []core.NewItem{
			item(p, itemcode.PWay, "M3001", nil),
			item(p, itemcode.PWay, "M3002", nil),
			item(p, itemcode.PWay, "M3003", nil),
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "M3001", got[0].Code)
		assert.Equal(t, "M3003", got[1].Code)
		assert.NotZero(t, got[0].ID)

		none, err := tx.CreateItems(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	})
}

func testFindIDs(t *testing.T, s core.Store) {
	p := newProject(t, s)
	other := newProject(t, s)
	a := create(t, s, item(p, itemcode.Civil, "M1001", nil))
	create(t, s, item(other, itemcode.Civil, "M1002", nil))

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		ids, err := tx.FindIDsByCodes(ctx, p.ID, []string{"M1001", "M1002", "M1003"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"M1001": a.ID}, ids)
		return nil
	})
}

func testRollback(t *testing.T, s core.Store) {
	p := newProject(t, s)
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(ctx context.Context, tx core.Tx) error {
		if _, err := tx.CreateItems(ctx, []core.NewItem{
			item(p, itemcode.Civil, "M1001", nil),
			item(p, itemcode.Civil, "M1002", nil),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		items, err := tx.ListItems(ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, items)
		return nil
	})
}

func testDeleteCascades(t *testing.T, s core.Store) {
	p := newProject(t, s)
	parent := create(t, s, item(p, itemcode.FlushDoors, "M7001", nil))
	create(t, s, item(p, itemcode.FlushDoors, "M7001-01", &parent.ID))
	keep := create(t, s, item(p, itemcode.FlushDoors, "M7002", nil))

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		require.NoError(t, tx.DeleteItem(ctx, p.ID, parent.ID))
		assert.ErrorIs(t, tx.DeleteItem(ctx, p.ID, parent.ID), core.ErrItemNotFound)

		items, err := tx.ListItems(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, keep.ID, items[0].ID)

		_, err = tx.GetItem(ctx, parent.ID)
		assert.ErrorIs(t, err, core.ErrItemNotFound)
		return nil
	})
}

func testListOrder(t *testing.T, s core.Store) {
	p := newProject(t, s)
	withRate := item(p, itemcode.Civil, "M1002", nil)
	withRate.Rate = decimal.NullDecimal{Decimal: decimal.RequireFromString("125.5"), Valid: true}
	b := create(t, s, withRate)
	a := create(t, s, item(p, itemcode.Civil, "M1001", nil))
	create(t, s, item(p, itemcode.Civil, "M1002-01", &b.ID))
	create(t, s, item(p, itemcode.Civil, "M1001-01", &a.ID))

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		items, err := tx.ListItems(ctx, p.ID)
		require.NoError(t, err)
		codes := make([]string, len(items))
		for i, it := range items {
			codes[i] = it.Code
		}
		assert.Equal(t, []string{"M1001", "M1001-01", "M1002", "M1002-01"}, codes)

		got, err := tx.GetItem(ctx, b.ID)
		require.NoError(t, err)
		require.True(t, got.Rate.Valid)
		assert.True(t, got.Rate.Decimal.Equal(decimal.RequireFromString("125.5")))
		assert.Equal(t, itemcode.Civil, got.Category)
		assert.Nil(t, got.ParentItemID)

		child, err := tx.GetItem(ctx, items[1].ID)
		require.NoError(t, err)
		require.NotNil(t, child.ParentItemID)
		assert.Equal(t, a.ID, *child.ParentItemID)
		assert.False(t, child.Rate.Valid)
		return nil
	})
}

func testWatermarkOrder(t *testing.T, s core.Store) {
	p := newProject(t, s)
	parent := create(t, s, item(p, itemcode.PWay, "M3001", nil))
	for _, code := range []string{"M3001-10", "M3001-02", "M3001-99", "M3001-09", "M3001-01"} {
		create(t, s, item(p, itemcode.PWay, code, &parent.ID))
	}
	create(t, s, item(p, itemcode.PWay, "M3010", nil))
	create(t, s, item(p, itemcode.PWay, "M3002", nil))

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		items, err := tx.ListItems(ctx, p.ID)
		require.NoError(t, err)
		var lastChild, lastParent string
		for _, it := range items {
			if it.ParentItemID != nil {
				lastChild = it.Code
			} else {
				lastParent = it.Code
			}
		}

		got, err := tx.LastChildCode(ctx, p.ID, parent.ID)
		require.NoError(t, err)
		assert.Equal(t, lastChild, got)
		assert.Equal(t, "M3001-99", got)

		got, err = tx.LastParentCode(ctx, p.ID, itemcode.PWay)
		require.NoError(t, err)
		assert.Equal(t, lastParent, got)
		return nil
	})
}

func testRateLimit(t *testing.T, s core.Store) {
	p := newProject(t, s)
	n := item(p, itemcode.RoofingSheets, "M6001", nil)
	limit := decimal.RequireFromString("9999999999.9999")
	n.Rate = decimal.NullDecimal{Decimal: limit, Valid: true}
	created := create(t, s, n)

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		got, err := tx.GetItem(ctx, created.ID)
		require.NoError(t, err)
		require.True(t, got.Rate.Valid)
		assert.True(t, got.Rate.Decimal.Equal(limit), "rate %s", got.Rate.Decimal)
		return nil
	})
}

// testConcurrent allocates through the store the same way the service does
// and checks no code is handed out twice.
func testConcurrent(t *testing.T, s core.Store) {
	p := newProject(t, s)
	parent := create(t, s, item(p, itemcode.RoofingSheets, "M6001", nil))

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.WithTx(context.Background(), func(ctx context.Context, tx core.Tx) error {
				if err := tx.LockScope(ctx, core.ChildScope(p.ID, parent.ID)); err != nil {
					return err
				}
				last, err := tx.LastChildCode(ctx, p.ID, parent.ID)
				if err != nil {
					return err
				}
				code, err := itemcode.NextChildCode(parent.Code, last)
				if err != nil {
					return err
				}
				_, err = tx.CreateItem(ctx, item(p, itemcode.RoofingSheets, code, &parent.ID))
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	inTx(t, s, func(ctx context.Context, tx core.Tx) error {
		items, err := tx.ListItems(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, items, workers+1)
		for i, it := range items[1:] {
			assert.Equal(t, itemcode.FormatChild("M6001", i+1), it.Code)
		}
		return nil
	})
}
