// Package memory is an in-process core.Store. Transactions are serialized by
// one mutex and applied copy-on-commit, so a failed transaction leaves no
// trace.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/itemcode"
)

type state struct {
	projects map[uuid.UUID]core.Project
	items    map[int64]core.Item
	nextID   int64
}

func (s *state) clone() *state {
	c := &state{
		projects: make(map[uuid.UUID]core.Project, len(s.projects)),
		items:    make(map[int64]core.Item, len(s.items)),
		nextID:   s.nextID,
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	return c
}

// Store keeps everything in maps.
type Store struct {
	mu    sync.Mutex
	state *state

	faultMu sync.Mutex
	faults  map[string]*fault
}

type fault struct {
	err       error
	remaining int // negative means forever
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		state: &state{
			projects: make(map[uuid.UUID]core.Project),
			items:    make(map[int64]core.Item),
			nextID:   1,
		},
		faults: make(map[string]*fault),
	}
}

// FailOn makes every later call to the named Tx method return err. A nil
// err clears the fault.
func (s *Store) FailOn(method string, err error) {
	s.FailTimes(method, err, -1)
}

// FailTimes makes the next n calls to the named Tx method return err.
func (s *Store) FailTimes(method string, err error, n int) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err == nil || n == 0 {
		delete(s.faults, method)
		return
	}
	s.faults[method] = &fault{err: err, remaining: n}
}

func (s *Store) fault(method string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	f, ok := s.faults[method]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(s.faults, method)
		}
	}
	return f.err
}

// WithTx runs fn against a private copy and publishes it on success.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s, st: s.state.clone()}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = t.st
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error { return nil }

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.items)
}

type tx struct {
	store *Store
	st    *state
}

// LockScope is a no-op: the store mutex already serializes transactions.
func (t *tx) LockScope(ctx context.Context, _ core.Scope) error {
	if err := t.store.fault("LockScope"); err != nil {
		return err
	}
	return ctx.Err()
}

func (t *tx) LastParentCode(_ context.Context, projectID uuid.UUID, category itemcode.Category) (string, error) {
	if err := t.store.fault("LastParentCode"); err != nil {
		return "", err
	}
	var last string
	for _, it := range t.st.items {
		if it.ProjectID != projectID || it.Category != category || it.IsChild() {
			continue
		}
		if codeLess(last, it.Code) {
			last = it.Code
		}
	}
	return last, nil
}

func (t *tx) LastChildCode(_ context.Context, projectID uuid.UUID, parentID int64) (string, error) {
	if err := t.store.fault("LastChildCode"); err != nil {
		return "", err
	}
	var last string
	for _, it := range t.st.items {
		if it.ProjectID != projectID || !it.IsChild() || *it.ParentItemID != parentID {
			continue
		}
		if it.Code > last {
			last = it.Code
		}
	}
	return last, nil
}

// codeLess orders by length then text, the same as the SQL watermark query.
func codeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (t *tx) hasCode(projectID uuid.UUID, code string) bool {
	for _, it := range t.st.items {
		if it.ProjectID == projectID && it.Code == code {
			return true
		}
	}
	return false
}

func (t *tx) insert(n core.NewItem) core.Item {
	it := core.Item{
		ID:           t.st.nextID,
		ProjectID:    n.ProjectID,
		Category:     n.Category,
		Code:         n.Code,
		Name:         n.Name,
		Unit:         n.Unit,
		Rate:         n.Rate,
		AvgLeadTime:  n.AvgLeadTime,
		ParentItemID: n.ParentItemID,
	}
	t.st.nextID++
	t.st.items[it.ID] = it
	return it
}

func (t *tx) checkRefs(n core.NewItem) error {
	if _, ok := t.st.projects[n.ProjectID]; !ok {
		return core.ErrProjectNotFound
	}
	if n.ParentItemID != nil {
		if _, ok := t.st.items[*n.ParentItemID]; !ok {
			return core.ErrItemNotFound
		}
	}
	return nil
}

func (t *tx) CreateItem(_ context.Context, n core.NewItem) (core.Item, error) {
	if err := t.store.fault("CreateItem"); err != nil {
		return core.Item{}, err
	}
	if err := t.checkRefs(n); err != nil {
		return core.Item{}, err
	}
	if t.hasCode(n.ProjectID, n.Code) {
		return core.Item{}, core.ErrDuplicateCode
	}
	return t.insert(n), nil
}

func (t *tx) CreateItems(ctx context.Context, items []core.NewItem) ([]core.Item, error) {
	if err := t.store.fault("CreateItems"); err != nil {
		return nil, err
	}
	var out []core.Item
	for _, n := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.checkRefs(n); err != nil {
			return nil, err
		}
		if t.hasCode(n.ProjectID, n.Code) {
			continue
		}
		out = append(out, t.insert(n))
	}
	return out, nil
}

func (t *tx) FindIDsByCodes(_ context.Context, projectID uuid.UUID, codes []string) (map[string]int64, error) {
	if err := t.store.fault("FindIDsByCodes"); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	out := make(map[string]int64)
	for _, it := range t.st.items {
		if it.ProjectID == projectID && want[it.Code] {
			out[it.Code] = it.ID
		}
	}
	return out, nil
}

func (t *tx) GetItem(_ context.Context, id int64) (core.Item, error) {
	it, ok := t.st.items[id]
	if !ok {
		return core.Item{}, core.ErrItemNotFound
	}
	return it, nil
}

func (t *tx) ListItems(_ context.Context, projectID uuid.UUID) ([]core.Item, error) {
	if err := t.store.fault("ListItems"); err != nil {
		return nil, err
	}
	var out []core.Item
	for _, it := range t.st.items {
		if it.ProjectID == projectID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) DeleteItem(_ context.Context, projectID uuid.UUID, id int64) error {
	it, ok := t.st.items[id]
	if !ok || it.ProjectID != projectID {
		return core.ErrItemNotFound
	}
	delete(t.st.items, id)
	for cid, c := range t.st.items {
		if c.IsChild() && *c.ParentItemID == id {
			delete(t.st.items, cid)
		}
	}
	return nil
}

func (t *tx) CreateProject(_ context.Context, name string) (core.Project, error) {
	p := core.Project{ID: uuid.New(), Name: name}
	t.st.projects[p.ID] = p
	return p, nil
}

func (t *tx) GetProject(_ context.Context, id uuid.UUID) (core.Project, error) {
	p, ok := t.st.projects[id]
	if !ok {
		return core.Project{}, core.ErrProjectNotFound
	}
	return p, nil
}

func (t *tx) ListProjects(context.Context) ([]core.Project, error) {
	out := make([]core.Project, 0, len(t.st.projects))
	for _, p := range t.st.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}
