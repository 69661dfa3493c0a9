package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/JonMunkholm/basicitems/internal/itemcode"
)

// Store is the transactional storage behind the service. Implementations live
// under internal/store.
type Store interface {
	// WithTx runs fn in one transaction. A non-nil error from fn, or a
	// cancelled ctx, rolls back everything fn wrote.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// LockScope serializes allocation within scope until the transaction ends.
	LockScope(ctx context.Context, scope Scope) error

	// LastParentCode returns the highest parent code for (project, category),
	// or "" when there is none.
	LastParentCode(ctx context.Context, projectID uuid.UUID, category itemcode.Category) (string, error)

	// LastChildCode returns the highest child code under parentID, or "".
	LastChildCode(ctx context.Context, projectID uuid.UUID, parentID int64) (string, error)

	// CreateItem inserts one item. A (project, code) conflict yields
	// ErrDuplicateCode.
	CreateItem(ctx context.Context, item NewItem) (Item, error)

	// CreateItems inserts items in order, skipping any whose code already
	// exists in the project. It returns only the inserted items.
	CreateItems(ctx context.Context, items []NewItem) ([]Item, error)

	// FindIDsByCodes maps each of codes found in the project to its item id.
	FindIDsByCodes(ctx context.Context, projectID uuid.UUID, codes []string) (map[string]int64, error)

	GetItem(ctx context.Context, id int64) (Item, error)
	// ListItems returns the project's items ordered by code ascending.
	ListItems(ctx context.Context, projectID uuid.UUID) ([]Item, error)
	// DeleteItem removes an item and its children.
	DeleteItem(ctx context.Context, projectID uuid.UUID, id int64) error

	CreateProject(ctx context.Context, name string) (Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
}

// Scope is the boundary within which allocation is serialized: (project,
// category) for parents, (project, parent item) for children.
type Scope struct {
	ProjectID    uuid.UUID
	Category     itemcode.Category
	ParentItemID int64
}

// ParentScope is the allocation scope for parent codes.
func ParentScope(projectID uuid.UUID, c itemcode.Category) Scope {
	return Scope{ProjectID: projectID, Category: c}
}

// ChildScope is the allocation scope for children of parentID.
func ChildScope(projectID uuid.UUID, parentID int64) Scope {
	return Scope{ProjectID: projectID, ParentItemID: parentID}
}

// Key renders the scope as a stable string usable as a lock key.
func (s Scope) Key() string {
	if s.ParentItemID != 0 {
		return fmt.Sprintf("items:%s:parent:%d", s.ProjectID, s.ParentItemID)
	}
	return fmt.Sprintf("items:%s:category:%s", s.ProjectID, s.Category)
}
