// Package core holds item creation and bulk import for projects.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/basicitems/internal/itemcode"
)

// Project groups items. Codes are unique per project.
type Project struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Item is a stored basic item.
type Item struct {
	ID           int64               `json:"id"`
	ProjectID    uuid.UUID           `json:"projectId"`
	Category     itemcode.Category   `json:"category"`
	Code         string              `json:"code"`
	Name         string              `json:"name"`
	Unit         string              `json:"unit"`
	Rate         decimal.NullDecimal `json:"rate"`
	AvgLeadTime  float64             `json:"avgLeadTime"`
	ParentItemID *int64              `json:"parentItemId,omitempty"`
}

// IsChild reports whether the item hangs under a parent.
func (i Item) IsChild() bool { return i.ParentItemID != nil }

// NewItem is an item not yet persisted. Storage assigns the ID.
type NewItem struct {
	ProjectID    uuid.UUID
	Category     itemcode.Category
	Code         string
	Name         string
	Unit         string
	Rate         decimal.NullDecimal
	AvgLeadTime  float64
	ParentItemID *int64
}

// ItemNode is a parent item with its children, both ordered by code.
type ItemNode struct {
	Item
	Children []Item `json:"children"`
}

// CreateItemInput is the request to create one item. The code is allocated.
type CreateItemInput struct {
	ProjectID    uuid.UUID        `json:"projectId"`
	Name         string           `json:"name" validate:"required,max=100"`
	Unit         string           `json:"unit" validate:"required,max=50"`
	Rate         *decimal.Decimal `json:"rate,omitempty"`
	AvgLeadTime  float64          `json:"avgLeadTime" validate:"gt=0"`
	Category     string           `json:"category" validate:"required,category"`
	ParentItemID *int64           `json:"parentItemId,omitempty"`
}

// ValidationError describes a single field problem.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// RowError pairs a rejected import row with its reason.
type RowError struct {
	Row     int               `json:"row"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Fields  []ValidationError `json:"fields,omitempty"`
}

// RawRow is one spreadsheet row as text. Line is the 1-based sheet line.
type RawRow struct {
	Line        int
	Category    string
	Code        string
	Name        string
	Unit        string
	Rate        string
	AvgLeadTime string
}

// ImportStatus summarizes an import outcome.
type ImportStatus string

const (
	ImportSuccess  ImportStatus = "success"
	ImportPartial  ImportStatus = "partial"
	ImportRejected ImportStatus = "rejected"
	ImportFailed   ImportStatus = "failed"
)

// HTTPStatus maps the outcome to the status code returned to clients.
func (s ImportStatus) HTTPStatus() int {
	switch s {
	case ImportSuccess:
		return 200
	case ImportPartial:
		return 207
	case ImportRejected:
		return 422
	default:
		return 500
	}
}

// ImportReport is the result of one bulk import.
type ImportReport struct {
	ImportID     string       `json:"importId"`
	SuccessCount int          `json:"successCount"`
	Errors       []RowError   `json:"errors"`
	Status       ImportStatus `json:"status"`
	Failure      string       `json:"failure,omitempty"`
}
