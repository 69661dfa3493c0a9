// Package sheet reads import rows from and writes items to spreadsheets.
//
// Both xlsx and CSV carry the same columns:
//
//	SubType | Code | Item Name | Unit | Rate | Avg. Lead Time
//
// Header matching is case-insensitive. Rate and Avg. Lead Time may be
// omitted entirely; the other four are required.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/basicitems/internal/core"
)

// Column names, in export order.
const (
	ColSubType     = "SubType"
	ColCode        = "Code"
	ColItemName    = "Item Name"
	ColUnit        = "Unit"
	ColRate        = "Rate"
	ColAvgLeadTime = "Avg. Lead Time"
)

// Header is the export header row.
var Header = []string{ColSubType, ColCode, ColItemName, ColUnit, ColRate, ColAvgLeadTime}

var requiredColumns = []string{ColSubType, ColCode, ColItemName, ColUnit}

var (
	ErrUnsupportedFormat = errors.New("unsupported file type")
	ErrEmptySheet        = errors.New("sheet has no header row")
	ErrMissingColumn     = errors.New("missing required column")
)

// Format is a spreadsheet file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "xlsx" or "csv" in any case, with or without a dot.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "xlsx":
		return FormatXLSX, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// FormatOf picks the format from a file name's extension.
func FormatOf(name string) (Format, error) {
	return ParseFormat(filepath.Ext(name))
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Read parses r according to the extension of name.
func Read(name string, r io.Reader) ([]core.RawRow, error) {
	f, err := FormatOf(name)
	if err != nil {
		return nil, err
	}
	if f == FormatXLSX {
		return ReadXLSX(r)
	}
	return ReadCSV(r)
}

// ReadCSV parses a CSV file. A UTF-8 BOM is skipped and invalid UTF-8 is
// replaced before parsing.
func ReadCSV(r io.Reader) ([]core.RawRow, error) {
	cr := csv.NewReader(newCleanReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rowsFrom(records)
}

// ReadXLSX parses the first worksheet of an xlsx workbook.
func ReadXLSX(r io.Reader) ([]core.RawRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rowsFrom(records)
}

// rowsFrom maps records to raw rows. records[0] is the header; blank rows are
// skipped but still count toward line numbers.
func rowsFrom(records [][]string) ([]core.RawRow, error) {
	if len(records) == 0 || blank(records[0]) {
		return nil, ErrEmptySheet
	}

	idx := core.MakeHeaderIndex(records[0])
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[strings.ToLower(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	rows := make([]core.RawRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		rows = append(rows, core.RawRow{
			Line:        i + 2,
			Category:    idx.Cell(rec, ColSubType),
			Code:        idx.Cell(rec, ColCode),
			Name:        idx.Cell(rec, ColItemName),
			Unit:        idx.Cell(rec, ColUnit),
			Rate:        idx.Cell(rec, ColRate),
			AvgLeadTime: idx.Cell(rec, ColAvgLeadTime),
		})
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
