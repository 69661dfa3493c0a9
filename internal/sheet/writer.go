package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/basicitems/internal/core"
)

// ExportSheet is the worksheet name used by WriteXLSX.
const ExportSheet = "Items"

// record renders an item in Header order.
func record(it core.Item) []string {
	rate := ""
	if it.Rate.Valid {
		rate = it.Rate.Decimal.String()
	}
	return []string{
		string(it.Category),
		it.Code,
		it.Name,
		it.Unit,
		rate,
		strconv.FormatFloat(it.AvgLeadTime, 'f', -1, 64),
	}
}

// Write renders items in format f.
func Write(w io.Writer, f Format, items []core.Item) error {
	switch f {
	case FormatXLSX:
		return WriteXLSX(w, items)
	case FormatCSV:
		return WriteCSV(w, items)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// WriteCSV writes a header row followed by one row per item.
func WriteCSV(w io.Writer, items []core.Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, it := range items {
		if err := cw.Write(record(it)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook. Every cell is written as text so
// codes and rates round-trip exactly.
func WriteXLSX(w io.Writer, items []core.Item) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := f.SetSheetRow(ExportSheet, "A1", &Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetRowStyle(ExportSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, it := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		rec := record(it)
		if err := f.SetSheetRow(ExportSheet, cell, &rec); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(ExportSheet, "A", "A", 20); err != nil {
		return err
	}
	if err := f.SetColWidth(ExportSheet, "C", "C", 40); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
