// Package export writes reading series to an Excel workbook.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/store"

	"github.com/xuri/excelize/v2"
)

// SeriesHeader column titles of every series sheet
var SeriesHeader = []string{"ID", "Date", "Value", "Source"}

var columnWidths = []float64{12, 22, 10, 28}

// Workbook builds an xlsx file with one sheet per non-empty series, in registry order.
// An empty registry yields a single "Summary" sheet.
func Workbook(series []store.NamedSeries, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummary(f, series, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	for _, ns := range series {
		readings := ns.Snapshot()
		if len(readings) == 0 {
			continue
		}
		sheet := ns.Label()
		if _, err := f.NewSheet(sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
		if err := writeHeader(f, sheet, SeriesHeader, headerStyle); err != nil {
			f.Close()
			return nil, err
		}

		for i, r := range readings {
			row := i + 2
			values := []interface{}{r.ID, r.Date.In(loc).Format("2006-01-02 15:04:05"), nil, r.ShortSource()}
			if !r.IsPending() {
				values[2] = r.Value
			}
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

// writeSummary renames the default sheet to "Summary" and lists every series with its count
func writeSummary(f *excelize.File, series []store.NamedSeries, headerStyle int) error {
	const sheet = "Summary"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to rename default sheet: %w", err)
	}
	if err := writeHeader(f, sheet, []string{"Series", "Label", "Count"}, headerStyle); err != nil {
		return err
	}
	for i, ns := range series {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := []interface{}{string(ns.Source()), ns.Label(), ns.Count()}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if col < len(columnWidths) {
			if err := f.SetColWidth(sheet, name, name, columnWidths[col]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	// freeze the header row
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}
