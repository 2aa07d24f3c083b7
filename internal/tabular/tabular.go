// Package tabular parses uploaded CSV and XLSX files into ordered rows.
// The first row is the header; every later row becomes a Row whose cells are
// addressable by column name while preserving the file's column order, which
// the normalizer depends on for deterministic content synthesis.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row is one data row of a tabular file. Columns preserves the header order;
// Cells maps column name to the raw cell value.
type Row struct {
	// Columns is the header, in file order.
	Columns []string
	// Cells maps column name to cell value. Blank cells are present with an
	// empty value.
	Cells map[string]string
}

// Get returns the trimmed cell value for the named column. ok is false when
// the column is absent or the cell is blank; blank cells are treated as
// undefined, matching how spreadsheet tooling reports empty cells.
func (r Row) Get(column string) (string, bool) {
	v, exists := r.Cells[column]
	v = strings.TrimSpace(v)
	return v, exists && v != ""
}

// ParseCSV reads a CSV stream into rows. The first record is the header.
// Records with a different field count than the header are an error: a
// ragged CSV is almost always a quoting mistake worth surfacing.
func ParseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("tabular: parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := trimAll(records[0])
	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, buildRow(header, record))
	}
	return rows, nil
}

// ParseXLSX reads the first sheet of an XLSX workbook into rows. The first
// sheet row is the header.
func ParseXLSX(data []byte) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tabular: open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("tabular: xlsx workbook has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("tabular: read sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := trimAll(records[0])
	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, buildRow(header, record))
	}
	return rows, nil
}

// buildRow zips a header with one record. Excelize omits trailing blank
// cells, so short records are padded with empty values.
func buildRow(header, record []string) Row {
	cells := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(record) {
			cells[col] = record[i]
		} else {
			cells[col] = ""
		}
	}
	return Row{Columns: header, Cells: cells}
}

// trimAll returns the slice with each element whitespace-trimmed.
func trimAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
