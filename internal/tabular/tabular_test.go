package tabular

import (
	"strings"
	"testing"
)

func TestParseCSV_PreservesColumnOrder(t *testing.T) {
	t.Parallel()

	rows, err := ParseCSV(strings.NewReader("b,a,userId\n1,2,u1\n3,4,u2\n"))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	wantCols := []string{"b", "a", "userId"}
	for i, col := range wantCols {
		if rows[0].Columns[i] != col {
			t.Errorf("column %d = %q, want %q", i, rows[0].Columns[i], col)
		}
	}

	if v, ok := rows[0].Get("a"); !ok || v != "2" {
		t.Errorf("Get(a) = %q, %v; want 2, true", v, ok)
	}
}

func TestParseCSV_BlankCellIsUndefined(t *testing.T) {
	t.Parallel()

	rows, err := ParseCSV(strings.NewReader("a,b\nx,\n"))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}

	if _, ok := rows[0].Get("b"); ok {
		t.Error("expected blank cell to report as undefined")
	}
	if _, ok := rows[0].Get("missing"); ok {
		t.Error("expected absent column to report as undefined")
	}
}

func TestParseCSV_EmptyInput(t *testing.T) {
	t.Parallel()

	rows, err := ParseCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows for empty input, got %d", len(rows))
	}
}

func TestParseCSV_RaggedRecordFails(t *testing.T) {
	t.Parallel()

	_, err := ParseCSV(strings.NewReader("a,b\n1,2,3\n"))
	if err == nil {
		t.Fatal("expected error for record with wrong field count")
	}
}

func TestParseXLSX_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseXLSX([]byte("not a zip"))
	if err == nil {
		t.Fatal("expected error for non-xlsx bytes")
	}
}
