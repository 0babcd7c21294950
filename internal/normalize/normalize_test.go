package normalize

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ipeds/internal/table"
)

func TestDeriveYear(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		want   int
		wantOK bool
	}{
		{"hd2023", 2023, true},
		{"HD2023", 2023, true},
		{"c2022_a", 2022, true},
		{"ef2022a", 2022, true},
		{"sfa1819_p1", 2019, true},
		{"f1920_f1a", 2020, true},
		{"ef19", 2019, true},
		{"eap_23", 2023, true},
		{"hd2023.csv", 2023, true},
		{"sfa2021", 2021, true}, // four-digit year wins over the 20/21 range reading
		{"x20231", 0, false},
		{"ef19a", 0, false},
		{"valuesets", 0, false},
		{"adm", 0, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DeriveYear(tt.name)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("DeriveYear(%q)=(%d,%v), want (%d,%v)", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDeriveYearProperties(t *testing.T) {
	t.Parallel()

	for y := 2000; y <= 2099; y++ {
		for _, prefix := range []string{"hd", "ic", "gr", "c"} {
			name := fmt.Sprintf("%s%d", prefix, y)
			if got, ok := DeriveYear(name); !ok || got != y {
				t.Fatalf("DeriveYear(%q)=(%d,%v), want %d", name, got, ok, y)
			}
		}
	}
	for yy := 0; yy <= 98; yy++ {
		if yy == 20 {
			continue // "20zz" is a four-digit year, rule 1
		}
		zz := yy + 1
		name := fmt.Sprintf("sfa%02d%02d_p1", yy, zz)
		if got, ok := DeriveYear(name); !ok || got != 2000+zz {
			t.Fatalf("DeriveYear(%q)=(%d,%v), want %d", name, got, ok, 2000+zz)
		}
	}
	for nn := 0; nn <= 99; nn++ {
		name := fmt.Sprintf("ef%02d", nn)
		if got, ok := DeriveYear(name); !ok || got != 2000+nn {
			t.Fatalf("DeriveYear(%q)=(%d,%v), want %d", name, got, ok, 2000+nn)
		}
	}
}

func TestEnsureYearColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cols []string
		ok   bool
		want []string
	}{
		{"after unitid", []string{"UNITID", "INSTNM"}, true, []string{"UNITID", "YEAR", "INSTNM"}},
		{"first without unitid", []string{"VARNAME", "VARTITLE"}, true, []string{"YEAR", "VARNAME", "VARTITLE"}},
		{"rename and move existing", []string{"year", "UNITID", "X"}, true, []string{"UNITID", "YEAR", "X"}},
		{"existing moved even without derived year", []string{"UNITID", "X", "Year"}, false, []string{"UNITID", "YEAR", "X"}},
		{"no year at all", []string{"UNITID", "X"}, false, []string{"UNITID", "X"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tb := table.New("t")
			for _, c := range tt.cols {
				tb.Columns = append(tb.Columns, table.Column{Name: c, Type: table.TypeText})
			}
			row := make([]table.Value, len(tt.cols))
			for i, c := range tt.cols {
				row[i] = table.Text(c)
			}
			tb.Append(row...)

			EnsureYearColumn(tb, 2023, tt.ok)
			if diff := cmp.Diff(tt.want, tb.ColumnNames()); diff != "" {
				t.Fatalf("columns (-want +got):\n%s", diff)
			}
			before := tb.ColumnNames()
			EnsureYearColumn(tb, 2023, tt.ok)
			if diff := cmp.Diff(before, tb.ColumnNames()); diff != "" {
				t.Fatalf("second call changed columns (-first +second):\n%s", diff)
			}
			if i := tb.ColumnIndex("YEAR"); i >= 0 && len(tb.Rows[0]) != len(tb.Columns) {
				t.Fatalf("row width %d != columns %d", len(tb.Rows[0]), len(tb.Columns))
			}
		})
	}
}

func TestInferType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []string
		want   table.Type
	}{
		{"ints", []string{"100654", "-1", "", "0"}, table.TypeInteger},
		{"leading zero stays text", []string{"01", "02"}, table.TypeText},
		{"zip codes", []string{"35762", "02138"}, table.TypeText},
		{"floats", []string{"1.5", "2", "0.25", "1e3"}, table.TypeFloat},
		{"mixed text", []string{"1", "n/a"}, table.TypeText},
		{"inf is text", []string{"Inf"}, table.TypeText},
		{"hex is text", []string{"0x1F"}, table.TypeText},
		{"all empty", []string{"", " "}, table.TypeNull},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InferType(tt.values); got != tt.want {
				t.Fatalf("InferType(%q)=%v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	raw := "\xEF\xBB\xBFUNITID,INSTNM,ZIP,Tuition Fee,INSTNM,\n" +
		"100654,Alabama A & M University,35762,9857.5,dup,\n" +
		"100654,Alabama A & M University,35762,9857.5,dup,\n" +
		"100663,University of Alabama at Birmingham,35294-0110,,dup,\n" +
		"100706,Short Row\n" +
		"100724,Too Long,36104,1,x,,extra\n" +
		",,,,,\n" +
		"100751,The University of Alabama,35487,11620,dup,,\n"

	res, err := Normalize([]byte(raw), "HD2023", Options{SampleRows: 2})
	if err != nil {
		t.Fatalf("Normalize() err=%v", err)
	}
	tb := res.Table

	if tb.Name != "hd2023" || !res.YearOK || res.Year != 2023 || res.Lossy {
		t.Fatalf("Normalize() name=%q year=(%d,%v) lossy=%v", tb.Name, res.Year, res.YearOK, res.Lossy)
	}
	wantCols := []table.Column{
		{Name: "UNITID", Type: table.TypeInteger},
		{Name: "YEAR", Type: table.TypeInteger},
		{Name: "INSTNM", Type: table.TypeText},
		{Name: "ZIP", Type: table.TypeText}, // 35294-0110 beyond the sample forces text
		{Name: "Tuition_Fee", Type: table.TypeFloat},
		{Name: "INSTNM_2", Type: table.TypeText},
		{Name: "column_6", Type: table.TypeText},
	}
	if diff := cmp.Diff(wantCols, tb.Columns); diff != "" {
		t.Fatalf("columns (-want +got):\n%s", diff)
	}
	if res.Duplicates != 1 {
		t.Fatalf("Duplicates=%d, want 1", res.Duplicates)
	}
	if res.Skipped != 2 {
		t.Fatalf("Skipped=%d, want 2 (long row with data, blank row)", res.Skipped)
	}
	if tb.Len() != 4 {
		t.Fatalf("rows=%d, want 4", tb.Len())
	}
	short := tb.Rows[2]
	if short[0] != table.Int(100706) || !short[3].IsNull() || !short[4].IsNull() {
		t.Fatalf("short row not padded with NULL: %v", short)
	}
	if tb.Rows[0][3] != table.Text("35762") {
		t.Fatalf("ZIP kept as text: %v", tb.Rows[0][3])
	}
	if got := res.Renamed["INSTNM_2"]; got != "INSTNM" {
		t.Fatalf("Renamed[INSTNM_2]=%q", got)
	}
}

func TestNormalizeKeepsRowsDifferingAcrossSeparators(t *testing.T) {
	t.Parallel()

	raw := "A,B\n\"a\x1ftb\",c\na,\"b\x1ftc\"\n"
	res, err := Normalize([]byte(raw), "t", Options{SampleRows: 10, NoYear: true})
	if err != nil {
		t.Fatalf("Normalize() err=%v", err)
	}
	if res.Duplicates != 0 || res.Table.Len() != 2 {
		t.Fatalf("rows=%d duplicates=%d, want 2 distinct rows", res.Table.Len(), res.Duplicates)
	}
}

func TestNormalizeLossyDecode(t *testing.T) {
	t.Parallel()

	// "Universit\xe9" is Windows-1252 for "Université"; \x01 is a stray control.
	raw := []byte("UNITID,INSTNM\n100654,Universit\xe9\x01 de Montr\xe9al\n")
	res, err := Normalize(raw, "hd2023", Options{})
	if err != nil {
		t.Fatalf("Normalize() err=%v", err)
	}
	if !res.Lossy {
		t.Fatalf("Lossy=false, want true")
	}
	if got := res.Table.Rows[0][2]; got != table.Text("Université de Montréal") {
		t.Fatalf("decoded=%q", got.S)
	}
}

func TestNormalizeErrors(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "\xEF\xBB\xBF"} {
		if _, err := Normalize([]byte(raw), "x", Options{}); err == nil {
			t.Fatalf("Normalize(%q) err=nil, want decode error", raw)
		}
	}
}

func TestTypesEquivalent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want bool
	}{
		{"TEXT", "VARCHAR(255)", true},
		{"nvarchar(max)", "CHARACTER VARYING", true},
		{"INTEGER", "BIGINT", true},
		{"DOUBLE PRECISION", "REAL", true},
		{"INTEGER", "TEXT", false},
		{"FLOAT", "INT", false},
	}
	for _, tt := range tests {
		if got := TypesEquivalent(tt.a, tt.b); got != tt.want {
			t.Fatalf("TypesEquivalent(%q,%q)=%v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
