package table

import (
	"reflect"
	"testing"
)

func TestWiden(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, want Type
	}{
		{TypeNull, TypeInteger, TypeInteger},
		{TypeInteger, TypeFloat, TypeFloat},
		{TypeFloat, TypeInteger, TypeFloat},
		{TypeText, TypeInteger, TypeText},
		{TypeNull, TypeNull, TypeNull},
	}
	for _, tt := range tests {
		if got := Widen(tt.a, tt.b); got != tt.want {
			t.Fatalf("Widen(%v,%v)=%v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestValueConvert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     Value
		to     Type
		want   Value
		wantOK bool
	}{
		{"int to float", Int(3), TypeFloat, Float(3), true},
		{"int to text", Int(100654), TypeText, Text("100654"), true},
		{"float to text", Float(2.5), TypeText, Text("2.5"), true},
		{"integral float to int", Float(7), TypeInteger, Int(7), true},
		{"fractional float to int", Float(7.5), TypeInteger, Null, false},
		{"text to int", Text(" 42 "), TypeInteger, Int(42), true},
		{"bad text to float", Text("n/a"), TypeFloat, Null, false},
		{"null stays null", Null, TypeInteger, Null, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.in.Convert(tt.to)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("Convert()=(%#v,%v), want (%#v,%v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFromAny(t *testing.T) {
	t.Parallel()

	if got := FromAny([]byte("abc")); got != Text("abc") {
		t.Fatalf("FromAny([]byte)=%#v", got)
	}
	if got := FromAny(int32(5)); got != Int(5) {
		t.Fatalf("FromAny(int32)=%#v", got)
	}
	if got := FromAny(nil); !got.IsNull() {
		t.Fatalf("FromAny(nil)=%#v", got)
	}
}

func TestInsertColumn(t *testing.T) {
	t.Parallel()

	tb := New("hd2023", Column{Name: "UNITID", Type: TypeInteger}, Column{Name: "INSTNM", Type: TypeText})
	tb.Append(Int(100654), Text("Alabama A & M University"))
	tb.Append(Int(100663), Text("University of Alabama at Birmingham"))

	tb.InsertColumn(1, Column{Name: "YEAR", Type: TypeInteger}, Int(2023))

	if got, want := tb.ColumnNames(), []string{"UNITID", "YEAR", "INSTNM"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("columns=%v, want %v", got, want)
	}
	for i, r := range tb.Rows {
		if len(r) != 3 || r[1] != Int(2023) {
			t.Fatalf("row %d = %#v", i, r)
		}
	}
	if tb.ColumnIndex("instnm") != 2 {
		t.Fatalf("ColumnIndex should be case-insensitive")
	}
}

func TestMoveColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to int
		want     []string
	}{
		{3, 1, []string{"A", "D", "B", "C"}},
		{0, 2, []string{"B", "C", "A", "D"}},
		{1, 1, []string{"A", "B", "C", "D"}},
		{9, 0, []string{"A", "B", "C", "D"}},
	}
	for _, tt := range tests {
		tb := New("t", Column{Name: "A"}, Column{Name: "B"}, Column{Name: "C"}, Column{Name: "D"})
		tb.Append(Text("A"), Text("B"), Text("C"), Text("D"))
		tb.MoveColumn(tt.from, tt.to)
		if got := tb.ColumnNames(); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("MoveColumn(%d,%d) columns=%v, want %v", tt.from, tt.to, got, tt.want)
		}
		for i, v := range tb.Rows[0] {
			if v.S != tt.want[i] {
				t.Fatalf("MoveColumn(%d,%d) row=%v", tt.from, tt.to, tb.Rows[0])
			}
		}
	}
}
