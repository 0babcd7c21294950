// Package dictionary reads the data-dictionary workbooks published next to
// each data file and assembles them into per-year dictionary tables:
//
//	vartable<YYYY>   one row per variable (from the "varlist" sheet)
//	valuesets<YYYY>  one row per coded value (from the "frequencies" sheet)
//
// Every row carries a TABLENAME column naming the data table it describes.
package dictionary

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"ipeds/internal/ipedserr"
	"ipeds/internal/normalize"
	"ipeds/internal/table"
)

const (
	VarListSheet     = "varlist"
	FrequenciesSheet = "frequencies"
	TableNameColumn  = "TABLENAME"
)

// Sheet is a header plus raw string rows.
type Sheet struct {
	Header []string
	Rows   [][]string
}

// Workbook is the useful content of one dictionary workbook.
type Workbook struct {
	// Table is the lowercase data table the workbook documents.
	Table       string
	VarList     Sheet
	Frequencies Sheet
}

// TableFromPath derives the documented table name from a workbook path:
// "HD2023.xlsx" and "hd2023_dict.xlsx" both give "hd2023".
func TableFromPath(path string) string {
	b := strings.ToLower(filepath.Base(path))
	b = strings.TrimSuffix(b, filepath.Ext(b))
	for _, suf := range []string{"_dict", "_dictionary", "dict"} {
		b = strings.TrimSuffix(b, suf)
	}
	return strings.Trim(b, "_")
}

// Read opens the workbook at path and extracts the varlist and frequencies
// sheets, matched case-insensitively. Missing sheets are returned empty.
//
// Errors:
//   - CodeDecode when the file is not a readable workbook.
func Read(path string) (Workbook, error) {
	wb := Workbook{Table: TableFromPath(path)}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return wb, ipedserr.Wrapf(err, ipedserr.CodeDecode, "open workbook %s", path)
	}
	defer f.Close()

	for _, name := range f.GetSheetList() {
		var dst *Sheet
		switch strings.ToLower(strings.TrimSpace(name)) {
		case VarListSheet:
			dst = &wb.VarList
		case FrequenciesSheet:
			dst = &wb.Frequencies
		default:
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return wb, ipedserr.Wrapf(err, ipedserr.CodeDecode, "read sheet %s of %s", name, path)
		}
		if len(rows) == 0 {
			continue
		}
		dst.Header = rows[0]
		dst.Rows = rows[1:]
	}
	return wb, nil
}

// Tables holds the assembled dictionary tables for one year.
type Tables struct {
	Variables *table.Table // nil when no workbook had a varlist sheet
	ValueSets *table.Table // nil when no workbook had a frequencies sheet
}

// VariablesName and ValueSetsName are the per-year table names.
func VariablesName(year int) string { return fmt.Sprintf("vartable%d", year) }
func ValueSetsName(year int) string { return fmt.Sprintf("valuesets%d", year) }

// Assemble merges the workbooks of one year into the two dictionary tables.
// Headers are unioned by name (case-insensitive, first-seen order) because
// workbooks of different surveys do not share an exact layout.
func Assemble(year int, books []Workbook, opts normalize.Options) (Tables, error) {
	var out Tables
	var err error

	vars := make([]namedSheet, 0, len(books))
	freqs := make([]namedSheet, 0, len(books))
	for _, b := range books {
		vars = append(vars, namedSheet{b.Table, b.VarList})
		freqs = append(freqs, namedSheet{b.Table, b.Frequencies})
	}

	if out.Variables, err = assemble(VariablesName(year), vars, opts); err != nil {
		return out, err
	}
	if out.ValueSets, err = assemble(ValueSetsName(year), freqs, opts); err != nil {
		return out, err
	}
	return out, nil
}

type namedSheet struct {
	table string
	sheet Sheet
}

func assemble(name string, parts []namedSheet, opts normalize.Options) (*table.Table, error) {
	header := []string{TableNameColumn}
	index := map[string]int{strings.ToLower(TableNameColumn): 0}
	for _, p := range parts {
		for _, h := range p.sheet.Header {
			k := strings.ToLower(strings.TrimSpace(h))
			if k == "" {
				continue
			}
			if _, ok := index[k]; !ok {
				index[k] = len(header)
				header = append(header, strings.TrimSpace(h))
			}
		}
	}
	if len(header) == 1 {
		return nil, nil
	}

	var records [][]string
	for _, p := range parts {
		pos := make([]int, len(p.sheet.Header))
		for i, h := range p.sheet.Header {
			k := strings.ToLower(strings.TrimSpace(h))
			if j, ok := index[k]; ok && k != "" {
				pos[i] = j
			} else {
				pos[i] = -1
			}
		}
		for _, r := range p.sheet.Rows {
			rec := make([]string, len(header))
			rec[0] = p.table
			for i, v := range r {
				if i < len(pos) && pos[i] > 0 {
					rec[pos[i]] = v
				}
			}
			records = append(records, rec)
		}
	}

	res, err := normalize.FromRecords(name, header, records, opts)
	if err != nil {
		return nil, err
	}
	return res.Table, nil
}
