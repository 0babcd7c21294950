package validate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jszwec/csvutil"

	"ipeds/internal/ipedserr"
)

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Write renders rep to w in format.
func Write(w io.Writer, rep *Report, format string) error {
	switch strings.ToLower(format) {
	case FormatText, "":
		return WriteText(w, rep)
	case FormatJSON:
		return WriteJSON(w, rep)
	case FormatCSV:
		return WriteCSV(w, rep)
	default:
		return ipedserr.Newf(ipedserr.CodeInvalidArgument, "unknown report format %q (want text, json or csv)", format)
	}
}

// WriteJSON writes the full report as indented JSON.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// csvRow is one check result, flattened.
type csvRow struct {
	Table    string `csv:"table"`
	Check    string `csv:"check"`
	Category string `csv:"category"`
	Status   string `csv:"status"`
	Message  string `csv:"message"`
	Detail   string `csv:"detail,omitempty"`
}

// WriteCSV writes one row per check result. Detail is embedded as JSON.
func WriteCSV(w io.Writer, rep *Report) error {
	var rows []csvRow
	for _, t := range rep.Tables {
		for _, r := range t.Results {
			row := csvRow{
				Table:    t.Table,
				Check:    r.Check,
				Category: string(r.Category),
				Status:   string(r.Status),
				Message:  r.Message,
			}
			if len(r.Detail) > 0 {
				b, err := json.Marshal(r.Detail)
				if err != nil {
					return err
				}
				row.Detail = string(b)
			}
			rows = append(rows, row)
		}
	}

	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if len(rows) == 0 {
		if err := enc.EncodeHeader(csvRow{}); err != nil {
			return err
		}
	} else if err := enc.Encode(rows); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteText writes a human-readable summary.
func WriteText(w io.Writer, rep *Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation report (%s) %s\n", rep.Level, rep.GeneratedAt.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintf(&b, "Overall: %s across %d table(s)\n", strings.ToUpper(string(rep.Status)), len(rep.Tables))
	for _, t := range rep.Tables {
		fmt.Fprintf(&b, "\n%s [%s] %d checks: %d passed, %d warnings, %d failed, %d errors\n",
			t.Table, t.Status, t.Total, t.Passed, t.Warnings, t.Failed, t.Errors)
		for _, r := range t.Results {
			fmt.Fprintf(&b, "  %-8s %-22s %s\n", r.Status, r.Check, r.Message)
		}
	}
	if len(rep.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, r := range rep.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
