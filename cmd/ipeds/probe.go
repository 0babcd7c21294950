package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ipeds/internal/fetcher"
	"ipeds/internal/ipedserr"
	"ipeds/internal/normalize"
	"ipeds/internal/table"
)

// newProbeCommand inspects a downloaded file without touching the store.
func newProbeCommand(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "Show how a raw csv or zip payload would be normalized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			kind, err := fetcher.DetectKind(path)
			if err != nil {
				return err
			}
			switch kind {
			case fetcher.KindWorkbook:
				return ipedserr.Newf(ipedserr.CodeInvalidArgument, "%s is a workbook; probe reads csv or zip payloads", path)
			case fetcher.KindArchive:
				exp, err := fetcher.Expand(path, filepath.Join(a.cfg.CacheDir, "probe", strings.ToLower(name)))
				if err != nil {
					return err
				}
				if exp.CSV == "" {
					return ipedserr.Newf(ipedserr.CodeDecode, "%s holds no csv", path)
				}
				path = exp.CSV
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return ipedserr.Wrapf(err, ipedserr.CodeDecode, "read %s", path)
			}
			res, err := normalize.Normalize(raw, name, normalize.Options{SampleRows: a.cfg.SampleRows})
			if err != nil {
				return err
			}
			writeProbe(a, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "table name (default: file name)")
	return cmd
}

func writeProbe(a *app, res normalize.Result) {
	t := res.Table
	year := "none"
	if res.YearOK {
		year = fmt.Sprint(res.Year)
	}
	fmt.Fprintf(a.stdout, "table %s: %d rows, %d columns, year %s\n", t.Name, t.Len(), len(t.Columns), year)
	fmt.Fprintf(a.stdout, "lossy=%v skipped=%d duplicates=%d\n", res.Lossy, res.Skipped, res.Duplicates)
	for final, orig := range res.Renamed {
		fmt.Fprintf(a.stdout, "renamed %q -> %s\n", orig, final)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tNULLS\tDISTINCT")
	for i, c := range t.Columns {
		nulls := 0
		distinct := map[table.Value]struct{}{}
		for _, r := range t.Rows {
			if r[i].IsNull() {
				nulls++
				continue
			}
			distinct[r[i]] = struct{}{}
		}
		unique := ""
		if len(distinct) == t.Len() && t.Len() > 0 {
			unique = " (unique)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d%s\n", c.Name, c.Type, nulls, len(distinct), unique)
	}
	_ = tw.Flush()
}
