package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ipeds/internal/ipedserr"
	"ipeds/internal/maintenance"
	"ipeds/internal/storage"
	"ipeds/internal/table"
	"ipeds/internal/validate"
)

func newTablesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s storage.Store) error {
				names, err := s.ListTables(cmd.Context())
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(a.stdout, n)
				}
				return nil
			})
		},
	}
}

func newSchemaCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema TABLE",
		Short: "Print a table's columns and types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s storage.Store) error {
				cols, err := s.TableSchema(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				for _, c := range cols {
					fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Type)
				}
				return tw.Flush()
			})
		},
	}
}

func newCountCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count TABLE",
		Short: "Print a table's row count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s storage.Store) error {
				n, err := s.RowCount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, n)
				return nil
			})
		},
	}
}

func newQueryCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run a SQL query and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s storage.Store) error {
				t, err := s.Query(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeTable(a.stdout, t, format)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, csv, json")
	return cmd
}

// writeTable renders a query result. NULL prints as an empty cell, or null
// in JSON.
func writeTable(w io.Writer, t *table.Table, format string) error {
	switch strings.ToLower(format) {
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(t.ColumnNames()); err != nil {
			return err
		}
		for _, r := range t.Rows {
			rec := make([]string, len(r))
			for i, v := range r {
				rec[i] = v.String()
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case "json":
		names := t.ColumnNames()
		out := make([]map[string]any, 0, t.Len())
		for _, r := range t.Rows {
			m := make(map[string]any, len(r))
			for i, v := range r {
				m[names[i]] = v.Any()
			}
			out = append(out, m)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(t.ColumnNames(), "\t"))
		for _, r := range t.Rows {
			cells := make([]string, len(r))
			for i, v := range r {
				cells[i] = v.String()
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		return tw.Flush()
	default:
		return ipedserr.Newf(ipedserr.CodeInvalidArgument, "unknown output format %q", format)
	}
}

func newValidateCommand(a *app) *cobra.Command {
	var (
		levelName string
		format    string
		output    string
		strict    bool
	)
	cmd := &cobra.Command{
		Use:   "validate [TABLE...]",
		Short: "Run data-quality checks (all tables when none are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := validate.ParseLevel(levelName)
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s storage.Store) error {
				e := validate.New(s, validate.Options{
					DuplicateExhaustiveMax: a.cfg.DuplicateExhaustiveMax,
					Verbose:                a.cfg.Verbose,
				})
				rep, err := e.Validate(cmd.Context(), args, level)
				if err != nil {
					return err
				}

				w := a.stdout
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				if err := validate.Write(w, rep, format); err != nil {
					return err
				}
				if strict && (rep.Status == validate.StatusFail || rep.Status == validate.StatusError) {
					return fmt.Errorf("validation %s", rep.Status)
				}
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&levelName, "level", "standard", "check level: basic, standard, comprehensive")
	fs.StringVar(&format, "format", "text", "report format: text, json, csv")
	fs.StringVarP(&output, "output", "o", "", "write the report to this file")
	fs.BoolVar(&strict, "strict", false, "exit non-zero when any check fails or errors")
	return cmd
}

func newMaintainCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Store housekeeping",
	}

	var opts maintenance.LowercaseOptions
	lower := &cobra.Command{
		Use:   "lowercase",
		Short: "Rename legacy mixed-case tables to lowercase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s storage.Store) error {
				actions, err := maintenance.LowercaseTables(cmd.Context(), s, opts)
				for _, act := range actions {
					fmt.Fprintln(a.stdout, act)
				}
				if err == nil && len(actions) == 0 {
					fmt.Fprintln(a.stdout, "all tables are lowercase")
				}
				return err
			})
		},
	}
	lower.Flags().BoolVar(&opts.DropTwins, "drop-twins", false, "drop mixed-case tables whose lowercase name is taken")
	lower.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the actions without applying them")

	drop := &cobra.Command{
		Use:   "drop TABLE...",
		Short: "Drop tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s storage.Store) error {
				for _, n := range args {
					if err := maintenance.Drop(cmd.Context(), s, n); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	rename := &cobra.Command{
		Use:   "rename FROM TO",
		Short: "Rename a table (the new name is lowercased)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s storage.Store) error {
				return maintenance.Rename(cmd.Context(), s, args[0], args[1])
			})
		},
	}

	cmd.AddCommand(lower, drop, rename)
	return cmd
}
