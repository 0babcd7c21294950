package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ipeds/internal/consolidate"
	"ipeds/internal/ipedserr"
	"ipeds/internal/loader"
	"ipeds/internal/normalize"
	"ipeds/internal/pipeline"
	"ipeds/internal/storage"
)

func newIndexCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "index YEAR",
		Short: "List the data files published for a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			years, err := parseYears(args)
			if err != nil {
				return err
			}
			entries, err := a.scraper().Index(cmd.Context(), years[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tSURVEY\tTITLE\tDICTIONARY")
			for _, e := range entries {
				dict := "-"
				if e.DictionaryURL != "" {
					dict = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Table, e.Survey, e.Title, dict)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func newFetchCommand(a *app) *cobra.Command {
	var (
		force  bool
		tables []string
	)
	cmd := &cobra.Command{
		Use:   "fetch YEAR",
		Short: "Download a year's data files into the cache without loading them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			years, err := parseYears(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			entries, err := a.scraper().Index(ctx, years[0])
			if err != nil {
				return err
			}
			want := map[string]bool{}
			for _, t := range tables {
				want[loader.CanonicalName(t)] = true
			}

			f := a.fetcher()
			dir := filepath.Join(a.cfg.CacheDir, strconv.Itoa(years[0]))
			failed := 0
			for _, e := range entries {
				if len(want) > 0 && !want[e.Table] {
					continue
				}
				path, err := f.Fetch(ctx, e.DataURL, dir, force)
				if err != nil {
					if ipedserr.Is(err, ipedserr.CodeInvalidArgument) {
						return err
					}
					failed++
					log.Printf("fetch: %s: %v", e.Table, err)
					continue
				}
				fmt.Fprintln(a.stdout, path)
			}
			if failed > 0 {
				return ipedserr.Newf(ipedserr.CodeDownload, "%d download(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-download files already cached")
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "only these tables")
	return cmd
}

func newIngestCommand(a *app) *cobra.Command {
	var (
		opts      pipeline.Options
		andMerge  bool
		keepDups  bool
		showJSONs bool
	)
	cmd := &cobra.Command{
		Use:   "ingest YEAR...",
		Short: "Download, normalize and load every table of one or more years",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			years, err := parseYears(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			opts.CacheDir = a.cfg.CacheDir
			opts.Verbose = a.cfg.Verbose
			opts.Normalize = normalize.Options{SampleRows: a.cfg.SampleRows, KeepDuplicates: keepDups}

			return a.withStore(ctx, func(s storage.Store) error {
				r := pipeline.New(a.scraper(), a.fetcher(), s, opts)
				var (
					sums     []*pipeline.Summary
					failed   int
					yearErrs []error
					stopErr  error
				)
				for _, y := range years {
					sum, err := r.IngestYear(ctx, y)
					sums = append(sums, sum)
					failed += sum.Failed
					if !showJSONs {
						fmt.Fprintln(a.stdout, sum)
					}
					if err == nil {
						continue
					}
					log.Printf("ingest: year %d: %v", y, err)
					if stopsBatch(ctx, err) {
						stopErr = err
						break
					}
					yearErrs = append(yearErrs, err)
				}
				if showJSONs {
					enc := json.NewEncoder(a.stdout)
					enc.SetIndent("", "  ")
					if err := enc.Encode(sums); err != nil {
						return err
					}
				}
				if stopErr != nil {
					return stopErr
				}
				if andMerge {
					if err := consolidateAll(a, cmd, s, consolidate.Families()); err != nil {
						return err
					}
				}
				if len(yearErrs) > 0 {
					first := yearErrs[0]
					return ipedserr.Wrapf(first, ipedserr.CodeOf(first), "%d year(s) aborted, %d table(s) failed", len(yearErrs), failed)
				}
				if failed > 0 {
					return fmt.Errorf("%d table(s) failed to ingest", failed)
				}
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&opts.Force, "force", false, "re-download files already cached")
	fs.BoolVar(&opts.Overwrite, "overwrite", false, "replace tables that already exist")
	fs.BoolVar(&opts.SkipDictionaries, "skip-dictionaries", false, "do not build vartable/valuesets tables")
	fs.StringSliceVar(&opts.Tables, "tables", nil, "only these tables")
	fs.BoolVar(&keepDups, "keep-duplicates", false, "keep exact duplicate rows")
	fs.BoolVar(&andMerge, "consolidate", false, "rebuild consolidated tables afterwards")
	fs.BoolVar(&showJSONs, "json", false, "print summaries as JSON")
	return cmd
}

// stopsBatch reports whether err makes the remaining years pointless: the
// store is locked, the configuration is unusable, or the run was cancelled.
func stopsBatch(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		ipedserr.Is(err, ipedserr.CodeWriteLock) ||
		ipedserr.Is(err, ipedserr.CodeInvalidArgument)
}

func newConsolidateCommand(a *app) *cobra.Command {
	var planOnly bool
	cmd := &cobra.Command{
		Use:   "consolidate [FAMILY...]",
		Short: "Rebuild longitudinal tables (hd_all, ic_all, vartable_all, valuesets_all)",
		Long: `Rebuild the consolidated table of each family from its per-year tables.
Families: directory (hd), characteristics (ic), variables (vartable),
valuesets. With no arguments every family is rebuilt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			families := consolidate.Families()
			if len(args) > 0 {
				families = families[:0]
				for _, arg := range args {
					f, err := consolidate.ParseFamily(arg)
					if err != nil {
						return err
					}
					families = append(families, f)
				}
			}
			return a.withStore(cmd.Context(), func(s storage.Store) error {
				if planOnly {
					return printPlans(a, cmd, s, families)
				}
				return consolidateAll(a, cmd, s, families)
			})
		},
	}
	cmd.Flags().BoolVar(&planOnly, "plan", false, "print the union schema and conflicts without writing")
	return cmd
}

func consolidateAll(a *app, cmd *cobra.Command, s storage.Store, families []consolidate.Family) error {
	c := consolidate.New(s, a.cfg.Verbose)
	for _, f := range families {
		res, err := c.Consolidate(cmd.Context(), f)
		switch {
		case ipedserr.Is(err, ipedserr.CodeSkipped):
			fmt.Fprintf(a.stdout, "%s: skipped (no member tables)\n", f.Target())
		case err != nil:
			return err
		default:
			fmt.Fprintf(a.stdout, "%s: %d rows from %d tables, %d columns, %d schema conflicts\n",
				res.Target, res.Rows, len(res.Members), res.Columns, len(res.Conflicts))
		}
	}
	return nil
}

func printPlans(a *app, cmd *cobra.Command, s storage.Store, families []consolidate.Family) error {
	c := consolidate.New(s, a.cfg.Verbose)
	for _, f := range families {
		p, err := c.Plan(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s: %d member(s), %d column(s)\n", p.Target, len(p.Members), len(p.Columns))
		for _, cf := range p.Conflicts {
			fmt.Fprintf(a.stdout, "  %s\n", cf)
		}
	}
	return nil
}
