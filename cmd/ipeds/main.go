// Command ipeds ingests IPEDS survey tables into a relational store and
// checks their quality.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ipeds/internal/config"
	"ipeds/internal/fetcher"
	"ipeds/internal/ipedserr"
	"ipeds/internal/metrics"
	"ipeds/internal/metrics/datadog"
	"ipeds/internal/scraper"
	"ipeds/internal/storage"

	// register all backends with the storage factory.
	_ "ipeds/internal/storage/all"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{cfg: config.Default(), stdout: stdout, stderr: stderr}
	defer a.closeMetrics()

	root := newRootCommand(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		if ipedserr.Is(err, ipedserr.CodeWriteLock) {
			fmt.Fprintln(stderr, "the store is locked by another process; retry later")
		}
		return 1
	}
	return 0
}

// app is the state shared by all subcommands.
type app struct {
	cfg    config.Config
	stdout io.Writer
	stderr io.Writer

	closeMetricsFn func()
}

func newRootCommand(a *app) *cobra.Command {
	rc := &cobra.Command{
		Use:   "ipeds",
		Short: "Ingest, consolidate and validate IPEDS survey data",
		Long: `ipeds downloads the complete data files the IPEDS data center lists for a
year, normalizes them into typed tables with a YEAR column, and loads them
into a relational store (sqlite by default). Per-year tables can be
consolidated into longitudinal tables and checked with data-quality rules.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(viper.New(), cmd.Flags()); err != nil {
				return ipedserr.Wrap(err, ipedserr.CodeInvalidArgument, "configuration")
			}
			log.SetOutput(a.stderr)
			issues := config.Validate(a.cfg)
			for _, iss := range issues {
				fmt.Fprintln(a.stderr, iss)
			}
			if config.HasErrors(issues) {
				return ipedserr.New(ipedserr.CodeInvalidArgument, "configuration is invalid")
			}
			a.setupMetrics(cmd.Context())
			return nil
		},
	}
	config.RegisterFlags(rc.PersistentFlags(), &a.cfg)

	rc.AddCommand(newIndexCommand(a))
	rc.AddCommand(newFetchCommand(a))
	rc.AddCommand(newIngestCommand(a))
	rc.AddCommand(newConsolidateCommand(a))
	rc.AddCommand(newValidateCommand(a))
	rc.AddCommand(newTablesCommand(a))
	rc.AddCommand(newSchemaCommand(a))
	rc.AddCommand(newCountCommand(a))
	rc.AddCommand(newQueryCommand(a))
	rc.AddCommand(newMaintainCommand(a))
	rc.AddCommand(newProbeCommand(a))

	rc.SetOut(a.stdout)
	rc.SetErr(a.stderr)
	return rc
}

// metricsBackendName resolves the backend: flag/config → METRICS_BACKEND → none.
func (a *app) metricsBackendName() string {
	if a.cfg.MetricsBackend != "" {
		return a.cfg.MetricsBackend
	}
	if env := strings.TrimSpace(os.Getenv("METRICS_BACKEND")); env != "" {
		return env
	}
	return "none"
}

func (a *app) setupMetrics(ctx context.Context) {
	backendName := a.metricsBackendName()
	switch backendName {
	case "datadog":
		extraTags := datadog.ParseTagsCSV(a.cfg.MetricsTags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    "ipeds",
			Tags:       extraTags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=%v tags=%v", backendName, extraTags)
		metrics.SetBackend(b)
		// Close stops the flush loop and submits one last time.
		a.closeMetricsFn = func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}
	case "", "none":
		if a.cfg.Verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func (a *app) closeMetrics() {
	if a.closeMetricsFn != nil {
		a.closeMetricsFn()
		a.closeMetricsFn = nil
	}
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	return storage.Open(ctx, storage.Config{Driver: a.cfg.Driver, DSN: a.cfg.DSN, ReadOnly: a.cfg.ReadOnly})
}

func (a *app) scraper() *scraper.Scraper {
	return scraper.New(scraper.Options{
		IndexURL:      a.cfg.IndexURL,
		Selector:      a.cfg.ResultsSelector,
		UserAgent:     a.cfg.UserAgent,
		Timeout:       a.cfg.Timeout,
		RespectRobots: a.cfg.RespectRobots,
	})
}

func (a *app) fetcher() *fetcher.Fetcher {
	return fetcher.New(fetcher.Options{
		UserAgent: a.cfg.UserAgent,
		Delay:     a.cfg.Delay,
		Timeout:   a.cfg.Timeout,
	})
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(storage.Store) error) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func parseYears(args []string) ([]int, error) {
	out := make([]int, 0, len(args))
	for _, arg := range args {
		y, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || y < 1980 || y > 2100 {
			return nil, ipedserr.Newf(ipedserr.CodeInvalidArgument, "invalid year %q", arg)
		}
		out = append(out, y)
	}
	return out, nil
}
