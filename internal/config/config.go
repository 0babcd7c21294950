// Package config holds runtime configuration for the ipeds tools.
//
// Values are layered, highest priority first:
//
//	command-line flags > IPEDS_* environment (incl. .env) > config file > defaults
//
// Every option is a pflag on the root command; Load binds the flag set into
// viper so the environment and an optional config file can fill in flags that
// were not given explicitly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable: --cache-dir -> IPEDS_CACHE_DIR.
const EnvPrefix = "IPEDS"

const (
	DefaultIndexURL        = "https://nces.ed.gov/ipeds/datacenter/DataFiles.aspx?year=%d"
	DefaultResultsSelector = "table#contentPlaceHolder_tblResult"
	DefaultUserAgent       = "ipeds-ingest/1.0 (+research data pipeline)"
)

// Config is the full runtime configuration.
type Config struct {
	// Store
	Driver   string `json:"driver" toml:"driver"`
	DSN      string `json:"dsn" toml:"dsn"`
	ReadOnly bool   `json:"read_only" toml:"read-only"`

	// Remote access
	CacheDir        string        `json:"cache_dir" toml:"cache-dir"`
	IndexURL        string        `json:"index_url" toml:"index-url"`
	ResultsSelector string        `json:"results_selector" toml:"results-selector"`
	UserAgent       string        `json:"user_agent" toml:"user-agent"`
	Delay           time.Duration `json:"delay" toml:"delay"`
	Timeout         time.Duration `json:"timeout" toml:"timeout"`
	RespectRobots   bool          `json:"respect_robots" toml:"respect-robots"`

	// Normalization / validation
	SampleRows             int `json:"sample_rows" toml:"sample-rows"`
	DuplicateExhaustiveMax int `json:"duplicate_exhaustive_max" toml:"duplicate-exhaustive-max"`

	// Metrics
	MetricsBackend string `json:"metrics_backend" toml:"metrics-backend"`
	MetricsTags    string `json:"metrics_tags" toml:"metrics-tags"`

	Verbose bool `json:"verbose" toml:"verbose"`
}

// Default returns the built-in defaults. Paths are user-scoped so cached
// downloads survive reboots and temp cleaners.
func Default() Config {
	return Config{
		Driver:                 "sqlite",
		DSN:                    defaultDBPath(),
		CacheDir:               defaultCacheDir(),
		IndexURL:               DefaultIndexURL,
		ResultsSelector:        DefaultResultsSelector,
		UserAgent:              DefaultUserAgent,
		Delay:                  time.Second,
		Timeout:                2 * time.Minute,
		RespectRobots:          true,
		SampleRows:             1000,
		DuplicateExhaustiveMax: 500000,
	}
}

func defaultCacheDir() string {
	if d, err := os.UserCacheDir(); err == nil && d != "" {
		return filepath.Join(d, "ipeds", "raw")
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, ".ipeds", "raw")
	}
	return filepath.Join(".ipeds", "raw")
}

func defaultDBPath() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, ".ipeds", "ipeds.db")
	}
	return filepath.Join(".ipeds", "ipeds.db")
}

// RegisterFlags defines one flag per Config field on fs, writing into c.
// Current values of c are the flag defaults.
func RegisterFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringP("config", "c", "", "configuration file (toml, yaml or json)")
	fs.StringVar(&c.Driver, "driver", c.Driver, "store driver: sqlite, postgres, mssql, mysql")
	fs.StringVar(&c.DSN, "dsn", c.DSN, "store DSN (file path for sqlite)")
	fs.BoolVar(&c.ReadOnly, "read-only", c.ReadOnly, "open the store read-only")
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "directory for downloaded raw files")
	fs.StringVar(&c.IndexURL, "index-url", c.IndexURL, "listing page URL template (one %d for the year)")
	fs.StringVar(&c.ResultsSelector, "results-selector", c.ResultsSelector, "CSS selector of the listing results table")
	fs.StringVar(&c.UserAgent, "user-agent", c.UserAgent, "HTTP User-Agent")
	fs.DurationVar(&c.Delay, "delay", c.Delay, "courtesy delay before each download")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "per-request HTTP timeout")
	fs.BoolVar(&c.RespectRobots, "respect-robots", c.RespectRobots, "check robots.txt before scraping the listing")
	fs.IntVar(&c.SampleRows, "sample-rows", c.SampleRows, "rows sampled for type inference")
	fs.IntVar(&c.DuplicateExhaustiveMax, "duplicate-exhaustive-max", c.DuplicateExhaustiveMax, "above this many rows, duplicate checks sample")
	fs.StringVar(&c.MetricsBackend, "metrics-backend", c.MetricsBackend, "metrics backend: none, datadog (default: $METRICS_BACKEND, else none)")
	fs.StringVar(&c.MetricsTags, "metrics-tags", c.MetricsTags, "extra metric tags, comma separated")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "verbose logging")
}

// Load fills every flag of fs that was not set on the command line from the
// environment (after loading .env files, if present) and from the file named
// by the "config" flag. Unknown keys in the config file are an error.
func Load(v *viper.Viper, fs *pflag.FlagSet, envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// godotenv.Load never overrides variables already in the environment.
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	valid := make(map[string]bool)
	fs.VisitAll(func(f *pflag.Flag) { valid[f.Name] = true })

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %q: %w", c, err)
		}
		for _, key := range v.AllKeys() {
			if !valid[key] {
				return fmt.Errorf("invalid option in config file %q: %s", c, key)
			}
		}
	}

	var setErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if setErr != nil || f.Changed {
			return
		}
		val := v.GetString(f.Name)
		if f.Value.Type() == "stringSlice" {
			// GetString is empty for slices read from a config file.
			val = strings.Join(v.GetStringSlice(f.Name), ",")
		}
		if err := f.Value.Set(val); err != nil {
			setErr = fmt.Errorf("option %s=%q: %w", f.Name, val, err)
		}
	})
	return setErr
}
