package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newFlags(c *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, c)
	return fs
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	if issues := Validate(Default()); len(issues) != 0 {
		t.Fatalf("Validate(Default())=%v, want none", issues)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		path    string
		sev     Severity
		wantErr bool
	}{
		{"unknown driver", func(c *Config) { c.Driver = "oracle" }, "driver", SeverityError, true},
		{"no year verb", func(c *Config) { c.IndexURL = "https://example.org/list" }, "index-url", SeverityError, true},
		{"ftp url", func(c *Config) { c.IndexURL = "ftp://example.org/%d" }, "index-url", SeverityError, true},
		{"zero delay warns", func(c *Config) { c.Delay = 0 }, "delay", SeverityWarning, false},
		{"negative delay", func(c *Config) { c.Delay = -time.Second }, "delay", SeverityError, true},
		{"zero sample", func(c *Config) { c.SampleRows = 0 }, "sample-rows", SeverityError, true},
		{"unknown metrics", func(c *Config) { c.MetricsBackend = "statsd" }, "metrics-backend", SeverityWarning, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tt.mutate(&c)
			issues := Validate(c)
			if len(issues) != 1 || issues[0].Path != tt.path || issues[0].Severity != tt.sev {
				t.Fatalf("Validate()=%v, want one %s on %s", issues, tt.sev, tt.path)
			}
			if HasErrors(issues) != tt.wantErr {
				t.Fatalf("HasErrors()=%v, want %v", HasErrors(issues), tt.wantErr)
			}
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "ipeds.toml")
	if err := os.WriteFile(cfgFile, []byte("cache-dir = \"/from/file\"\nsample-rows = 50\ndriver = \"postgres\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IPEDS_SAMPLE_ROWS", "75")
	t.Setenv("IPEDS_DELAY", "3s")

	c := Default()
	fs := newFlags(&c)
	if err := fs.Parse([]string{"--config", cfgFile, "--driver", "sqlite"}); err != nil {
		t.Fatal(err)
	}
	if err := Load(viper.New(), fs, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("Load() err=%v", err)
	}

	if c.Driver != "sqlite" {
		t.Fatalf("flag should win: driver=%q", c.Driver)
	}
	if c.SampleRows != 75 {
		t.Fatalf("env should beat file: sample-rows=%d", c.SampleRows)
	}
	if c.CacheDir != "/from/file" {
		t.Fatalf("file should beat default: cache-dir=%q", c.CacheDir)
	}
	if c.Delay != 3*time.Second {
		t.Fatalf("delay=%s, want 3s", c.Delay)
	}
	if c.Timeout != Default().Timeout {
		t.Fatalf("default lost: timeout=%s", c.Timeout)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("IPEDS_USER_AGENT=dotenv-agent\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Registered with t.Setenv so the variable godotenv sets is restored after the test.
	t.Setenv("IPEDS_USER_AGENT", "")
	os.Unsetenv("IPEDS_USER_AGENT")

	c := Default()
	fs := newFlags(&c)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	if err := Load(viper.New(), fs, envFile); err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if c.UserAgent != "dotenv-agent" {
		t.Fatalf("user-agent=%q, want dotenv-agent", c.UserAgent)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(cfgFile, []byte("no-such-option = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := Default()
	fs := newFlags(&c)
	if err := fs.Parse([]string{"--config", cfgFile}); err != nil {
		t.Fatal(err)
	}
	if err := Load(viper.New(), fs, filepath.Join(dir, "none.env")); err == nil {
		t.Fatalf("Load() err=nil, want invalid option error")
	}
}
