package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Severity of a configuration issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one configuration problem. Path names the offending option.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var knownDrivers = map[string]bool{"sqlite": true, "postgres": true, "mssql": true, "mysql": true}

// Validate checks c and returns all issues found. Any SeverityError issue
// makes the configuration unusable; warnings are informational.
func Validate(c Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if !knownDrivers[c.Driver] {
		add(SeverityError, "driver", "unknown driver %q", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		add(SeverityError, "dsn", "must not be empty")
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		add(SeverityError, "cache-dir", "must not be empty")
	}

	if strings.Count(c.IndexURL, "%d") != 1 {
		add(SeverityError, "index-url", "must contain exactly one %%d for the year")
	} else if u, err := url.Parse(fmt.Sprintf(c.IndexURL, 2000)); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		add(SeverityError, "index-url", "must be an http(s) URL")
	}
	if strings.TrimSpace(c.ResultsSelector) == "" {
		add(SeverityError, "results-selector", "must not be empty")
	}

	if c.Delay < 0 {
		add(SeverityError, "delay", "must not be negative")
	} else if c.Delay == 0 {
		add(SeverityWarning, "delay", "zero courtesy delay between downloads")
	}
	if c.Timeout <= 0 {
		add(SeverityError, "timeout", "must be positive")
	}
	if c.SampleRows <= 0 {
		add(SeverityError, "sample-rows", "must be positive")
	}
	if c.DuplicateExhaustiveMax <= 0 {
		add(SeverityError, "duplicate-exhaustive-max", "must be positive")
	}

	switch c.MetricsBackend {
	case "", "none", "datadog":
	default:
		add(SeverityWarning, "metrics-backend", "unknown backend %q; metrics disabled", c.MetricsBackend)
	}
	if c.ReadOnly && c.Driver != "sqlite" {
		add(SeverityWarning, "read-only", "only enforced by the sqlite driver")
	}
	return out
}

// HasErrors reports whether issues contain at least one SeverityError.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
