package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ipeds/internal/config"
	"ipeds/internal/storage"
	"ipeds/internal/table"
)

type env struct {
	dsn   string
	cache string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	return env{dsn: filepath.Join(dir, "ipeds.db"), cache: filepath.Join(dir, "raw")}
}

func (e env) run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	base := []string{"--dsn", e.dsn, "--cache-dir", e.cache, "--metrics-backend", "none"}
	var out, errb bytes.Buffer
	code = run(context.Background(), append(base, args...), &out, &errb)
	return out.String(), errb.String(), code
}

func (e env) seed(t *testing.T, tables ...*table.Table) {
	t.Helper()
	ctx := context.Background()
	s, err := storage.Open(ctx, storage.Config{Driver: "sqlite", DSN: e.dsn})
	if err != nil {
		t.Fatalf("storage.Open() err=%v", err)
	}
	defer s.Close()
	for _, tb := range tables {
		if _, err := s.ReplaceTable(ctx, tb); err != nil {
			t.Fatalf("seed %s: %v", tb.Name, err)
		}
	}
}

func hd2023() *table.Table {
	tb := table.New("hd2023",
		table.Column{Name: "UNITID", Type: table.TypeInteger},
		table.Column{Name: "YEAR", Type: table.TypeInteger},
		table.Column{Name: "INSTNM", Type: table.TypeText},
	)
	tb.Append(table.Int(100654), table.Int(2023), table.Text("Alabama A & M University"))
	tb.Append(table.Int(100663), table.Int(2023), table.Text("University of Alabama at Birmingham"))
	return tb
}

func TestStoreCommands(t *testing.T) {
	e := newEnv(t)
	e.seed(t, hd2023())

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"tables"}, "hd2023\n"},
		{[]string{"count", "hd2023"}, "2\n"},
		{[]string{"query", "--format", "csv", "SELECT UNITID, INSTNM FROM hd2023 ORDER BY UNITID"},
			"UNITID,INSTNM\n100654,Alabama A & M University\n100663,University of Alabama at Birmingham\n"},
	}
	for _, tt := range tests {
		out, errOut, code := e.run(t, tt.args...)
		if code != 0 {
			t.Fatalf("run(%v) code=%d stderr=%s", tt.args, code, errOut)
		}
		if diff := cmp.Diff(tt.want, out); diff != "" {
			t.Fatalf("run(%v) stdout (-want +got):\n%s", tt.args, diff)
		}
	}

	out, _, code := e.run(t, "schema", "hd2023")
	if code != 0 || !strings.Contains(out, "UNITID") || !strings.Contains(out, "INSTNM") {
		t.Fatalf("schema code=%d out=%q", code, out)
	}
}

func TestValidateCommand(t *testing.T) {
	e := newEnv(t)
	e.seed(t, hd2023())

	out, errOut, code := e.run(t, "validate", "--level", "basic", "--format", "json", "hd2023", "missing2023")
	if code != 0 {
		t.Fatalf("validate code=%d stderr=%s", code, errOut)
	}
	var rep struct {
		Level  string `json:"level"`
		Status string `json:"status"`
		Tables []struct {
			Table  string `json:"table"`
			Status string `json:"status"`
		} `json:"tables"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("json.Unmarshal() err=%v\n%s", err, out)
	}
	got := map[string]string{}
	for _, tb := range rep.Tables {
		got[tb.Table] = tb.Status
	}
	if diff := cmp.Diff(map[string]string{"hd2023": "pass", "missing2023": "fail"}, got); diff != "" {
		t.Fatalf("table statuses (-want +got):\n%s", diff)
	}

	if _, _, code := e.run(t, "validate", "--strict", "missing2023"); code != 1 {
		t.Fatalf("validate --strict code=%d, want 1", code)
	}
	if _, errOut, code := e.run(t, "validate", "--level", "exhaustive"); code != 1 || !strings.Contains(errOut, "unknown validation level") {
		t.Fatalf("validate bad level code=%d stderr=%q", code, errOut)
	}
}

func TestMaintainCommands(t *testing.T) {
	e := newEnv(t)
	legacy := hd2023()
	legacy.Name = "HD2023"
	e.seed(t, legacy)

	if out, errOut, code := e.run(t, "maintain", "lowercase"); code != 0 || out != "rename HD2023 -> hd2023\n" {
		t.Fatalf("lowercase code=%d out=%q stderr=%s", code, out, errOut)
	}
	if out, _, _ := e.run(t, "maintain", "lowercase"); out != "all tables are lowercase\n" {
		t.Fatalf("second lowercase out=%q", out)
	}
	if _, errOut, code := e.run(t, "maintain", "rename", "hd2023", "HD2023_OLD"); code != 0 {
		t.Fatalf("rename code=%d stderr=%s", code, errOut)
	}
	if out, _, _ := e.run(t, "tables"); out != "hd2023_old\n" {
		t.Fatalf("tables after rename=%q", out)
	}
	if _, _, code := e.run(t, "maintain", "drop", "hd2023_old"); code != 0 {
		t.Fatalf("drop code=%d", code)
	}
	if _, errOut, code := e.run(t, "maintain", "drop", "hd2023_old"); code != 1 || !strings.Contains(errOut, "no table") {
		t.Fatalf("second drop code=%d stderr=%q", code, errOut)
	}
}

func TestIngestCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list":
			fmt.Fprint(w, `<table id="contentPlaceHolder_tblResult">
<tr><td>2022</td><td>Institutional Characteristics</td><td>Directory information</td>
<td><a href="/files/hd2022.csv">HD2022</a></td></tr></table>`)
		case "/files/hd2022.csv":
			fmt.Fprint(w, "UNITID,INSTNM,CITY\n100654,Alabama A & M University,Normal\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newEnv(t)
	out, errOut, code := e.run(t,
		"--index-url", srv.URL+"/list?year=%d", "--delay", "0s", "--respect-robots=false",
		"ingest", "--consolidate", "2022")
	if code != 0 {
		t.Fatalf("ingest code=%d stderr=%s", code, errOut)
	}
	for _, want := range []string{"year 2022: 1 loaded, 0 skipped, 0 failed", "hd_all: 1 rows from 1 tables", "ic_all: skipped"} {
		if !strings.Contains(out, want) {
			t.Fatalf("ingest output missing %q:\n%s", want, out)
		}
	}
	if out, _, _ := e.run(t, "query", "--format", "csv", "SELECT UNITID, YEAR, CITY FROM hd_all"); out != "UNITID,YEAR,CITY\n100654,2022,Normal\n" {
		t.Fatalf("hd_all=%q", out)
	}
}

func TestIngestContinuesPastFailedListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/list" && r.URL.Query().Get("year") == "2022":
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		case r.URL.Path == "/list":
			fmt.Fprint(w, `<table id="contentPlaceHolder_tblResult">
<tr><td>2023</td><td>Institutional Characteristics</td><td>Directory information</td>
<td><a href="/files/hd2023.csv">HD2023</a></td></tr></table>`)
		case r.URL.Path == "/files/hd2023.csv":
			fmt.Fprint(w, "UNITID,INSTNM\n100654,Alabama A & M University\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newEnv(t)
	out, errOut, code := e.run(t,
		"--index-url", srv.URL+"/list?year=%d", "--delay", "0s", "--respect-robots=false",
		"ingest", "--json", "2022", "2023")
	if code != 1 || !strings.Contains(errOut, "1 year(s) aborted") {
		t.Fatalf("ingest code=%d stderr=%q, want one aborted year", code, errOut)
	}

	var sums []struct {
		Year   int    `json:"year"`
		Loaded int    `json:"loaded"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &sums); err != nil {
		t.Fatalf("decode summaries: %v\n%s", err, out)
	}
	if len(sums) != 2 {
		t.Fatalf("got %d summaries, want 2:\n%s", len(sums), out)
	}
	if sums[0].Year != 2022 || !strings.Contains(sums[0].Error, "status 503") {
		t.Fatalf("2022 summary=%+v, want listing error", sums[0])
	}
	if sums[1].Year != 2023 || sums[1].Loaded != 1 || sums[1].Error != "" {
		t.Fatalf("2023 summary=%+v, want 1 loaded", sums[1])
	}
	if out, _, _ := e.run(t, "tables"); !strings.Contains(out, "hd2023") {
		t.Fatalf("tables=%q, want hd2023", out)
	}
}

func TestMetricsBackendName(t *testing.T) {
	a := &app{cfg: config.Default()}
	t.Setenv("METRICS_BACKEND", "")
	if got := a.metricsBackendName(); got != "none" {
		t.Fatalf("default backend=%q, want none", got)
	}
	t.Setenv("METRICS_BACKEND", "datadog")
	if got := a.metricsBackendName(); got != "datadog" {
		t.Fatalf("env backend=%q, want datadog", got)
	}
	a.cfg.MetricsBackend = "none"
	if got := a.metricsBackendName(); got != "none" {
		t.Fatalf("flag backend=%q, want none", got)
	}
}

func TestInvalidConfig(t *testing.T) {
	e := newEnv(t)
	_, errOut, code := e.run(t, "--driver", "oracle", "tables")
	if code != 1 || !strings.Contains(errOut, "unknown driver") {
		t.Fatalf("code=%d stderr=%q, want config error", code, errOut)
	}
	if _, errOut, code := e.run(t, "ingest", "19"); code != 1 || !strings.Contains(errOut, "invalid year") {
		t.Fatalf("ingest bad year code=%d stderr=%q", code, errOut)
	}
}

func TestProbeCommand(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(t.TempDir(), "HD2023.csv")
	if err := os.WriteFile(path, []byte("UNITID,INSTNM,ZIP\n100654,A,35762\n100663,B,35294-0110\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}

	out, errOut, code := e.run(t, "probe", path)
	if code != 0 {
		t.Fatalf("probe code=%d stderr=%s", code, errOut)
	}
	for _, want := range []string{"table hd2023: 2 rows, 4 columns, year 2023", "UNITID", "integer", "ZIP", "text"} {
		if !strings.Contains(out, want) {
			t.Fatalf("probe output missing %q:\n%s", want, out)
		}
	}
}
