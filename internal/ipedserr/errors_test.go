package ipedserr_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ipeds/internal/ipedserr"
)

func TestIs(t *testing.T) {
	t.Parallel()

	dl := ipedserr.Wrap(context.DeadlineExceeded, ipedserr.CodeDownload, "GET hd2023.zip")
	lock := ipedserr.New(ipedserr.CodeWriteLock, "database is locked")

	tests := []struct {
		name string
		err  error
		code ipedserr.Code
		want bool
	}{
		{"direct match", lock, ipedserr.CodeWriteLock, true},
		{"other code", lock, ipedserr.CodeDownload, false},
		{"wrapped with cause", dl, ipedserr.CodeDownload, true},
		{"fmt wrapped", fmt.Errorf("year 2023: %w", dl), ipedserr.CodeDownload, true},
		{"plain error", errors.New("boom"), ipedserr.CodeDownload, false},
		{"nil", nil, ipedserr.CodeDownload, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ipedserr.Is(tt.err, tt.code); got != tt.want {
				t.Fatalf("Is(%v, %s)=%v, want %v", tt.err, tt.code, got, tt.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	err := ipedserr.Wrap(context.DeadlineExceeded, ipedserr.CodeDownload, "GET x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cause lost: %v", err)
	}
	if got, want := err.Error(), "GET x: context deadline exceeded"; got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}
	if ipedserr.Wrap(nil, ipedserr.CodeDownload, "x") != nil {
		t.Fatalf("Wrap(nil) must be nil")
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	if got := ipedserr.CodeOf(ipedserr.Newf(ipedserr.CodeRemoteFetch, "status %d", 503)); got != ipedserr.CodeRemoteFetch {
		t.Fatalf("CodeOf=%s", got)
	}
	if got := ipedserr.CodeOf(errors.New("x")); got != ipedserr.CodeUncoded {
		t.Fatalf("CodeOf(plain)=%s", got)
	}
}
