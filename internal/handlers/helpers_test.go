package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestReadLimitedBody(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ok": true}`))
		data, err := readLimitedBody(req, 64)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(data) != `{"ok": true}` {
			t.Fatalf("unexpected body %q", data)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("   \n"))
		if _, err := readLimitedBody(req, 64); !errors.Is(err, errEmptyBody) {
			t.Fatalf("expected errEmptyBody got %v", err)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 65)))
		if _, err := readLimitedBody(req, 64); !errors.Is(err, errBodyTooLarge) {
			t.Fatalf("expected errBodyTooLarge got %v", err)
		}
	})
}

func TestParsePageSize(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{"empty uses fallback", "", 20, false},
		{"explicit value", "5", 5, false},
		{"zero uses fallback", "0", 20, false},
		{"negative uses fallback", "-3", 20, false},
		{"clamped to max", "500", 100, false},
		{"not an integer", "lots", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parsePageSize(tc.raw, 20, 100)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d got %d", tc.want, got)
			}
		})
	}
}

func TestParseFilterValues(t *testing.T) {
	got := parseFilterValues([]string{"Paid,shipped", "", " paid ", "DELIVERED"})
	want := []string{"paid", "shipped", "delivered"}
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v got %v", want, got)
		}
	}
	if parseFilterValues(nil) != nil {
		t.Fatal("expected nil for no values")
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(time.Time{}); got != "" {
		t.Fatalf("zero time must render empty, got %q", got)
	}
	ts := time.Date(2025, 7, 1, 12, 0, 0, 500000000, time.FixedZone("EEST", 3*3600))
	if got := formatTime(ts); got != "2025-07-01T09:00:00.5Z" {
		t.Fatalf("unexpected format %q", got)
	}
}
