package scraper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseTitle(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"title tag", `<html><head><title> Cheap Flights to Bengaluru </title></head></html>`, "Cheap Flights to Bengaluru"},
		{"og title fallback", `<html><head><meta property="og:title" content="Expedia Deals"></head></html>`, "Expedia Deals"},
		{"h1 fallback", `<html><body><h1>Google Flights</h1></body></html>`, "Google Flights"},
		{"nothing", `<html><body><p>hi</p></body></html>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTitle(strings.NewReader(tt.html))
			if err != nil {
				t.Fatalf("parseTitle() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("User-Agent"), "Mozilla") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if _, err := io.WriteString(w, `<html><head><title>Flight Deals</title></head></html>`); err != nil {
			t.Errorf("write body: %v", err)
		}
	}))
	defer srv.Close()

	s := New(srv.Client(), testLogger())
	page, err := s.Scrape(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if page.SiteTitle != "Flight Deals" || page.Status != "Success" {
		t.Errorf("Scrape() = %+v", page)
	}
}

func TestScrapeForbiddenNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := New(srv.Client(), testLogger())
	_, err := s.Scrape(context.Background(), srv.URL)
	if !IsHTTP403Error(err) {
		t.Errorf("Scrape() error = %v, want HTTP403Error", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestValidateURL(t *testing.T) {
	for _, u := range []string{"https://www.expedia.com/Flights", "http://localhost:8080/x"} {
		if err := ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) error = %v", u, err)
		}
	}
	for _, u := range []string{"", "file:///etc/passwd", "expedia.com", "ftp://host/x"} {
		if err := ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%q) expected error", u)
		}
	}
}

func TestScrapeDefaultClientRefusesLoopback(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if _, err := io.WriteString(w, `<html><head><title>Internal</title></head></html>`); err != nil {
			t.Errorf("write body: %v", err)
		}
	}))
	defer srv.Close()

	s := New(nil, testLogger())
	page, err := s.Scrape(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("Scrape() = %+v, want error", page)
	}
	if !IsBlockedAddressError(err) {
		t.Errorf("Scrape() error = %v, want BlockedAddressError", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times, want 0", calls.Load())
	}
}

func TestPublicAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"93.184.216.34", true},
		{"2606:2800:220:1:248:1893:25c8:1946", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"10.0.0.5", false},
		{"172.16.3.4", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"fe80::1", false},
		{"fc00::1", false},
		{"0.0.0.0", false},
		{"::", false},
		{"224.0.0.1", false},
		{"::ffff:127.0.0.1", false},
		{"::ffff:10.1.2.3", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := publicAddr(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Errorf("publicAddr(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestCheckDial(t *testing.T) {
	if err := checkDial("tcp4", "93.184.216.34:443", nil); err != nil {
		t.Errorf("checkDial(public) error = %v", err)
	}
	if err := checkDial("tcp4", "127.0.0.1:8080", nil); !IsBlockedAddressError(err) {
		t.Errorf("checkDial(loopback) error = %v, want BlockedAddressError", err)
	}
	if err := checkDial("tcp6", "[fd00::2]:80", nil); !IsBlockedAddressError(err) {
		t.Errorf("checkDial(ula) error = %v, want BlockedAddressError", err)
	}
}
