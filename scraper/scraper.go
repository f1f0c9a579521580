// Package scraper fetches a web page and extracts its title.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// PageTimeout bounds a single page load.
const PageTimeout = 60 * time.Second

// Page is the summary returned for a scraped URL.
type Page struct {
	SiteTitle string `json:"site_title"`
	Status    string `json:"status"`
}

// HTTP403Error indicates a 403 Forbidden response.
type HTTP403Error struct {
	URL string
}

func (e *HTTP403Error) Error() string {
	return fmt.Sprintf("HTTP 403 Forbidden: %s", e.URL)
}

// IsHTTP403Error checks if an error is an HTTP 403 error.
func IsHTTP403Error(err error) bool {
	var forbidden *HTTP403Error
	return errors.As(err, &forbidden)
}

// BlockedAddressError indicates a dial to a loopback, private or otherwise
// non-public address.
type BlockedAddressError struct {
	Addr string
}

func (e *BlockedAddressError) Error() string {
	return fmt.Sprintf("blocked non-public address: %s", e.Addr)
}

// IsBlockedAddressError checks if an error is a BlockedAddressError.
func IsBlockedAddressError(err error) bool {
	var blocked *BlockedAddressError
	return errors.As(err, &blocked)
}

// publicAddr reports whether ip is routable on the public internet.
func publicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsValid() &&
		!ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsUnspecified() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsMulticast()
}

// checkDial runs after DNS resolution, so every redirect hop and every
// resolved address is checked.
func checkDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("split dial address: %w", err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("parse dial address: %w", err)
	}
	if !publicAddr(ip) {
		return &BlockedAddressError{Addr: address}
	}
	return nil
}

// publicClient only connects to public addresses.
func publicClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   checkDial,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: PageTimeout, Transport: transport}
}

// Scraper fetches pages.
type Scraper struct {
	client   *http.Client
	logger   *slog.Logger
	attempts uint
}

// New creates a new scraper. A nil client gets a PageTimeout client that
// refuses to connect to non-public addresses.
func New(client *http.Client, logger *slog.Logger) *Scraper {
	if client == nil {
		client = publicClient()
	}
	return &Scraper{
		client:   client,
		logger:   logger,
		attempts: 3,
	}
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("unsupported url %q", raw)
	}
	return nil
}

// Scrape loads pageURL and returns its title.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (*Page, error) {
	if err := ValidateURL(pageURL); err != nil {
		return nil, err
	}

	var page *Page
	err := retry.Do(
		func() error {
			s.logger.Info("HTTP request starting",
				"method", "GET",
				"url", pageURL,
				"purpose", "scrape_page")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusForbidden {
				return &HTTP403Error{URL: pageURL}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			title, err := parseTitle(resp.Body)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			page = &Page{SiteTitle: title, Status: "Success"}
			return nil
		},
		retry.Attempts(s.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying scrape after error", "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsHTTP403Error(err) && !IsBlockedAddressError(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return page, nil
}

func parseTitle(body io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return title, nil
}
