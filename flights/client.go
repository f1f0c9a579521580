// Package flights calls the flight-search provider and normalizes its responses.
package flights

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"flight-hunter/pkg/hunter"
)

const (
	// DefaultBaseURL is the RapidAPI gateway for the fly-scraper provider.
	DefaultBaseURL = "https://fly-scraper.p.rapidapi.com"
	// DefaultHost is sent as X-RapidAPI-Host.
	DefaultHost = "fly-scraper.p.rapidapi.com"

	searchPath     = "/v2/flights/search-roundtrip"
	defaultTimeout = 30 * time.Second

	// NoFlightsMessage is the failure reported when the provider succeeds with zero itineraries.
	NoFlightsMessage = "API Success but 0 flights found."
)

// Client performs round-trip searches against the provider.
type Client struct {
	client  *http.Client
	logger  *slog.Logger
	apiKey  string
	host    string
	baseURL string
}

// Config holds client configuration.
type Config struct {
	HTTPClient *http.Client // Optional; a client with a 30s timeout is used when nil
	Logger     *slog.Logger
	APIKey     string
	Host       string
	BaseURL    string
}

// New creates a new provider client.
func New(cfg *Config) *Client {
	c := &Client{
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
		apiKey:  cfg.APIKey,
		host:    cfg.Host,
		baseURL: cfg.BaseURL,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: defaultTimeout}
	}
	if c.host == "" {
		c.host = DefaultHost
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	return c
}

// searchResponse mirrors the subset of the provider payload we read.
type searchResponse struct {
	Data struct {
		Itineraries []itinerary `json:"itineraries"`
	} `json:"data"`
}

type itinerary struct {
	Price struct {
		Formatted string   `json:"formatted"`
		Raw       *float64 `json:"raw"`
	} `json:"price"`
	Legs []struct {
		Carriers struct {
			Marketing []struct {
				Name string `json:"name"`
			} `json:"marketing"`
		} `json:"carriers"`
	} `json:"legs"`
}

// Search makes a single request and returns the first itinerary or a Failure.
// It never retries; the next poll cycle is the retry.
func (c *Client) Search(ctx context.Context, q hunter.QueryParams) hunter.FlightResult {
	result, err := c.search(ctx, q)
	if err != nil {
		c.logger.Warn("Flight search failed", "origin", q.OriginSkyID, "destination", q.DestinationSkyID, "error", err)
		return hunter.Failure{Message: "Internal Error: " + err.Error()}
	}
	return result
}

func (c *Client) search(ctx context.Context, q hunter.QueryParams) (hunter.FlightResult, error) {
	params := url.Values{}
	for k, v := range q.Values() {
		params.Set(k, v)
	}
	reqURL := c.baseURL + searchPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.host)

	c.logger.Info("Flight API request starting",
		"method", "GET",
		"endpoint", searchPath,
		"origin", q.OriginSkyID,
		"destination", q.DestinationSkyID,
		"departure", q.DepartureDate,
		"return", q.ReturnDate)

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Info("Flight API request completed",
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", len(body))

	if resp.StatusCode != http.StatusOK {
		return hunter.Failure{Message: fmt.Sprintf("API %d: %s", resp.StatusCode, body)}, nil
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return firstDeal(parsed.Data.Itineraries), nil
}

// firstDeal trusts the provider's ranking and never re-sorts.
func firstDeal(itineraries []itinerary) hunter.FlightResult {
	if len(itineraries) == 0 {
		return hunter.Failure{Message: NoFlightsMessage}
	}
	best := itineraries[0]

	price := best.Price.Formatted
	if price == "" {
		raw := "None"
		if best.Price.Raw != nil {
			raw = strconv.FormatFloat(*best.Price.Raw, 'f', -1, 64)
		}
		price = "$" + raw
	}

	airline := "Unknown"
	if len(best.Legs) > 0 {
		if carriers := best.Legs[0].Carriers.Marketing; len(carriers) > 0 && carriers[0].Name != "" {
			airline = carriers[0].Name
		}
	}

	return hunter.Deal{Price: price, Airline: airline, Link: "N/A"}
}
