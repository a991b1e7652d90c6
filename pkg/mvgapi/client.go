// Package mvgapi is a client for the MVG bgw-pt v3 departure and location API.
package mvgapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"departureboard/internal/domain"
	"departureboard/internal/logging"
)

const DefaultBaseURL = "https://www.mvg.de/api/bgw-pt/v3"

var DefaultTransportTypes = []string{"UBAHN", "REGIONAL_BUS", "BUS", "TRAM", "SBAHN", "BAHN"}

// labelRewrites shortens labels that do not fit on a board
var labelRewrites = map[string]string{
	"LUFTHANSA EXPRESS BUS": "LH",
}

// StatusError is returned when the API answers with a non-200 status
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

type Client struct {
	baseURL        string
	transportTypes string
	httpClient     *http.Client
	logger         *slog.Logger
}

func New(baseURL string, transportTypes []string, logger *slog.Logger) *Client {
	if len(transportTypes) == 0 {
		transportTypes = DefaultTransportTypes
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		transportTypes: strings.Join(transportTypes, ","),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With("component", "mvg_client"),
	}
}

type apiDeparture struct {
	PlannedDepartureTime  int64  `json:"plannedDepartureTime"`
	RealtimeDepartureTime int64  `json:"realtimeDepartureTime"`
	Realtime              bool   `json:"realtime"`
	DelayInMinutes        int    `json:"delayInMinutes"`
	TransportType         string `json:"transportType"`
	Label                 string `json:"label"`
	Destination           string `json:"destination"`
	Cancelled             bool   `json:"cancelled"`
}

type apiLocation struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Place    string `json:"place"`
	GlobalID string `json:"globalId"`
}

// Departures fetches one page of departures for stopID starting
// offsetMinutes from now.
func (c *Client) Departures(ctx context.Context, stopID string, offsetMinutes int) ([]domain.FeedEntry, error) {
	params := url.Values{}
	params.Set("globalId", stopID)
	params.Set("offsetInMinutes", strconv.Itoa(offsetMinutes))
	params.Set("transportTypes", c.transportTypes)

	var apiDeps []apiDeparture
	if err := c.get(ctx, "/departures", params, &apiDeps); err != nil {
		return nil, err
	}

	return toFeedEntries(apiDeps), nil
}

// DepartingLines returns the distinct line/destination pairs among the next
// 80 departures of stopID, in feed order.
func (c *Client) DepartingLines(ctx context.Context, stopID string) ([]domain.LineDest, error) {
	params := url.Values{}
	params.Set("globalId", stopID)
	params.Set("transportTypes", c.transportTypes)
	params.Set("limit", "80")

	var apiDeps []apiDeparture
	if err := c.get(ctx, "/departures", params, &apiDeps); err != nil {
		return nil, err
	}

	seen := make(map[domain.LineDest]struct{})
	var result []domain.LineDest
	for _, d := range apiDeps {
		ld := domain.LineDest{Line: rewriteLabel(d.Label), Destination: d.Destination}
		if _, ok := seen[ld]; ok {
			continue
		}
		seen[ld] = struct{}{}
		result = append(result, ld)
	}
	return result, nil
}

// Stations searches stations by name
func (c *Client) Stations(ctx context.Context, query string) ([]domain.Station, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("locationTypes", "STATION")

	var locations []apiLocation
	if err := c.get(ctx, "/locations", params, &locations); err != nil {
		return nil, err
	}

	result := make([]domain.Station, 0, len(locations))
	for _, l := range locations {
		if l.GlobalID == "" {
			continue
		}
		result = append(result, domain.Station{ID: l.GlobalID, Name: l.Name, Place: l.Place})
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest any) error {
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer logging.SafeClose(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, URL: c.baseURL + path}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	c.logger.Debug("api request",
		"path", path,
		"params", params.Encode(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func toFeedEntries(apiDeps []apiDeparture) []domain.FeedEntry {
	result := make([]domain.FeedEntry, 0, len(apiDeps))
	for _, d := range apiDeps {
		ts := d.RealtimeDepartureTime
		if ts == 0 {
			ts = d.PlannedDepartureTime
		}
		result = append(result, domain.FeedEntry{
			Cancelled:     d.Cancelled,
			Time:          time.UnixMilli(ts),
			Line:          rewriteLabel(d.Label),
			Destination:   d.Destination,
			TransportType: d.TransportType,
		})
	}
	return result
}

func rewriteLabel(label string) string {
	if short, ok := labelRewrites[label]; ok {
		return short
	}
	return label
}
