// Package mvv scrapes the line selection of the MVV EFA departure monitor.
// It knows about every line serving a stop, including ones that do not
// depart in the near future.
package mvv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"departureboard/internal/domain"
	"departureboard/internal/logging"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
)

const DefaultBaseURL = "https://efa.mvv-muenchen.de"

// ErrStationNotFound is returned when the stop finder does not know the
// requested global stop id.
var ErrStationNotFound = errors.New("station not found in stop finder")

type Scraper struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

func New(baseURL string, logger *slog.Logger) *Scraper {
	return &Scraper{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		logger: logger.With("component", "mvv_scraper"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

// DepartingLines resolves stopID through the stop finder using stationName
// and returns every line/destination offered by the line selection.
func (s *Scraper) DepartingLines(ctx context.Context, stopID, stationName string) ([]domain.LineDest, error) {
	b := backoff.WithContext(s.newBackOff(), ctx)

	return backoff.RetryNotifyWithData(
		func() ([]domain.LineDest, error) {
			efaID, err := s.resolve(ctx, stopID, stationName)
			if err != nil {
				return nil, err
			}
			return s.lineSelection(ctx, efaID)
		},
		b,
		func(err error, d time.Duration) {
			s.logger.Warn("mvv request failed, retrying",
				"stop_id", stopID,
				"backoff", d,
				"error", err,
			)
		},
	)
}

type stopFinderResponse struct {
	StopFinder struct {
		Points json.RawMessage `json:"points"`
	} `json:"stopFinder"`
}

type stopFinderPoint struct {
	Ref struct {
		ID  string `json:"id"`
		GID string `json:"gid"`
	} `json:"ref"`
}

func (s *Scraper) resolve(ctx context.Context, stopID, stationName string) (string, error) {
	params := url.Values{}
	params.Set("macro_sf", "mvv")
	params.Set("type_sf", "any")
	params.Set("name_sf", stationName)
	params.Set("outputFormat", "JSON")

	body, err := s.get(ctx, "/ng/XML_STOPFINDER_REQUEST", params)
	if err != nil {
		return "", err
	}
	defer logging.SafeClose(body, s.logger, "stopfinder_body")

	var resp stopFinderResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decoding stop finder response: %w", err))
	}

	points, err := decodePoints(resp.StopFinder.Points)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	for _, p := range points {
		if p.Ref.GID == stopID && p.Ref.ID != "" {
			return p.Ref.ID, nil
		}
	}
	return "", backoff.Permanent(fmt.Errorf("%s (%q): %w", stopID, stationName, ErrStationNotFound))
}

// decodePoints accepts both the list form and the single {"point": {...}}
// form the stop finder uses for unambiguous names.
func decodePoints(raw json.RawMessage) ([]stopFinderPoint, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []stopFinderPoint
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var single struct {
		Point stopFinderPoint `json:"point"`
	}
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("decoding stop finder points: %w", err)
	}
	return []stopFinderPoint{single.Point}, nil
}

func (s *Scraper) lineSelection(ctx context.Context, efaID string) ([]domain.LineDest, error) {
	params := url.Values{}
	params.Set("type_dm", "any")
	params.Set("name_dm", efaID)
	params.Set("zope_command", "enquiry:select_lines")

	body, err := s.get(ctx, "/xhr_departures", params)
	if err != nil {
		return nil, err
	}
	defer logging.SafeClose(body, s.logger, "line_selection_body")

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parsing line selection: %w", err))
	}
	return ScrapeLineSelection(doc.Selection), nil
}

// ScrapeLineSelection extracts line/destination pairs from the
// ".line_sel_list" labels. The destination is the label text without the
// text of its child elements.
func ScrapeLineSelection(doc *goquery.Selection) []domain.LineDest {
	var result []domain.LineDest
	doc.Find(".line_sel_list label").Each(func(_ int, label *goquery.Selection) {
		line := strings.TrimSpace(label.Find(".line").Text())
		destination := strings.TrimSpace(label.Clone().Children().Remove().End().Text())
		if line == "" || destination == "" {
			return
		}
		result = append(result, domain.LineDest{Line: line, Destination: destination})
	})
	return result
}

func (s *Scraper) get(ctx context.Context, path string, params url.Values) (io.ReadCloser, error) {
	reqURL := fmt.Sprintf("%s%s?%s", s.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.SafeClose(resp.Body, s.logger, "error_body")
		err := fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, path)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return resp.Body, nil
}
