package domain

import (
	"strings"
	"time"
)

// LineDest identifies a route/destination pair. When used as a filter both
// fields are wildcard patterns.
type LineDest struct {
	Line        string `json:"line" yaml:"line" validate:"required"`
	Destination string `json:"destination" yaml:"destination" validate:"required"`
}

func (ld LineDest) String() string {
	return ld.Line + ":" + ld.Destination
}

// Departure is a single scheduled vehicle at the configured stop
type Departure struct {
	LineDest
	Time time.Time `json:"time"`
}

// DepartureKey is the identity of a departure. Two departures with equal
// keys are the same occurrence.
type DepartureKey struct {
	UnixMilli   int64
	Line        string
	Destination string
}

func (d Departure) Key() DepartureKey {
	return DepartureKey{
		UnixMilli:   d.Time.UnixMilli(),
		Line:        d.Line,
		Destination: d.Destination,
	}
}

// FeedEntry is one raw row returned by the upstream departure feed
type FeedEntry struct {
	Cancelled     bool
	Time          time.Time
	Line          string
	Destination   string
	TransportType string
}

func (e FeedEntry) Departure() Departure {
	return Departure{
		LineDest: LineDest{Line: e.Line, Destination: e.Destination},
		Time:     e.Time,
	}
}

// StopConfig selects the polled stop and the subset of departures that
// counts towards MinCount.
type StopConfig struct {
	StopID   string     `json:"stopId" yaml:"stop" validate:"required"`
	Include  []LineDest `json:"include,omitempty" yaml:"include" validate:"dive"`
	Exclude  []LineDest `json:"exclude,omitempty" yaml:"exclude" validate:"dive"`
	MinCount int        `json:"minCount" yaml:"amount" validate:"gte=0,lte=100"`
}

// View is a reader-side narrowing of the cached departures
type View struct {
	Include []LineDest
	Exclude []LineDest
	Limit   int
}

// Snapshot is the cached state for the active stop. Snapshots are replaced
// as a whole and never modified after publication.
type Snapshot struct {
	StopID          string      `json:"stopId"`
	Departures      []Departure `json:"departures"`
	LastError       error       `json:"-"`
	LastRefreshedAt time.Time   `json:"lastRefreshedAt"`
	Refreshing      bool        `json:"refreshing"`
}

// ParseLineDests decodes "line:dest;line:dest". Missing fields become "*".
func ParseLineDests(s string) []LineDest {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	parts := strings.Split(s, ";")
	result := make([]LineDest, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		line, dest, _ := strings.Cut(p, ":")
		result = append(result, LineDest{
			Line:        orWildcard(strings.TrimSpace(line)),
			Destination: orWildcard(strings.TrimSpace(dest)),
		})
	}
	return result
}

// FormatLineDests is the inverse of ParseLineDests
func FormatLineDests(lds []LineDest) string {
	parts := make([]string, 0, len(lds))
	for _, ld := range lds {
		parts = append(parts, ld.String())
	}
	return strings.Join(parts, ";")
}

func orWildcard(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
