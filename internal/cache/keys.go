package cache

import (
	"fmt"
	"strings"
)

func KeyDepartures(stopID string) string {
	return fmt.Sprintf("departures:%s", stopID)
}

func KeyStopLines(stopID string) string {
	return fmt.Sprintf("lines:%s", stopID)
}

// KeyStopTimetableLines holds the scraped timetable lines, which depend on
// the station name used to resolve the stop.
func KeyStopTimetableLines(stopID, stationName string) string {
	return fmt.Sprintf("lines:%s:timetable:%s", stopID, strings.ToLower(strings.TrimSpace(stationName)))
}

// KeyStations normalizes the query so that "Marienplatz " and
// "marienplatz" share an entry.
func KeyStations(query string) string {
	return fmt.Sprintf("stations:%s", strings.ToLower(strings.TrimSpace(query)))
}
