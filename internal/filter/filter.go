// Package filter compiles line/destination wildcard patterns and decides
// whether a departure is relevant for a board.
package filter

import (
	"regexp"
	"strings"

	"departureboard/internal/domain"
)

// Matcher is a compiled wildcard pattern. The zero value matches only the
// empty string.
type Matcher struct {
	re *regexp.Regexp
}

// Compile turns a pattern where '*' stands for any (possibly empty)
// sequence into an anchored, case-insensitive matcher. Every other
// character is matched literally, so compilation cannot fail.
func Compile(pattern string) Matcher {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return Matcher{re: regexp.MustCompile("(?is)^" + strings.Join(parts, ".*") + "$")}
}

func (m Matcher) Match(value string) bool {
	if m.re == nil {
		return value == ""
	}
	return m.re.MatchString(value)
}

// Pattern is a compiled LineDest filter
type Pattern struct {
	Source      domain.LineDest
	line        Matcher
	destination Matcher
}

func CompileLineDest(f domain.LineDest) Pattern {
	return Pattern{
		Source:      f,
		line:        Compile(f.Line),
		destination: Compile(f.Destination),
	}
}

// Match reports whether both the line and the destination pattern match
func (p Pattern) Match(ld domain.LineDest) bool {
	return p.line.Match(ld.Line) && p.destination.Match(ld.Destination)
}

// Test compiles f and matches it against ld. Use a Set when the same
// filters are applied to many departures.
func Test(ld domain.LineDest, f domain.LineDest) bool {
	return CompileLineDest(f).Match(ld)
}
