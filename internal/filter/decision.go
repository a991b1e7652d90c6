package filter

import "departureboard/internal/domain"

// Decision is the outcome of applying include/exclude filters to a departure
type Decision int

const (
	Reject Decision = iota
	Accept
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	default:
		return "reject"
	}
}

// Decide is the precedence table for filter lists:
//
//	excluded  hasInclude  included  -> decision
//	true      any         any       -> Reject
//	false     false       -         -> Accept
//	false     true        true      -> Accept
//	false     true        false     -> Reject
func Decide(excluded, hasInclude, included bool) Decision {
	switch {
	case excluded:
		return Reject
	case !hasInclude:
		return Accept
	case included:
		return Accept
	default:
		return Reject
	}
}

// Set holds compiled include and exclude lists
type Set struct {
	include []Pattern
	exclude []Pattern
}

func NewSet(include, exclude []domain.LineDest) *Set {
	s := &Set{
		include: make([]Pattern, 0, len(include)),
		exclude: make([]Pattern, 0, len(exclude)),
	}
	for _, f := range include {
		s.include = append(s.include, CompileLineDest(f))
	}
	for _, f := range exclude {
		s.exclude = append(s.exclude, CompileLineDest(f))
	}
	return s
}

func (s *Set) Decide(ld domain.LineDest) Decision {
	excluded := anyMatch(s.exclude, ld)
	hasInclude := len(s.include) > 0
	included := false
	if !excluded && hasInclude {
		included = anyMatch(s.include, ld)
	}
	return Decide(excluded, hasInclude, included)
}

func (s *Set) Accepts(ld domain.LineDest) bool {
	return s.Decide(ld) == Accept
}

func anyMatch(patterns []Pattern, ld domain.LineDest) bool {
	for _, p := range patterns {
		if p.Match(ld) {
			return true
		}
	}
	return false
}
