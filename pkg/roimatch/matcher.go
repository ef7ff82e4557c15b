// Package roimatch resolves user supplied ROI name patterns against the ROI
// names present in a structure set or segmentation.
package roimatch

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrROIMatching is returned when no pattern matched any ROI and the missing
// policy is Error.
var ErrROIMatching = errors.New("no ROI matched the requested patterns")

// Strategy decides how several matches for one key are emitted.
type Strategy int

const (
	// Merge collapses every match of a key into one entry.
	Merge Strategy = iota
	// KeepFirst keeps only the first match of a key.
	KeepFirst
	// Separate emits one entry per matched ROI.
	Separate
)

// ParseStrategy converts "merge", "keep_first" or "separate".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "merge":
		return Merge, nil
	case "keep_first", "keepfirst", "first":
		return KeepFirst, nil
	case "separate":
		return Separate, nil
	}
	return Merge, fmt.Errorf("unknown ROI handling strategy %q", s)
}

func (s Strategy) String() string {
	switch s {
	case KeepFirst:
		return "keep_first"
	case Separate:
		return "separate"
	}
	return "merge"
}

// MissingPolicy decides what happens when nothing matched.
type MissingPolicy int

const (
	// Ignore returns an empty result silently.
	Ignore MissingPolicy = iota
	// Warn logs and returns an empty result.
	Warn
	// Error fails with ErrROIMatching.
	Error
)

// ParseMissingPolicy converts "ignore", "warn" or "error".
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore":
		return Ignore, nil
	case "", "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	}
	return Warn, fmt.Errorf("unknown missing-regex policy %q", s)
}

func (p MissingPolicy) String() string {
	switch p {
	case Ignore:
		return "ignore"
	case Error:
		return "error"
	}
	return "warn"
}

// Options configures a Matcher.
type Options struct {
	IgnoreCase           bool
	Strategy             Strategy
	AllowMultiKeyMatches bool
	OnMissing            MissingPolicy
	Logger               *slog.Logger
}

// Match is one output entry: a key and the ROI names that feed it.
type Match struct {
	Key   string
	Names []string

	// Separated is set when the entry came from the Separate strategy.
	Separated bool
}

// OutputKey is the identifier of the entry in written outputs. Separated
// entries render as "key__[roi]".
func (m Match) OutputKey() string {
	if m.Separated && len(m.Names) == 1 {
		return fmt.Sprintf("%s__[%s]", m.Key, m.Names[0])
	}
	return m.Key
}

// MatchingError carries the inputs of a failed match for diagnostics.
type MatchingError struct {
	Available []string
	MatchMap  MatchMap
}

func (e *MatchingError) Error() string {
	return fmt.Sprintf("%v: available ROIs %q, match map %s", ErrROIMatching, e.Available, e.MatchMap)
}

func (e *MatchingError) Unwrap() error { return ErrROIMatching }

// Matcher applies a MatchMap to ROI name lists. It is immutable after New
// and safe for concurrent use.
type Matcher struct {
	matchMap MatchMap
	patterns [][]*regexp.Regexp
	opts     Options
}

// New compiles every pattern of mm. Patterns must match a whole ROI name.
func New(mm MatchMap, opts Options) (*Matcher, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Matcher{matchMap: mm.Clone(), opts: opts}
	for _, kp := range m.matchMap {
		var compiled []*regexp.Regexp
		for _, p := range kp.Patterns {
			expr := "^(?:" + p + ")$"
			if opts.IgnoreCase {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q for key %q: %w", p, kp.Key, err)
			}
			compiled = append(compiled, re)
		}
		m.patterns = append(m.patterns, compiled)
	}
	return m, nil
}

// MatchMap returns a copy of the configured match map.
func (m *Matcher) MatchMap() MatchMap { return m.matchMap.Clone() }

// Options returns the matcher options.
func (m *Matcher) Options() Options { return m.opts }

// Match resolves the match map against roiNames.
//
// Keys are visited in match map order; for each key patterns are tried in
// order and ROI names in the given order. Unless AllowMultiKeyMatches is
// set, an ROI emitted for one key is not offered to later keys.
func (m *Matcher) Match(roiNames []string) ([]Match, error) {
	consumed := make(map[string]bool)
	var out []Match

	for i, kp := range m.matchMap {
		var hits []string
		hit := make(map[string]bool)
		for _, re := range m.patterns[i] {
			for _, name := range roiNames {
				if hit[name] || (!m.opts.AllowMultiKeyMatches && consumed[name]) {
					continue
				}
				if re.MatchString(name) {
					hit[name] = true
					hits = append(hits, name)
				}
			}
		}
		if len(hits) == 0 {
			continue
		}

		var emitted []Match
		switch m.opts.Strategy {
		case KeepFirst:
			emitted = []Match{{Key: kp.Key, Names: hits[:1:1]}}
		case Separate:
			for _, name := range hits {
				emitted = append(emitted, Match{Key: kp.Key, Names: []string{name}, Separated: true})
			}
		default:
			emitted = []Match{{Key: kp.Key, Names: hits}}
		}

		for _, e := range emitted {
			for _, name := range e.Names {
				consumed[name] = true
			}
		}
		out = append(out, emitted...)
	}

	if len(out) > 0 {
		return out, nil
	}

	switch m.opts.OnMissing {
	case Error:
		return nil, &MatchingError{Available: append([]string(nil), roiNames...), MatchMap: m.matchMap.Clone()}
	case Warn:
		m.opts.Logger.Warn("no ROI matched the requested patterns",
			"available", roiNames,
			"match_map", m.matchMap.String(),
		)
	}
	return nil, nil
}
