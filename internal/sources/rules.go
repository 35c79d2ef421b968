package sources

import (
	"fmt"
	"regexp"
)

// Rules decides whether a candidate location is visited. A location passes
// when at least one follow pattern matches it and no ignore pattern does.
// With no follow patterns every location passes the follow check.
type Rules struct {
	follow []*regexp.Regexp
	ignore []*regexp.Regexp
}

// CompileRules compiles follow and ignore regular expressions. A malformed
// pattern is a fatal configuration error.
func CompileRules(follow, ignore []string) (*Rules, error) {
	rules := &Rules{}
	for _, pattern := range follow {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid follow pattern %q: %w", pattern, err)
		}
		rules.follow = append(rules.follow, re)
	}
	for _, pattern := range ignore {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		rules.ignore = append(rules.ignore, re)
	}
	return rules, nil
}

// Allows reports whether the location should be visited.
func (r *Rules) Allows(location string) bool {
	if len(r.follow) > 0 {
		matched := false
		for _, re := range r.follow {
			if re.MatchString(location) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, re := range r.ignore {
		if re.MatchString(location) {
			return false
		}
	}
	return true
}
