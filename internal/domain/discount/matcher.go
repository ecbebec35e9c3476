package discount

import (
	"cmp"
	"slices"
	"time"
)

// Matcher selects the rules of a snapshot that are eligible for an order.
type Matcher struct {
	rules         []Rule
	now           func() time.Time
	minCodeLength int
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithClock overrides the clock used when the context carries no instant.
func WithClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) { m.now = now }
}

// WithMinCodeLength rejects coupon rules with codes shorter than n.
func WithMinCodeLength(n int) MatcherOption {
	return func(m *Matcher) { m.minCodeLength = n }
}

// NewMatcher returns a Matcher over a copy of the rule snapshot, ordered by
// creation time and then ID.
func NewMatcher(rules []Rule, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		rules: slices.Clone(rules),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	slices.SortStableFunc(m.rules, func(a, b Rule) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return m
}

// GetMatching returns every eligible rule in creation order. Misconfigured
// rules are never returned; when any are present the error is an
// *InvalidRulesError and the valid matches are still returned.
func (m *Matcher) GetMatching(o Order, rc Context) ([]*Rule, error) {
	now := evaluationTime(rc, m.now)

	var (
		matched []*Rule
		invalid []*ConfigError
	)
	for i := range m.rules {
		r := &m.rules[i]
		if cerr := r.configError(m.minCodeLength); cerr != nil {
			invalid = append(invalid, cerr)
			continue
		}
		if r.eligible(o, rc, now) != nil {
			continue
		}
		matched = append(matched, r)
	}
	if len(invalid) > 0 {
		return matched, &InvalidRulesError{Errs: invalid}
	}
	return matched, nil
}
