package filter

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const RegexpPrefix = "regexp:"

type ruleSet struct {
	prefixes []string
	regexes  []*regexp.Regexp
}

func compileRules(rules []string) (ruleSet, error) {
	var rs ruleSet
	seen := make(map[string]bool)
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true

		if pattern, ok := strings.CutPrefix(r, RegexpPrefix); ok {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return rs, fmt.Errorf("bad url rule %q: %w", r, err)
			}
			rs.regexes = append(rs.regexes, re)
			continue
		}
		rs.prefixes = append(rs.prefixes, r)
	}
	return rs, nil
}

func (rs ruleSet) empty() bool { return len(rs.prefixes) == 0 && len(rs.regexes) == 0 }

func (rs ruleSet) match(target string) bool {
	for _, p := range rs.prefixes {
		if strings.HasPrefix(target, p) {
			return true
		}
	}
	for _, re := range rs.regexes {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}

// URLMatcher decides whether a request-target may be forwarded. With no
// allow rules every target is allowed; deny rules always win.
type URLMatcher struct {
	allow ruleSet
	deny  ruleSet
	cache *lru.Cache[string, bool]
}

const urlCacheSize = 2000

func NewURLMatcher(allow, deny []string) (*URLMatcher, error) {
	return newURLMatcher(allow, deny, urlCacheSize)
}

func newURLMatcher(allow, deny []string, cacheSize int) (*URLMatcher, error) {
	a, err := compileRules(allow)
	if err != nil {
		return nil, err
	}
	d, err := compileRules(deny)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("url cache: %w", err)
	}
	return &URLMatcher{allow: a, deny: d, cache: cache}, nil
}

// Enabled reports whether any rule is configured.
func (m *URLMatcher) Enabled() bool {
	return m != nil && !(m.allow.empty() && m.deny.empty())
}

func (m *URLMatcher) Allowed(target string) bool {
	if !m.Enabled() {
		return true
	}
	if allowed, ok := m.cache.Get(target); ok {
		return allowed
	}
	allowed := !m.deny.match(target) && (m.allow.empty() || m.allow.match(target))
	m.cache.Add(target, allowed)
	return allowed
}

func (m *URLMatcher) CacheSize() int {
	if m == nil {
		return 0
	}
	return m.cache.Len()
}
