package rule

import (
	"fmt"
	"strings"

	"birdtrade/internal/social"
)

// EmptyFilterPolicy decides what a rule with neither handles nor keywords matches.
type EmptyFilterPolicy string

const (
	// EmptyFilterDisabled treats such a rule as switched off.
	EmptyFilterDisabled EmptyFilterPolicy = "disabled"
	// EmptyFilterMatchAll treats the empty filter as no filter at all.
	EmptyFilterMatchAll EmptyFilterPolicy = "all"
)

func ParseEmptyFilterPolicy(value string) (EmptyFilterPolicy, error) {
	switch EmptyFilterPolicy(value) {
	case EmptyFilterDisabled, EmptyFilterMatchAll:
		return EmptyFilterPolicy(value), nil
	default:
		return "", fmt.Errorf("invalid empty filter policy: %s", value)
	}
}

type Matcher struct {
	EmptyFilter EmptyFilterPolicy
}

// Match reports whether the post's author is one of the rule's handles or its
// text contains one of the rule's keywords, both case-insensitively.
func (m Matcher) Match(r Rule, p social.Post) bool {
	if r.Disabled() {
		return m.EmptyFilter == EmptyFilterMatchAll
	}

	if len(r.Handles) > 0 {
		author := p.Handle()
		for _, h := range r.Handles {
			if author == h {
				return true
			}
		}
	}
	if len(r.Keywords) > 0 {
		text := strings.ToLower(p.Text)
		for _, k := range r.Keywords {
			if strings.Contains(text, k) {
				return true
			}
		}
	}
	return false
}
