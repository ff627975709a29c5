package rule

import (
	"fmt"
	"strings"
	"time"

	"birdtrade/internal/expr"
	"birdtrade/internal/order"
	"birdtrade/internal/social"
)

// Rule is an immutable filter, condition and ordered list of order templates.
type Rule struct {
	Name         string
	Handles      []string
	Keywords     []string
	Condition    *Condition
	Orders       []order.Template
	PostTTL      time.Duration
	AllowReplies bool
	// OrderTTL cancels a resting order this long after it was placed. Zero
	// leaves orders on the book.
	OrderTTL time.Duration
	// MarketFallback replaces an expired limit order's unfilled size with a
	// market order.
	MarketFallback bool
}

// Condition is a rule's boolean expression. A parse failure is kept and
// reported each time the condition is evaluated.
type Condition struct {
	src      string
	program  *expr.Expression
	parseErr error
}

func NewCondition(src string) *Condition {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	program, err := expr.Parse(src)
	return &Condition{src: src, program: program, parseErr: err}
}

func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.src
}

func (c *Condition) Err() error {
	if c == nil {
		return nil
	}
	return c.parseErr
}

// References lists the placeholders the condition uses.
func (c *Condition) References() []expr.Reference {
	if c == nil || c.program == nil {
		return nil
	}
	return c.program.References()
}

// Holds evaluates the condition. A nil condition always holds.
func (c *Condition) Holds(env expr.Env) (bool, error) {
	if c == nil {
		return true, nil
	}
	if c.parseErr != nil {
		return false, c.parseErr
	}
	return c.program.EvalBool(env)
}

// New lowercases handles and keywords and drops a leading @ from handles.
func New(name string, handles, keywords []string, condition string, orders []order.Template) Rule {
	return Rule{
		Name:      name,
		Handles:   normalize(handles, true),
		Keywords:  normalize(keywords, false),
		Condition: NewCondition(condition),
		Orders:    orders,
	}
}

func (r Rule) String() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("handles=%v keywords=%v", r.Handles, r.Keywords)
}

// Disabled reports a rule with no handle or keyword filter.
func (r Rule) Disabled() bool {
	return len(r.Handles) == 0 && len(r.Keywords) == 0
}

func normalize(values []string, handle bool) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if handle {
			v = social.NormalizeHandle(v)
		} else {
			v = strings.ToLower(strings.TrimSpace(v))
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
