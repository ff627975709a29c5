package order

import (
	"fmt"
	"strings"
)

// IncompleteOrderError reports required fields that have neither a template
// value nor a default.
type IncompleteOrderError struct {
	Missing []string
	Reason  string
}

func (e *IncompleteOrderError) Error() string {
	msg := "incomplete order: missing " + strings.Join(e.Missing, ", ")
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// InvalidOrderError reports a field whose resolved value the exchange cannot accept.
type InvalidOrderError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order field %s=%q: %s", e.Field, e.Value, e.Reason)
}
