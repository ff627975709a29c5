package order

import (
	"fmt"
	"sort"
	"time"
)

const (
	FieldClientOID        = "client_oid"
	FieldType             = "type"
	FieldSide             = "side"
	FieldProductID        = "product_id"
	FieldSTP              = "stp"
	FieldPrice            = "price"
	FieldSize             = "size"
	FieldTimeInForce      = "time_in_force"
	FieldCancelAfter      = "cancel_after"
	FieldPostOnly         = "post_only"
	FieldFunds            = "funds"
	FieldOverdraftEnabled = "overdraft_enabled"
	FieldFundingAmount    = "funding_amount"
)

// Vocabulary is the set of field names an order template may set.
var Vocabulary = map[string]bool{
	FieldClientOID:        true,
	FieldType:             true,
	FieldSide:             true,
	FieldProductID:        true,
	FieldSTP:              true,
	FieldPrice:            true,
	FieldSize:             true,
	FieldTimeInForce:      true,
	FieldCancelAfter:      true,
	FieldPostOnly:         true,
	FieldFunds:            true,
	FieldOverdraftEnabled: true,
	FieldFundingAmount:    true,
}

var numericFields = map[string]bool{
	FieldPrice:         true,
	FieldSize:          true,
	FieldFunds:         true,
	FieldFundingAmount: true,
}

const (
	TypeLimit  = "limit"
	TypeMarket = "market"
	TypeStop   = "stop"

	SideBuy  = "buy"
	SideSell = "sell"
)

var cancelAfter = map[string]time.Duration{
	"min":  time.Minute,
	"hour": time.Hour,
	"day":  24 * time.Hour,
}

// CancelAfter is how long an order with the given cancel_after value may rest.
func CancelAfter(value string) (time.Duration, error) {
	d, ok := cancelAfter[value]
	if !ok {
		return 0, fmt.Errorf("cancel_after must be min, hour or day, got %q", value)
	}
	return d, nil
}

var (
	validTypes = map[string]bool{TypeLimit: true, TypeMarket: true, TypeStop: true}
	validSides = map[string]bool{SideBuy: true, SideSell: true}
)

// Template is an immutable, partially specified order as configured in a rule.
type Template struct {
	fields map[string]Field
}

// NewTemplate classifies raw values with ParseField and rejects names outside
// the vocabulary and invalid literal types or sides.
func NewTemplate(raw map[string]string) (Template, error) {
	fields := make(map[string]Field, len(raw))
	for name, value := range raw {
		fields[name] = ParseField(name, value)
	}
	return NewTemplateFromFields(fields)
}

func NewTemplateFromFields(fields map[string]Field) (Template, error) {
	var unknown []string
	for name := range fields {
		if !Vocabulary[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Template{}, fmt.Errorf("unrecognized order keys %v", unknown)
	}
	if f, ok := fields[FieldType]; ok && !f.IsExpression() && !validTypes[f.Text()] {
		return Template{}, fmt.Errorf("order type must be one of limit, market or stop, got %q", f.Text())
	}
	if f, ok := fields[FieldSide]; ok && !f.IsExpression() && !validSides[f.Text()] {
		return Template{}, fmt.Errorf("order side must be buy or sell, got %q", f.Text())
	}
	if f, ok := fields[FieldCancelAfter]; ok && !f.IsExpression() {
		if _, err := CancelAfter(f.Text()); err != nil {
			return Template{}, err
		}
	}

	copied := make(map[string]Field, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Template{fields: copied}, nil
}

func (t Template) Field(name string) (Field, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// Names returns the set field names in sorted order.
func (t Template) Names() []string {
	names := make([]string, 0, len(t.fields))
	for name := range t.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseErrors returns the expression fields that fail to parse, keyed by field name.
func (t Template) ParseErrors() map[string]error {
	out := map[string]error{}
	for name, f := range t.fields {
		if f.Err() != nil {
			out[name] = f.Err()
		}
	}
	return out
}
