package order

import "sort"

// FieldSpec is what an exchange requires of an order: the fields that must be
// present, the values used when a template leaves a field unset, and how
// resolved amounts are rounded.
type FieldSpec struct {
	Required              []string
	Defaults              map[string]string
	PricePrecision        map[string]int32
	DefaultPricePrecision int32
	SizePrecision         int32
}

func DefaultFieldSpec() FieldSpec {
	return FieldSpec{
		Required: []string{FieldProductID, FieldSide, FieldType},
		Defaults: map[string]string{
			FieldType: TypeLimit,
		},
		PricePrecision: map[string]int32{
			"ETH-BTC": 5,
			"IOT-USD": 4,
		},
		DefaultPricePrecision: 2,
		SizePrecision:         8,
	}
}

func (s FieldSpec) priceDigits(productID string) int32 {
	if p, ok := s.PricePrecision[productID]; ok {
		return p
	}
	return s.DefaultPricePrecision
}

// Compiled is a template merged with exchange defaults. Expression fields are
// still unresolved.
type Compiled struct {
	fields map[string]Field
	spec   FieldSpec
}

// Compile merges defaults under the template's own fields and checks that every
// required field is present.
func Compile(t Template, spec FieldSpec) (Compiled, error) {
	fields := make(map[string]Field, len(t.fields)+len(spec.Defaults))
	for name, value := range spec.Defaults {
		fields[name] = ParseField(name, value)
	}
	for name, f := range t.fields {
		fields[name] = f
	}

	var missing []string
	for _, name := range spec.Required {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Compiled{}, &IncompleteOrderError{Missing: missing}
	}
	return Compiled{fields: fields, spec: spec}, nil
}

func (c Compiled) Field(name string) (Field, bool) {
	f, ok := c.fields[name]
	return f, ok
}

