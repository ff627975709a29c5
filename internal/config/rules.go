package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"birdtrade/internal/exchange"
	"birdtrade/internal/expr"
	"birdtrade/internal/order"
	"birdtrade/internal/rule"

	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk rules document.
type RulesFile struct {
	Exchange ExchangeSection `yaml:"exchange"`
	Rules    []RuleSection   `yaml:"rules"`
}

type ExchangeSection struct {
	Currencies            []string          `yaml:"currencies"`
	Required              []string          `yaml:"required"`
	Defaults              map[string]string `yaml:"defaults"`
	PricePrecision        map[string]int32  `yaml:"price_precision"`
	DefaultPricePrecision *int32            `yaml:"default_price_precision"`
	SizePrecision         *int32            `yaml:"size_precision"`
}

type RuleSection struct {
	Name           string                 `yaml:"name"`
	Handles        []string               `yaml:"handles"`
	Keywords       []string               `yaml:"keywords"`
	Condition      string                 `yaml:"condition"`
	Orders         []map[string]yaml.Node `yaml:"orders"`
	PostTTL        time.Duration          `yaml:"post_ttl"`
	AllowReplies   bool                   `yaml:"allow_replies"`
	OrderTTL       time.Duration          `yaml:"order_ttl"`
	MarketFallback bool                   `yaml:"market_fallback"`
}

// Settings is the immutable result of loading a rules file.
type Settings struct {
	Rules []rule.Rule
	Spec  order.FieldSpec
	// Currencies are the codes accepted in {available[...]}, sorted.
	Currencies []string
	// Warnings describe rules that load but can never fire, or fire with
	// errors.
	Warnings []string
}

func LoadRules(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	settings, err := ParseRules(data)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return settings, nil
}

func ParseRules(data []byte) (Settings, error) {
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Settings{}, err
	}
	if len(file.Rules) == 0 {
		return Settings{}, fmt.Errorf("no rules configured")
	}

	spec, err := fieldSpec(file.Exchange)
	if err != nil {
		return Settings{}, err
	}
	currencies := map[string]bool{}
	for _, c := range exchange.DefaultCurrencies {
		currencies[c] = true
	}
	for _, c := range file.Exchange.Currencies {
		currencies[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	addProductCurrencies(currencies, spec.Defaults[order.FieldProductID])

	settings := Settings{Spec: spec}
	for i, section := range file.Rules {
		r, warnings, err := buildRule(i, section, spec)
		if err != nil {
			return Settings{}, err
		}
		for _, tmpl := range r.Orders {
			if f, ok := tmpl.Field(order.FieldProductID); ok && !f.IsExpression() {
				addProductCurrencies(currencies, f.Text())
			}
		}
		settings.Rules = append(settings.Rules, r)
		settings.Warnings = append(settings.Warnings, warnings...)
	}

	for c := range currencies {
		if c != "" {
			settings.Currencies = append(settings.Currencies, c)
		}
	}
	sort.Strings(settings.Currencies)

	for i, r := range settings.Rules {
		settings.Warnings = append(settings.Warnings, referenceWarnings(i, r, currencies)...)
	}
	return settings, nil
}

func ruleLabel(index int, name string) string {
	if name != "" {
		return fmt.Sprintf("rule %d (%s)", index, name)
	}
	return fmt.Sprintf("rule %d", index)
}

// referenceWarnings reports placeholders no post or order can ever resolve.
func referenceWarnings(index int, r rule.Rule, currencies map[string]bool) []string {
	label := ruleLabel(index, r.Name)
	var warnings []string
	for _, ref := range r.Condition.References() {
		if msg := checkReference(ref, currencies, false); msg != "" {
			warnings = append(warnings, fmt.Sprintf("%s condition: %s", label, msg))
		}
	}
	for j, tmpl := range r.Orders {
		for _, name := range tmpl.Names() {
			f, _ := tmpl.Field(name)
			for _, ref := range f.References() {
				if msg := checkReference(ref, currencies, true); msg != "" {
					warnings = append(warnings, fmt.Sprintf("%s order %d field %s: %s", label, j, name, msg))
				}
			}
		}
	}
	return warnings
}

func checkReference(ref expr.Reference, currencies map[string]bool, inOrder bool) string {
	switch ref.Name {
	case "tweet", "text", "author":
		if ref.Key == "" {
			return ""
		}
	case "available":
		if ref.Key != "" && currencies[strings.ToUpper(ref.Key)] {
			return ""
		}
		if ref.Key != "" {
			return fmt.Sprintf("unknown currency in %s", ref)
		}
	case "inside_bid", "inside_ask":
		if ref.Key == "" {
			if inOrder {
				return ""
			}
			return fmt.Sprintf("%s needs a product outside an order", ref)
		}
		base, quote, err := exchange.SplitProduct(ref.Key)
		if err == nil && currencies[base] && currencies[quote] {
			return ""
		}
		return fmt.Sprintf("unknown product in %s", ref)
	case "max_balance":
		if inOrder && ref.Key == "" {
			return ""
		}
	}
	return fmt.Sprintf("unknown placeholder %s", ref)
}

func fieldSpec(section ExchangeSection) (order.FieldSpec, error) {
	spec := order.DefaultFieldSpec()
	if len(section.Required) > 0 {
		spec.Required = section.Required
	}
	for name, value := range section.Defaults {
		if !order.Vocabulary[name] {
			return order.FieldSpec{}, fmt.Errorf("exchange defaults: unrecognized order key %q", name)
		}
		spec.Defaults[name] = value
	}
	for _, name := range spec.Required {
		if !order.Vocabulary[name] {
			return order.FieldSpec{}, fmt.Errorf("exchange required: unrecognized order key %q", name)
		}
	}
	for product, digits := range section.PricePrecision {
		spec.PricePrecision[strings.ToUpper(product)] = digits
	}
	if section.DefaultPricePrecision != nil {
		spec.DefaultPricePrecision = *section.DefaultPricePrecision
	}
	if section.SizePrecision != nil {
		spec.SizePrecision = *section.SizePrecision
	}
	if spec.DefaultPricePrecision < 0 || spec.SizePrecision < 0 {
		return order.FieldSpec{}, fmt.Errorf("exchange precision must be >= 0")
	}
	return spec, nil
}

func buildRule(index int, section RuleSection, spec order.FieldSpec) (rule.Rule, []string, error) {
	label := ruleLabel(index, section.Name)
	if len(section.Orders) == 0 {
		return rule.Rule{}, nil, fmt.Errorf("%s: no orders", label)
	}
	if section.PostTTL < 0 {
		return rule.Rule{}, nil, fmt.Errorf("%s: post_ttl must be >= 0", label)
	}
	if section.OrderTTL < 0 {
		return rule.Rule{}, nil, fmt.Errorf("%s: order_ttl must be >= 0", label)
	}

	var warnings []string
	templates := make([]order.Template, 0, len(section.Orders))
	for j, raw := range section.Orders {
		values, err := scalarValues(raw)
		if err != nil {
			return rule.Rule{}, nil, fmt.Errorf("%s order %d: %w", label, j, err)
		}
		tmpl, err := order.NewTemplate(values)
		if err != nil {
			return rule.Rule{}, nil, fmt.Errorf("%s order %d: %w", label, j, err)
		}
		for name, perr := range tmpl.ParseErrors() {
			warnings = append(warnings, fmt.Sprintf("%s order %d field %s: %v", label, j, name, perr))
		}
		if _, err := order.Compile(tmpl, spec); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s order %d: %v", label, j, err))
		}
		for _, name := range tmpl.Names() {
			if exchange.AlpacaIgnoredFields[name] {
				warnings = append(warnings, fmt.Sprintf("%s order %d: %s is not supported by the exchange and is ignored", label, j, name))
			}
		}
		templates = append(templates, tmpl)
	}

	r := rule.New(section.Name, section.Handles, section.Keywords, section.Condition, templates)
	r.PostTTL = section.PostTTL
	r.AllowReplies = section.AllowReplies
	r.OrderTTL = section.OrderTTL
	r.MarketFallback = section.MarketFallback
	if r.MarketFallback && r.OrderTTL == 0 {
		warnings = append(warnings, fmt.Sprintf("%s: market_fallback has no effect without order_ttl", label))
	}
	if r.Disabled() {
		warnings = append(warnings, fmt.Sprintf("%s: no handles or keywords", label))
	}
	if err := r.Condition.Err(); err != nil {
		warnings = append(warnings, fmt.Sprintf("%s condition: %v", label, err))
	}
	sort.Strings(warnings)
	return r, warnings, nil
}

func scalarValues(raw map[string]yaml.Node) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for name, node := range raw {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("field %s must be a scalar", name)
		}
		out[name] = node.Value
	}
	return out, nil
}

func addProductCurrencies(currencies map[string]bool, productID string) {
	base, quote, err := exchange.SplitProduct(productID)
	if err != nil {
		return
	}
	currencies[base] = true
	currencies[quote] = true
}
