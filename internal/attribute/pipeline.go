package attribute

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/vertical"
)

var parenthesisPattern = regexp.MustCompile(`\(.*\)`)

// Parsed is the outcome of running one raw value through a rule.
type Parsed struct {
	Value   string
	Type    model.AttributeType
	Numeric *float64
}

// Process runs raw through rule's pipeline: case transform, token deletion,
// parenthesis stripping, normalization, trimming, exact token match, fixed
// mappings, custom parser, then type coercion and conformance. Failures are
// returned as *model.RejectionError.
func Process(rule *vertical.AttributeRule, registry *Registry, source, raw string) (Parsed, error) {
	v := raw
	pc := rule.Parser

	switch strings.ToLower(pc.Case) {
	case "lower":
		v = strings.ToLower(v)
	case "upper":
		v = strings.ToUpper(v)
	}

	for _, tok := range pc.DeleteTokens {
		if tok != "" {
			v = strings.ReplaceAll(v, tok, "")
		}
	}

	if pc.RemoveParenthesis {
		v = parenthesisPattern.ReplaceAllString(v, "")
	}

	if pc.Normalize {
		v = Normalize(v)
	}

	if pc.Trim {
		v = strings.TrimSpace(v)
	}

	if len(pc.TokenMatch) > 0 {
		matched := false
		for _, tok := range pc.TokenMatch {
			if strings.Contains(v, tok) {
				v = tok
				matched = true
				break
			}
		}
		if !matched {
			return Parsed{}, model.Reject(model.ErrorParse, rule.Key, source, "value "+strconv.Quote(v)+" matches no configured token")
		}
	}

	if v == "" {
		return Parsed{}, model.Reject(model.ErrorParse, rule.Key, source, "empty value")
	}

	if mapped, ok := rule.Mappings[v]; ok {
		v = mapped
	}

	if pc.Name != "" {
		p, err := registry.Get(pc.Name)
		if err != nil {
			re := model.Reject(model.ErrorConfig, rule.Key, source, "parser "+strconv.Quote(pc.Name)+" is not registered")
			re.Err = err
			return Parsed{}, re
		}
		out, err := safeParse(p, v)
		if err != nil {
			re := model.Reject(model.ErrorParse, rule.Key, source, pc.Name)
			re.Err = err
			return Parsed{}, re
		}
		v = out
	}

	v = coerce(v, rule.Type)
	// TEXT accepts any value; only NUMERIC and BOOLEAN must conform.
	detected := DetectType(v)
	if rule.Type != model.AttributeText && detected != rule.Type {
		return Parsed{}, model.Reject(model.ErrorParse, rule.Key, source,
			"expected "+string(rule.Type)+", got "+string(detected)+" for "+strconv.Quote(v))
	}

	out := Parsed{Value: v, Type: rule.Type}
	if rule.Type == model.AttributeNumeric {
		f, _ := strconv.ParseFloat(v, 64)
		out.Numeric = &f
	}
	return out, nil
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool {
	var re *model.RejectionError
	return errors.As(err, &re) && re.Category == model.ErrorConfig
}

func coerce(v string, typ model.AttributeType) string {
	switch typ {
	case model.AttributeNumeric:
		m := numberPattern.FindString(v)
		if m == "" {
			return v
		}
		f, err := parseDecimal(m)
		if err != nil {
			return v
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case model.AttributeBoolean:
		if b, ok := parseBool(v); ok {
			return strconv.FormatBool(b)
		}
	}
	return v
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "oui", "1", "vrai":
		return true, true
	case "no", "n", "false", "non", "0", "faux":
		return false, true
	}
	return false, false
}

// DetectType infers the type of a processed value.
func DetectType(v string) model.AttributeType {
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return model.AttributeNumeric
	}
	if v == "true" || v == "false" {
		return model.AttributeBoolean
	}
	return model.AttributeText
}
