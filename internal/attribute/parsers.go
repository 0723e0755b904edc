package attribute

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Warranty bounds applied when none are configured.
const (
	DefaultWarrantyMinYears = 0.0
	DefaultWarrantyMaxYears = 10.0
)

var (
	numberPattern = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)
	yearPattern   = regexp.MustCompile(`(?i)(-?\d+(?:[.,]\d+)?)\s*(ans?|years?|yrs?|a|y)\b`)
	monthPattern  = regexp.MustCompile(`(?i)(-?\d+(?:[.,]\d+)?)\s*(mois|months?|m)\b`)
	dimPattern    = regexp.MustCompile(`(?i)(-?\d+(?:[.,]\d+)?)\s*(mm|cm|m|inches|inch|in|pouces|pouce|")?`)
	energyPattern = regexp.MustCompile(`(?:^|[^A-Z])([A-G])(\+{0,3})(?:[^A-Z+]|$)`)
)

// WarrantyParser converts warranty text ("2 ans", "24 months", "3") into a
// number of years. An explicit unit is binding: if the converted value falls
// outside the bounds the value is rejected rather than reinterpreted.
type WarrantyParser struct {
	MinYears float64
	MaxYears float64
}

// NewWarrantyParser returns a parser accepting durations in [minYears, maxYears].
func NewWarrantyParser(minYears, maxYears float64) *WarrantyParser {
	return &WarrantyParser{MinYears: minYears, MaxYears: maxYears}
}

func (w *WarrantyParser) contains(v float64) bool {
	return v >= w.MinYears && v <= w.MaxYears
}

// Parse implements Parser.
func (w *WarrantyParser) Parse(raw string) (string, error) {
	s := strings.ToLower(norm.NFKC.String(strings.TrimSpace(raw)))
	if s == "" {
		return "", eris.New("warranty: empty value")
	}

	for _, u := range []struct {
		re     *regexp.Regexp
		factor float64
	}{
		{yearPattern, 1},
		{monthPattern, 1.0 / 12.0},
	} {
		m := u.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		v, err := parseDecimal(m[1])
		if err != nil {
			return "", eris.Wrapf(err, "warranty: parse %q", raw)
		}
		years := v * u.factor
		if !w.contains(years) {
			return "", eris.Errorf("warranty: %q is outside [%g, %g] years", raw, w.MinYears, w.MaxYears)
		}
		return FormatNumber(years), nil
	}

	if m := numberPattern.FindString(s); m != "" {
		v, err := parseDecimal(m)
		if err == nil {
			if w.contains(v) {
				return FormatNumber(v), nil
			}
			if w.contains(v / 12) {
				return FormatNumber(v / 12), nil
			}
		}
	}
	return "", eris.Errorf("warranty: cannot parse %q within [%g, %g] years", raw, w.MinYears, w.MaxYears)
}

// ParseDimension converts a length with an optional unit into centimetres.
// Values without a unit are taken as centimetres.
func ParseDimension(raw string) (string, error) {
	m := dimPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", eris.Errorf("dimension: no number in %q", raw)
	}
	v, err := parseDecimal(m[1])
	if err != nil {
		return "", eris.Wrapf(err, "dimension: parse %q", raw)
	}
	switch strings.ToLower(m[2]) {
	case "mm":
		v /= 10
	case "m":
		v *= 100
	case "in", "inch", "inches", "pouce", "pouces", `"`:
		v *= 2.54
	}
	if v < 0 {
		return "", eris.Errorf("dimension: negative length %q", raw)
	}
	return FormatNumber(v), nil
}

// ParseEnergyClass extracts an EU energy label (A+++ to G).
func ParseEnergyClass(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	m := energyPattern.FindStringSubmatch(s)
	if m == nil {
		return "", eris.Errorf("energy_class: no label in %q", raw)
	}
	if m[2] != "" && m[1] != "A" {
		return "", eris.Errorf("energy_class: invalid label %q", raw)
	}
	return m[1] + m[2], nil
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}

// FormatNumber rounds v half-up to two decimals and drops trailing zeros.
func FormatNumber(v float64) string {
	r := math.Round(v*100) / 100
	if r == 0 {
		r = 0 // -0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
