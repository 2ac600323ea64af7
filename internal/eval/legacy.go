package eval

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLegacy compiles a first-generation text range into a predicate.
// The grammar, kept verbatim from existing guild configurations:
//
//	[total] > <n>      strictly above n
//	[total] < <n>      strictly below n
//	[total] <min>-<max> inclusive range
//	top <n>            champion ranks within the user's top n by score
//
// Without the total prefix the expression reads the guild's featured
// champion score; with it, the sum across all champions. Numbers may
// carry thousands separators.
func ParseLegacy(expr string, guildChampion int64) (Predicate, error) {
	raw := expr
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return Predicate{}, fmt.Errorf("empty range expression")
	}

	pred := Predicate{Metric: MetricMastery, Champion: guildChampion}

	if rest, ok := strings.CutPrefix(expr, "total"); ok {
		pred.Metric = MetricTotal
		pred.Champion = 0
		expr = strings.TrimSpace(rest)
		if expr == "" {
			return Predicate{}, fmt.Errorf("range %q: total needs a comparison", raw)
		}
	}

	if rest, ok := strings.CutPrefix(expr, "top"); ok {
		if pred.Metric == MetricTotal {
			return Predicate{}, fmt.Errorf("range %q: top cannot combine with total", raw)
		}
		n, err := parseLegacyNumber(rest)
		if err != nil {
			return Predicate{}, fmt.Errorf("range %q: %w", raw, err)
		}
		if n <= 0 {
			return Predicate{}, fmt.Errorf("range %q: top rank must be positive", raw)
		}
		pred.Op = OpTopN
		pred.N = int(n)
		return pred, nil
	}

	switch {
	case strings.HasPrefix(expr, ">"):
		v, err := parseLegacyNumber(expr[1:])
		if err != nil {
			return Predicate{}, fmt.Errorf("range %q: %w", raw, err)
		}
		pred.Op = OpGreater
		pred.Value = v
	case strings.HasPrefix(expr, "<"):
		v, err := parseLegacyNumber(expr[1:])
		if err != nil {
			return Predicate{}, fmt.Errorf("range %q: %w", raw, err)
		}
		pred.Op = OpLess
		pred.Value = v
	case strings.Contains(expr, "-"):
		parts := strings.SplitN(expr, "-", 2)
		lo, err := parseLegacyNumber(parts[0])
		if err != nil {
			return Predicate{}, fmt.Errorf("range %q: %w", raw, err)
		}
		hi, err := parseLegacyNumber(parts[1])
		if err != nil {
			return Predicate{}, fmt.Errorf("range %q: %w", raw, err)
		}
		if hi < lo {
			return Predicate{}, fmt.Errorf("range %q: bounds out of order", raw)
		}
		pred.Op = OpBetween
		pred.Value = lo
		pred.Max = hi
	default:
		return Predicate{}, fmt.Errorf("range %q: unrecognized expression", raw)
	}

	return pred, nil
}

func parseLegacyNumber(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("missing number")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return n, nil
}
