package eval

import (
	"fmt"

	"rolesync/internal/domain"
)

type Metric string

const (
	MetricMastery Metric = "mastery"
	MetricTotal   Metric = "total"
	MetricTier    Metric = "tier"
)

type Op string

const (
	OpGreater Op = "gt"
	OpLess    Op = "lt"
	OpBetween Op = "between"
	OpEqual   Op = "eq"
	OpTopN    Op = "top_n"
)

// Predicate is the single internal form both schema generations lower to:
// structured conditions and the legacy text grammar compile into it, and
// only this form is ever evaluated.
type Predicate struct {
	Metric   Metric
	Champion int64
	Queue    string
	Op       Op
	Value    int64
	Max      int64
	N        int
}

// Evaluate decides whether the predicate holds for the snapshot. The
// comparison boundaries are deliberately asymmetric: gt and lt are strict
// while between is inclusive on both ends. Existing role configurations
// depend on these exact boundaries, so they must not be normalized.
func Evaluate(p Predicate, snap domain.StatsSnapshot) (bool, error) {
	if p.Op == OpTopN {
		return topN(p, snap), nil
	}

	value, err := metricValue(p, snap)
	if err != nil {
		return false, err
	}

	switch p.Op {
	case OpGreater:
		return value > p.Value, nil
	case OpLess:
		return value < p.Value, nil
	case OpBetween:
		return p.Value <= value && value <= p.Max, nil
	case OpEqual:
		return value == p.Value, nil
	default:
		return false, fmt.Errorf("unknown predicate op %q", p.Op)
	}
}

func metricValue(p Predicate, snap domain.StatsSnapshot) (int64, error) {
	switch p.Metric {
	case MetricMastery:
		return snap.Mastery[p.Champion], nil
	case MetricTotal:
		return snap.Total(), nil
	case MetricTier:
		return int64(snap.Tiers[p.Queue]), nil
	default:
		return 0, fmt.Errorf("unknown predicate metric %q", p.Metric)
	}
}

// topN holds when the predicate's champion ranks within the first N of the
// user's own champions by score. Rank is 1 plus the number of champions
// with a strictly greater score, so ties share the better rank. A champion
// with no score never matches.
func topN(p Predicate, snap domain.StatsSnapshot) bool {
	score, ok := snap.Mastery[p.Champion]
	if !ok || score <= 0 {
		return false
	}
	rank := 1
	for champion, other := range snap.Mastery {
		if champion != p.Champion && other > score {
			rank++
		}
	}
	return rank <= p.N
}

// EvaluateSet aggregates per-predicate results under a combinator. An
// empty predicate list is vacuously eligible under both all and any; this
// mirrors how unconfigured roles have always behaved and is covered by
// tests rather than special-cased away.
func EvaluateSet(preds []Predicate, comb domain.Combinator, snap domain.StatsSnapshot) (bool, error) {
	if len(preds) == 0 {
		switch comb.Type {
		case domain.CombinatorAll, domain.CombinatorAny:
			return true, nil
		case domain.CombinatorAtLeast:
			return comb.Amount <= 0, nil
		default:
			return false, fmt.Errorf("unknown combinator %q", comb.Type)
		}
	}

	matched := 0
	for _, p := range preds {
		ok, err := Evaluate(p, snap)
		if err != nil {
			return false, err
		}
		if ok {
			matched++
		}
	}

	switch comb.Type {
	case domain.CombinatorAll:
		return matched == len(preds), nil
	case domain.CombinatorAny:
		return matched > 0, nil
	case domain.CombinatorAtLeast:
		return matched >= comb.Amount, nil
	default:
		return false, fmt.Errorf("unknown combinator %q", comb.Type)
	}
}
