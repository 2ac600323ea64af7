package eval

import (
	"fmt"

	"rolesync/internal/domain"
)

// CompiledRole is a role definition lowered to the internal predicate
// form, ready to evaluate against any snapshot.
type CompiledRole struct {
	RoleID     string
	Name       string
	Predicates []Predicate
	Combinator domain.Combinator
}

// Compile lowers a role definition into predicates. Structured conditions
// translate one to one; legacy definitions parse their text range against
// the guild's featured champion. A malformed definition is a configuration
// bug and fails compilation outright, it is never skipped.
func Compile(def domain.RoleDefinition, guildChampion int64) (CompiledRole, error) {
	out := CompiledRole{
		RoleID:     def.RoleID,
		Name:       def.Name,
		Combinator: def.Combinator,
	}

	if def.IsLegacy() {
		pred, err := ParseLegacy(def.LegacyRange, guildChampion)
		if err != nil {
			return CompiledRole{}, fmt.Errorf("role %q: %w", def.Name, err)
		}
		out.Predicates = []Predicate{pred}
		out.Combinator = domain.Combinator{Type: domain.CombinatorAll}
		return out, nil
	}

	if out.Combinator.Type == "" {
		out.Combinator.Type = domain.CombinatorAll
	}

	for _, cond := range def.Conditions {
		pred, err := compileCondition(cond)
		if err != nil {
			return CompiledRole{}, fmt.Errorf("role %q: %w", def.Name, err)
		}
		out.Predicates = append(out.Predicates, pred)
	}

	return out, nil
}

func compileCondition(cond domain.Condition) (Predicate, error) {
	pred := Predicate{
		Champion: cond.Champion,
		Queue:    cond.Queue,
		Value:    cond.Value,
		Max:      cond.Max,
	}

	switch cond.Type {
	case domain.ConditionMasteryScore:
		pred.Metric = MetricMastery
	case domain.ConditionTotalScore:
		pred.Metric = MetricTotal
	case domain.ConditionRankedTier:
		pred.Metric = MetricTier
	default:
		return Predicate{}, fmt.Errorf("unknown condition type %q", cond.Type)
	}

	switch cond.Compare {
	case domain.CompareAtLeast:
		pred.Op = OpGreater
	case domain.CompareAtMost:
		pred.Op = OpLess
	case domain.CompareBetween:
		pred.Op = OpBetween
	case domain.CompareExactly:
		pred.Op = OpEqual
	default:
		return Predicate{}, fmt.Errorf("unknown compare type %q", cond.Compare)
	}

	return pred, nil
}

// Eligible evaluates the whole role against a snapshot.
func (c CompiledRole) Eligible(snap domain.StatsSnapshot) (bool, error) {
	return EvaluateSet(c.Predicates, c.Combinator, snap)
}

// GoverningValue sums the statistics the role's predicates read. The
// reconciler compares it across fetches to tell real promotions apart from
// roles that merely stayed eligible while unrelated numbers moved.
func (c CompiledRole) GoverningValue(snap domain.StatsSnapshot) int64 {
	var total int64
	seenTotal := false
	seenChampion := make(map[int64]bool)
	seenQueue := make(map[string]bool)

	for _, p := range c.Predicates {
		switch p.Metric {
		case MetricMastery:
			if !seenChampion[p.Champion] {
				seenChampion[p.Champion] = true
				total += snap.Mastery[p.Champion]
			}
		case MetricTotal:
			if !seenTotal {
				seenTotal = true
				total += snap.Total()
			}
		case MetricTier:
			if !seenQueue[p.Queue] {
				seenQueue[p.Queue] = true
				total += int64(snap.Tiers[p.Queue])
			}
		}
	}
	return total
}
