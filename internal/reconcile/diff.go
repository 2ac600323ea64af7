package reconcile

import (
	"rolesync/internal/domain"
	"rolesync/internal/eval"
)

// Diff computes the minimal action plan for one user on one guild. Roles
// are judged against both the pre-fetch and post-fetch snapshots so
// promotions can be told apart from roles that merely stayed eligible.
// Several definitions may map onto the same external role id; the role is
// eligible when any of them is.
func Diff(roles []eval.CompiledRole, oldSnap, newSnap domain.StatsSnapshot, held []string) (domain.ReconcileResult, error) {
	type verdict struct {
		oldEligible  bool
		newEligible  bool
		govIncreased bool
	}

	verdicts := make(map[string]*verdict)
	// order tracks first appearance so the plan is deterministic.
	var order []string

	for _, role := range roles {
		oldEligible, err := role.Eligible(oldSnap)
		if err != nil {
			return domain.ReconcileResult{}, err
		}
		newEligible, err := role.Eligible(newSnap)
		if err != nil {
			return domain.ReconcileResult{}, err
		}

		v, ok := verdicts[role.RoleID]
		if !ok {
			v = &verdict{}
			verdicts[role.RoleID] = v
			order = append(order, role.RoleID)
		}
		v.oldEligible = v.oldEligible || oldEligible
		v.newEligible = v.newEligible || newEligible
		if newEligible && role.GoverningValue(newSnap) > role.GoverningValue(oldSnap) {
			v.govIncreased = true
		}
	}

	heldSet := make(map[string]bool, len(held))
	for _, roleID := range held {
		heldSet[roleID] = true
	}

	var result domain.ReconcileResult
	for _, roleID := range order {
		v := verdicts[roleID]
		switch {
		case v.newEligible && !heldSet[roleID]:
			result.ToGrant = append(result.ToGrant, roleID)
		case !v.newEligible && heldSet[roleID]:
			result.ToRevoke = append(result.ToRevoke, roleID)
		}

		// A promotion needs both a fresh verdict and a statistic that
		// actually went up, so transfers and unrelated decreases never
		// trigger a celebration.
		if v.newEligible && !v.oldEligible && v.govIncreased {
			result.Promoted = append(result.Promoted, roleID)
		}
	}

	return result, nil
}
