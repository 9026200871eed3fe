// Package timeline computes schedule-based rollout admission: which computers
// a deployment's delay rules currently admit, and how much of the schedule
// has elapsed.
package timeline

import (
	"sort"
	"time"

	"github.com/nbyrd/staggerd/internal/domain"
)

// State classifies a deployment-schedule pairing.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateComplete   State = "complete"
)

// Evaluation is the outcome of evaluating a schedule at an instant.
type Evaluation struct {
	State    State
	Percent  int
	Admitted domain.IDSet
}

// CohortFunc resolves the computers matching a delay rule's attribute set.
// Rules carry no exclusion of their own; the deployment-level exclusion is
// already folded into the base set the result is intersected with.
type CohortFunc func(attributeIDs []string) domain.IDSet

// ElapsedDays returns the number of whole days between start and now, or -1
// when start is unset or in the future.
func ElapsedDays(now time.Time, start *time.Time) int {
	if start == nil || start.After(now) {
		return -1
	}
	return int(now.Sub(*start) / (24 * time.Hour))
}

// Evaluate walks the delay rules in delay order and accumulates the admitted
// cohort for the given instant.
//
// Each rule whose delay has been reached admits up to Quota additional
// distinct computers from its cohort, intersected with base. Computers
// admitted by an earlier rule are skipped without consuming quota, and unmet
// quota never rolls over to a later rule. Candidate ids are taken in sorted
// order so repeated evaluations over unchanged state admit the same
// computers.
//
// The percentage counts reached rules over total rules; quota shortfalls do
// not hold a rule back once its day has arrived. A schedule with no rules is
// complete immediately and admits the whole base set.
func Evaluate(now time.Time, start *time.Time, delays []domain.ScheduleDelay, base domain.IDSet, cohort CohortFunc) Evaluation {
	if len(delays) == 0 {
		return Evaluation{State: StateComplete, Percent: 100, Admitted: base}
	}

	elapsed := ElapsedDays(now, start)
	if elapsed < 0 {
		return Evaluation{State: StateNotStarted, Percent: 0, Admitted: make(domain.IDSet)}
	}

	// Stable sort keeps input order for duplicate delay offsets.
	rules := make([]domain.ScheduleDelay, len(delays))
	copy(rules, delays)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Delay < rules[j].Delay })

	admitted := make(domain.IDSet)
	reached := 0
	for _, rule := range rules {
		if rule.Delay > elapsed {
			break
		}
		reached++
		if rule.Quota <= 0 {
			continue
		}
		taken := 0
		for _, id := range cohort(rule.AttributeIDs).Sorted() {
			if taken >= rule.Quota {
				break
			}
			if !base.Has(id) {
				continue
			}
			if admitted.Has(id) {
				continue
			}
			admitted.Add(id)
			taken++
		}
	}

	percent := 100 * reached / len(rules)
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	state := StateRunning
	if percent == 100 {
		state = StateComplete
	}
	return Evaluation{State: state, Percent: percent, Admitted: admitted}
}
