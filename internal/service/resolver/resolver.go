// Package resolver evaluates included/excluded attribute specifications
// against the computer directory, producing concrete computer-id sets.
package resolver

import (
	"context"

	"github.com/nbyrd/staggerd/internal/domain"
	"github.com/nbyrd/staggerd/internal/repository"
)

// Service resolves attribute sets against the live computer directory.
type Service struct {
	computers repository.ComputerRepository
}

// New returns a resolver service.
func New(computers repository.ComputerRepository) Service {
	return Service{computers: computers}
}

// Resolve returns the ids of active computers in the project that match the
// included attribute set and do not match the excluded set. A project id with
// no computers, including a dangling reference, yields an empty set.
func (s Service) Resolve(ctx context.Context, projectID string, included, excluded []string) (domain.IDSet, error) {
	computers, err := s.computers.ListActiveComputersByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return Match(computers, included, excluded), nil
}

// Match applies the attribute-set algebra to a snapshot of computers.
//
// A computer is a candidate when it is active and either the included set is
// empty or its tag∪feature membership intersects it. Candidates whose
// membership intersects the excluded set are removed afterwards, so exclusion
// always overrides inclusion.
func Match(computers []domain.Computer, included, excluded []string) domain.IDSet {
	includeSet := domain.NewIDSet(included...)
	excludeSet := domain.NewIDSet(excluded...)

	result := make(domain.IDSet)
	for _, c := range computers {
		if !c.IsActive() {
			continue
		}
		attrs := c.AttributeIDs()
		if len(includeSet) > 0 && !attrs.Intersects(includeSet) {
			continue
		}
		if len(excludeSet) > 0 && attrs.Intersects(excludeSet) {
			continue
		}
		result.Add(c.ID)
	}
	return result
}
