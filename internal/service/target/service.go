// Package target maintains the cached admitted-computer set per deployment.
package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/nbyrd/staggerd/internal/domain"
	"github.com/nbyrd/staggerd/internal/repository"
	"github.com/nbyrd/staggerd/internal/service/resolver"
	"github.com/nbyrd/staggerd/internal/service/timeline"
	"github.com/nbyrd/staggerd/internal/targetcache"
)

// Service recomputes deployment target sets and keeps the cache current.
type Service struct {
	deployments repository.DeploymentRepository
	schedules   repository.ScheduleRepository
	computers   repository.ComputerRepository
	cache       targetcache.Store
	logger      *slog.Logger

	now func() time.Time
}

// New returns a target service.
func New(deployments repository.DeploymentRepository, schedules repository.ScheduleRepository, computers repository.ComputerRepository, cache targetcache.Store, logger *slog.Logger) *Service {
	return &Service{
		deployments: deployments,
		schedules:   schedules,
		computers:   computers,
		cache:       cache,
		logger:      logger.With("component", "target"),
		now:         time.Now,
	}
}

// Result describes one rebuild outcome.
type Result struct {
	DeploymentID string
	Scheduled    bool
	State        timeline.State
	Percent      int
	TargetCount  int
}

// Rebuild recomputes the admitted set for the deployment and atomically
// replaces its cache entry. A deployment that no longer exists is a no-op
// with a nil result, as is a disabled deployment, whose entry is cleared.
func (s *Service) Rebuild(ctx context.Context, deploymentID string) (*Result, error) {
	deployment, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Stale trigger; the deployment was withdrawn in the meantime.
			s.logger.Debug("rebuild skipped, deployment gone", "deployment_id", deploymentID)
			return nil, nil
		}
		return nil, fmt.Errorf("load deployment %s: %w", deploymentID, err)
	}

	if !deployment.Enabled {
		if err := s.cache.Replace(ctx, deploymentID, nil); err != nil {
			return nil, fmt.Errorf("clear target cache for %s: %w", deploymentID, err)
		}
		return nil, nil
	}

	computers, err := s.computers.ListActiveComputersByProject(ctx, deployment.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list computers for project %s: %w", deployment.ProjectID, err)
	}

	base := resolver.Match(computers, deployment.IncludedAttributeIDs, deployment.ExcludedAttributeIDs)

	result := Result{DeploymentID: deploymentID}
	var eval timeline.Evaluation
	if deployment.ScheduleID == nil {
		eval = timeline.Evaluation{State: timeline.StateComplete, Percent: 100, Admitted: base}
	} else {
		result.Scheduled = true
		delays, err := s.loadDelays(ctx, *deployment.ScheduleID, deploymentID)
		if err != nil {
			return nil, err
		}
		cohort := func(attributeIDs []string) domain.IDSet {
			return resolver.Match(computers, attributeIDs, nil)
		}
		eval = timeline.Evaluate(s.now(), deployment.StartDate, delays, base, cohort)
	}

	admitted := eval.Admitted.Sorted()
	if err := s.cache.Replace(ctx, deploymentID, admitted); err != nil {
		return nil, fmt.Errorf("replace target cache for %s: %w", deploymentID, err)
	}

	result.State = eval.State
	result.Percent = eval.Percent
	result.TargetCount = len(admitted)
	return &result, nil
}

// Get returns the last cached admitted set without recomputing.
func (s *Service) Get(ctx context.Context, deploymentID string) ([]string, error) {
	return s.cache.Get(ctx, deploymentID)
}

// Release drops the cached set for a withdrawn deployment.
func (s *Service) Release(ctx context.Context, deploymentID string) error {
	return s.cache.Delete(ctx, deploymentID)
}

// RebuildProject rebuilds every enabled deployment targeting the project.
// Individual failures are logged and skipped.
func (s *Service) RebuildProject(ctx context.Context, projectID string) error {
	deployments, err := s.deployments.ListEnabledDeploymentsByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list deployments for project %s: %w", projectID, err)
	}
	for _, d := range deployments {
		if _, err := s.Rebuild(ctx, d.ID); err != nil {
			s.logger.Warn("rebuild failed", "deployment_id", d.ID, "error", err)
		}
	}
	return nil
}

// RebuildForAttribute rebuilds every deployment whose include, exclude, or
// schedule-delay sets reference the attribute.
func (s *Service) RebuildForAttribute(ctx context.Context, attributeID string) error {
	deployments, err := s.deployments.ListDeploymentsReferencingAttribute(ctx, attributeID)
	if err != nil {
		return fmt.Errorf("list deployments for attribute %s: %w", attributeID, err)
	}
	for _, d := range deployments {
		if _, err := s.Rebuild(ctx, d.ID); err != nil {
			s.logger.Warn("rebuild failed", "deployment_id", d.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) loadDelays(ctx context.Context, scheduleID, deploymentID string) ([]domain.ScheduleDelay, error) {
	schedule, err := s.schedules.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Dangling schedule reference falls back to an unstaggered rollout.
			s.logger.Warn("schedule missing, treating deployment as unstaggered", "deployment_id", deploymentID, "schedule_id", scheduleID)
			return nil, nil
		}
		return nil, fmt.Errorf("load schedule %s: %w", scheduleID, err)
	}
	return schedule.Delays, nil
}
