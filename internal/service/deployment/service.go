// Package deployment manages deployment and schedule records, keeping the
// target cache in step with operator edits.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/nbyrd/staggerd/internal/domain"
	"github.com/nbyrd/staggerd/internal/repository"
	"github.com/nbyrd/staggerd/internal/service/target"
)

var (
	errMissingName    = errors.New("deployment name required")
	errMissingProject = errors.New("project id required")
	errMissingRepoURL = errors.New("repository url required")
	errNegativeDelay  = errors.New("schedule delay must be non-negative")
	errNegativeQuota  = errors.New("schedule quota must be non-negative")
)

// Targets maintains the cached target sets for deployments.
type Targets interface {
	Rebuild(ctx context.Context, deploymentID string) (*target.Result, error)
	Release(ctx context.Context, deploymentID string) error
}

// CreateRequest carries the fields of a new deployment.
type CreateRequest struct {
	Name                 string
	ProjectID            string
	RepoURL              string
	ScheduleID           *string
	StartDate            *time.Time
	IncludedAttributeIDs []string
	ExcludedAttributeIDs []string
	Enabled              bool
}

// Service handles deployment lifecycle operations.
type Service struct {
	deployments repository.DeploymentRepository
	schedules   repository.ScheduleRepository
	targets     Targets
	logger      *slog.Logger

	now func() time.Time
}

// New returns a deployment service.
func New(deployments repository.DeploymentRepository, schedules repository.ScheduleRepository, targets Targets, logger *slog.Logger) Service {
	return Service{
		deployments: deployments,
		schedules:   schedules,
		targets:     targets,
		logger:      logger.With("component", "deployment"),
		now:         time.Now,
	}
}

// Create stores a deployment and builds its initial target set.
func (s Service) Create(ctx context.Context, req CreateRequest) (*domain.Deployment, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errMissingName
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, errMissingProject
	}
	if strings.TrimSpace(req.RepoURL) == "" {
		return nil, errMissingRepoURL
	}
	if req.ScheduleID != nil {
		if _, err := s.schedules.GetScheduleByID(ctx, *req.ScheduleID); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", *req.ScheduleID, err)
		}
	}

	now := s.now().UTC()
	deployment := &domain.Deployment{
		ID:                   uuid.NewString(),
		Name:                 req.Name,
		ProjectID:            req.ProjectID,
		RepoURL:              req.RepoURL,
		ScheduleID:           req.ScheduleID,
		StartDate:            req.StartDate,
		IncludedAttributeIDs: req.IncludedAttributeIDs,
		ExcludedAttributeIDs: req.ExcludedAttributeIDs,
		Enabled:              req.Enabled,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	s.rebuild(ctx, deployment.ID)
	s.logger.Info("deployment created", "deployment_id", deployment.ID, "project_id", deployment.ProjectID, "scheduled", deployment.ScheduleID != nil)
	return deployment, nil
}

// Update applies an edit and rebuilds the target set.
func (s Service) Update(ctx context.Context, update domain.DeploymentUpdate) (*domain.Deployment, error) {
	deployment, err := s.deployments.GetDeploymentByID(ctx, update.DeploymentID)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		deployment.Name = *update.Name
	}
	if update.RepoURL != nil {
		deployment.RepoURL = *update.RepoURL
	}
	if update.ClearSchedule {
		deployment.ScheduleID = nil
	} else if update.ScheduleID != nil {
		if _, err := s.schedules.GetScheduleByID(ctx, *update.ScheduleID); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", *update.ScheduleID, err)
		}
		deployment.ScheduleID = update.ScheduleID
	}
	if update.StartDate != nil {
		deployment.StartDate = update.StartDate
	}
	if update.IncludedAttributeIDs != nil {
		deployment.IncludedAttributeIDs = update.IncludedAttributeIDs
	}
	if update.ExcludedAttributeIDs != nil {
		deployment.ExcludedAttributeIDs = update.ExcludedAttributeIDs
	}
	if update.Enabled != nil {
		deployment.Enabled = *update.Enabled
	}
	deployment.UpdatedAt = s.now().UTC()

	if err := s.deployments.UpdateDeployment(ctx, deployment); err != nil {
		return nil, fmt.Errorf("update deployment %s: %w", deployment.ID, err)
	}
	s.rebuild(ctx, deployment.ID)
	return deployment, nil
}

// Delete withdraws a deployment and releases its cached target set.
func (s Service) Delete(ctx context.Context, deploymentID string) error {
	if err := s.deployments.DeleteDeployment(ctx, deploymentID); err != nil {
		return err
	}
	if err := s.targets.Release(ctx, deploymentID); err != nil {
		s.logger.Warn("release target cache failed", "deployment_id", deploymentID, "error", err)
	}
	s.logger.Info("deployment deleted", "deployment_id", deploymentID)
	return nil
}

// Get fetches a deployment.
func (s Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// CreateSchedule stores a schedule with its delay rules in input order.
// Rules may arrive unsorted; the timeline engine sorts them at evaluation.
func (s Service) CreateSchedule(ctx context.Context, name string, delays []domain.ScheduleDelay) (*domain.Schedule, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errMissingName
	}
	for _, delay := range delays {
		if delay.Delay < 0 {
			return nil, errNegativeDelay
		}
		if delay.Quota < 0 {
			return nil, errNegativeQuota
		}
	}
	schedule := &domain.Schedule{
		ID:        uuid.NewString(),
		Name:      name,
		Delays:    delays,
		CreatedAt: s.now().UTC(),
	}
	for i := range schedule.Delays {
		schedule.Delays[i].ScheduleID = schedule.ID
		schedule.Delays[i].Position = i
	}
	if err := s.schedules.CreateSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return schedule, nil
}

// DeleteSchedule removes a schedule. Deployments still pointing at it fall
// back to an unstaggered rollout on their next rebuild.
func (s Service) DeleteSchedule(ctx context.Context, scheduleID string) error {
	return s.schedules.DeleteSchedule(ctx, scheduleID)
}

func (s Service) rebuild(ctx context.Context, deploymentID string) {
	if _, err := s.targets.Rebuild(ctx, deploymentID); err != nil {
		s.logger.Warn("rebuild failed", "deployment_id", deploymentID, "error", err)
	}
}
