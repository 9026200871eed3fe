package repository

import (
	"context"
	"time"

	"github.com/nbyrd/staggerd/internal/domain"
)

// ComputerRepository persists the computer directory.
type ComputerRepository interface {
	CreateComputer(ctx context.Context, computer *domain.Computer) error
	GetComputerByID(ctx context.Context, id string) (*domain.Computer, error)
	GetComputerByUUID(ctx context.Context, uuid string) (*domain.Computer, error)
	ListActiveComputersByProject(ctx context.Context, projectID string) ([]domain.Computer, error)
	UpdateComputerStatus(ctx context.Context, computerID, status string) error
	ReplaceComputerFeatures(ctx context.Context, computerID string, featureIDs []string, syncedAt time.Time) error
	AddComputerTag(ctx context.Context, computerID, attributeID string) error
	RemoveComputerTag(ctx context.Context, computerID, attributeID string) error
}

// AttributeRepository persists tag and feature attributes.
type AttributeRepository interface {
	CreateAttribute(ctx context.Context, attribute *domain.Attribute) error
	GetAttributeByID(ctx context.Context, id string) (*domain.Attribute, error)
	FindAttribute(ctx context.Context, propertyPrefix, value, source string) (*domain.Attribute, error)
	ListAttributes(ctx context.Context, source string) ([]domain.Attribute, error)
}

// DeploymentRepository persists deployments.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error
	DeleteDeployment(ctx context.Context, deploymentID string) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListEnabledDeployments(ctx context.Context) ([]domain.Deployment, error)
	ListEnabledDeploymentsByProject(ctx context.Context, projectID string) ([]domain.Deployment, error)
	ListDeploymentsReferencingAttribute(ctx context.Context, attributeID string) ([]domain.Deployment, error)
}

// ScheduleRepository persists rollout schedules and their delay rules.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule *domain.Schedule) error
	GetScheduleByID(ctx context.Context, scheduleID string) (*domain.Schedule, error)
	DeleteSchedule(ctx context.Context, scheduleID string) error
}
