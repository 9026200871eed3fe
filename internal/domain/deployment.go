package domain

import "time"

// Deployment associates a software repository with a project and an
// attribute-filtered computer population, optionally staggered by a schedule.
type Deployment struct {
	ID                   string
	Name                 string
	ProjectID            string
	RepoURL              string
	ScheduleID           *string
	StartDate            *time.Time
	IncludedAttributeIDs []string
	ExcludedAttributeIDs []string
	Enabled              bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DeploymentUpdate captures the mutable fields of a deployment edit.
type DeploymentUpdate struct {
	DeploymentID         string
	Name                 *string
	RepoURL              *string
	ScheduleID           *string
	ClearSchedule        bool
	StartDate            *time.Time
	IncludedAttributeIDs []string
	ExcludedAttributeIDs []string
	Enabled              *bool
}
