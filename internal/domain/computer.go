package domain

import "time"

// Computer statuses. Unsubscribed computers never participate in targeting.
const (
	ComputerStatusIntended     = "intended"
	ComputerStatusAvailable    = "available"
	ComputerStatusUnsubscribed = "unsubscribed"
)

// ActiveComputerStatuses lists statuses eligible for deployment targeting.
var ActiveComputerStatuses = []string{ComputerStatusIntended, ComputerStatusAvailable}

// Computer is a managed endpoint enrolled in the fleet.
type Computer struct {
	ID         string
	UUID       string
	Name       string
	ProjectID  string
	Status     string
	TagIDs     []string
	FeatureIDs []string
	LastSyncAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsActive reports whether the computer participates in deployment targeting.
func (c Computer) IsActive() bool {
	return c.Status == ComputerStatusIntended || c.Status == ComputerStatusAvailable
}

// AttributeIDs returns the union of assigned tags and last-sync features.
// Both membership sources count equally when matching attribute sets.
func (c Computer) AttributeIDs() IDSet {
	set := make(IDSet, len(c.TagIDs)+len(c.FeatureIDs))
	set.Add(c.TagIDs...)
	set.Add(c.FeatureIDs...)
	return set
}
