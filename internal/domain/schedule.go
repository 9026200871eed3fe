package domain

import "time"

// Schedule staggers a deployment's exposure over day offsets. Schedules are
// shared by reference: many deployments may point at the same schedule.
type Schedule struct {
	ID        string
	Name      string
	Delays    []ScheduleDelay
	CreatedAt time.Time
}

// ScheduleDelay admits up to Quota additional computers from the cohort
// matching AttributeIDs once Delay days have elapsed since the deployment's
// start date. Position preserves input order for equal delays.
type ScheduleDelay struct {
	ScheduleID   string
	Position     int
	Delay        int
	AttributeIDs []string
	Quota        int
}
