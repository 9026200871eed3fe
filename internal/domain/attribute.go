package domain

import "time"

// Attribute sources. Tags are administrator-assigned; features are computed
// from the client's last synchronization report.
const (
	AttributeSourceTag     = "tag"
	AttributeSourceFeature = "feature"
)

// Attribute is a named value under a property prefix, used as a targeting
// predicate. The set algebra operates on opaque attribute ids; the prefix and
// value exist for display.
type Attribute struct {
	ID             string
	PropertyPrefix string
	Value          string
	Source         string
	CreatedAt      time.Time
}
