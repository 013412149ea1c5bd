package enums

import "fmt"

// PlanStatus tracks whether a plan can still be purchased.
type PlanStatus string

const (
	PlanStatusActivo   PlanStatus = "ACTIVO"
	PlanStatusInactivo PlanStatus = "INACTIVO"
)

var validPlanStatuses = []PlanStatus{
	PlanStatusActivo,
	PlanStatusInactivo,
}

// String implements fmt.Stringer.
func (p PlanStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PlanStatus.
func (p PlanStatus) IsValid() bool {
	for _, candidate := range validPlanStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanStatus converts raw input into a PlanStatus.
func ParsePlanStatus(value string) (PlanStatus, error) {
	for _, candidate := range validPlanStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan status %q", value)
}
