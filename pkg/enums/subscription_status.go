package enums

import "fmt"

// SubscriptionStatus is the estado of a subscription record.
type SubscriptionStatus string

const (
	SubscriptionStatusPendiente SubscriptionStatus = "PENDIENTE"
	SubscriptionStatusActiva    SubscriptionStatus = "ACTIVA"
	SubscriptionStatusCancelada SubscriptionStatus = "CANCELADA"
	// SubscriptionStatusRechazada marks a pending request whose payment proof was refused.
	SubscriptionStatusRechazada SubscriptionStatus = "RECHAZADA"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPendiente,
	SubscriptionStatusActiva,
	SubscriptionStatusCancelada,
	SubscriptionStatusRechazada,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}
