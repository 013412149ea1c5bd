package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateSubscriptionRecord OutboxAggregateType = "subscription_record"
	AggregateTenant             OutboxAggregateType = "tenant"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateSubscriptionRecord,
	AggregateTenant,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventSubscriptionRequested OutboxEventType = "subscription_requested"
	EventSubscriptionVerified  OutboxEventType = "subscription_verified"
	EventSubscriptionRejected  OutboxEventType = "subscription_rejected"
	EventSubscriptionCancelled OutboxEventType = "subscription_cancelled"
	EventTenantPlanChanged     OutboxEventType = "tenant_plan_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSubscriptionRequested,
	EventSubscriptionVerified,
	EventSubscriptionRejected,
	EventSubscriptionCancelled,
	EventTenantPlanChanged,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
