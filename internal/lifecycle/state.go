// Package lifecycle derives a tenant's subscription entitlement from its record
// history and validates the transitions requested against it. Everything here
// is a pure function of (records, now); persistence lives in the callers.
package lifecycle

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/angelmondragon/comercio-backoffice/pkg/enums"
)

// AnomalyKind labels a data integrity problem found while deriving state.
type AnomalyKind string

const (
	// AnomalyMultipleActive means two ACTIVA periods overlap at now.
	AnomalyMultipleActive AnomalyKind = "multiple_active"
	// AnomalyMultiplePending means more than one record awaits verification.
	AnomalyMultiplePending AnomalyKind = "multiple_pending"
)

// Anomaly is reported, never returned as an error. RecordIDs lists every
// record involved, the chosen one first.
type Anomaly struct {
	Kind      AnomalyKind
	RecordIDs []uuid.UUID
}

// State is the derived view of one tenant at a single instant.
type State struct {
	At        time.Time
	Effective *models.SubscriptionRecord
	Pending   *models.SubscriptionRecord
	Queued    *models.SubscriptionRecord
	// Scheduled holds every future ACTIVA period ordered by start.
	Scheduled []models.SubscriptionRecord
	Anomalies []Anomaly
}

// HasEntitlement reports whether a record currently grants access.
func (s State) HasEntitlement() bool {
	return s.Effective != nil
}

// InGrace reports whether access comes from a cancelled, still-paid period.
func (s State) InGrace() bool {
	return s.Effective != nil && s.Effective.Status == enums.SubscriptionStatusCancelada
}

// PlanCode resolves the entitled plan, falling back to freePlanCode when no
// record grants access.
func (s State) PlanCode(freePlanCode string) string {
	if s.Effective == nil {
		return freePlanCode
	}
	return s.Effective.PlanCode
}

// Derive computes the effective, pending and queued views of records at now.
// The input slice is neither reordered nor mutated; returned records are copies.
func Derive(records []models.SubscriptionRecord, now time.Time) State {
	state := State{At: now}

	var current, grace, pending, scheduled []models.SubscriptionRecord
	for _, rec := range records {
		switch rec.Status {
		case enums.SubscriptionStatusActiva:
			switch {
			case startsAfter(rec, now):
				scheduled = append(scheduled, rec)
			case coversInstant(rec, now):
				current = append(current, rec)
			}
		case enums.SubscriptionStatusCancelada:
			if rec.EndsAt != nil && !rec.EndsAt.Before(now) {
				grace = append(grace, rec)
			}
		case enums.SubscriptionStatusPendiente:
			pending = append(pending, rec)
		}
	}

	if len(current) > 0 {
		sortNewestFirst(current)
		state.Effective = copyRecord(current[0])
		if overlapping(current) {
			state.Anomalies = append(state.Anomalies, Anomaly{Kind: AnomalyMultipleActive, RecordIDs: ids(current)})
		}
	} else if len(grace) > 0 {
		sortNewestFirst(grace)
		state.Effective = copyRecord(grace[0])
	}

	if len(pending) > 0 {
		sortNewestFirst(pending)
		state.Pending = copyRecord(pending[0])
		if len(pending) > 1 {
			state.Anomalies = append(state.Anomalies, Anomaly{Kind: AnomalyMultiplePending, RecordIDs: ids(pending)})
		}
	}

	if len(scheduled) > 0 {
		sort.SliceStable(scheduled, func(i, j int) bool {
			a, b := scheduled[i].StartsAt, scheduled[j].StartsAt
			if !a.Equal(*b) {
				return a.Before(*b)
			}
			return newer(scheduled[i], scheduled[j])
		})
		state.Scheduled = scheduled
		state.Queued = copyRecord(scheduled[0])
	}

	return state
}

// EffectiveSubscription returns the record governing entitlement at now, if any.
func EffectiveSubscription(records []models.SubscriptionRecord, now time.Time) *models.SubscriptionRecord {
	return Derive(records, now).Effective
}

// PendingRequest returns the record awaiting verification, if any.
func PendingRequest(records []models.SubscriptionRecord, now time.Time) *models.SubscriptionRecord {
	return Derive(records, now).Pending
}

// QueuedChange returns the earliest approved period that has not started yet.
func QueuedChange(records []models.SubscriptionRecord, now time.Time) *models.SubscriptionRecord {
	return Derive(records, now).Queued
}

func startsAfter(rec models.SubscriptionRecord, now time.Time) bool {
	return rec.StartsAt != nil && rec.StartsAt.After(now)
}

func coversInstant(rec models.SubscriptionRecord, now time.Time) bool {
	if rec.StartsAt != nil && rec.StartsAt.After(now) {
		return false
	}
	if rec.EndsAt != nil && rec.EndsAt.Before(now) {
		return false
	}
	return true
}

func sortNewestFirst(records []models.SubscriptionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return newer(records[i], records[j])
	})
}

// newer orders by creado_en descending with stable fallbacks so the result
// never depends on input order.
func newer(a, b models.SubscriptionRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	as, bs := instantOrZero(a.StartsAt), instantOrZero(b.StartsAt)
	if !as.Equal(bs) {
		return as.After(bs)
	}
	return a.ID.String() > b.ID.String()
}

// overlapping reports whether two current periods share more than a single
// instant. Touching periods (one ends exactly when the next starts) are a
// normal hand-off; an open-ended period overlaps everything it covers.
func overlapping(records []models.SubscriptionRecord) bool {
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if sharesInterval(records[i], records[j]) {
				return true
			}
		}
	}
	return false
}

func sharesInterval(a, b models.SubscriptionRecord) bool {
	// latest start must come strictly before earliest end
	var start *time.Time
	for _, s := range []*time.Time{a.StartsAt, b.StartsAt} {
		if s != nil && (start == nil || s.After(*start)) {
			start = s
		}
	}
	var end *time.Time
	for _, e := range []*time.Time{a.EndsAt, b.EndsAt} {
		if e != nil && (end == nil || e.Before(*end)) {
			end = e
		}
	}
	if start == nil || end == nil {
		return true
	}
	return start.Before(*end)
}

func instantOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func ids(records []models.SubscriptionRecord) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ID)
	}
	return out
}

func copyRecord(rec models.SubscriptionRecord) *models.SubscriptionRecord {
	out := rec
	return &out
}
