package availability

import (
	"fmt"
	"time"
)

// ConflictCheckRequest describes a proposed booking. When both StaffIDs and
// ResourceIDs are empty every overlapping booking counts as a conflict.
type ConflictCheckRequest struct {
	ScheduledAt         time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes     int       `json:"duration_minutes" validate:"gt=0,lte=1440"`
	TravelBufferMinutes int       `json:"travel_buffer_minutes" validate:"gte=0,lte=1440"`
	StaffIDs            []string  `json:"staff_ids"`
	ResourceIDs         []string  `json:"resource_ids"`
}

// Interval is the proposed block widened by the travel buffer on both sides.
func (r ConflictCheckRequest) Interval() Interval {
	iv := Interval{Start: r.ScheduledAt, End: r.ScheduledAt.Add(time.Duration(r.DurationMinutes) * time.Minute)}
	return Expand(iv, r.TravelBufferMinutes, r.TravelBufferMinutes)
}

func (r ConflictCheckRequest) Validate() error {
	return validateStruct(r)
}

type ConflictCheckResult struct {
	Available bool
	Conflicts []string
}

// CheckConflicts reports every existing booking that overlaps the proposal and
// shares a staff member or resource with it. Conflicts keep the order of
// existing.
func (e *Engine) CheckConflicts(req ConflictCheckRequest, existing []Booking) (ConflictCheckResult, error) {
	if err := req.Validate(); err != nil {
		return ConflictCheckResult{}, err
	}

	proposed := req.Interval()
	staff := toSet(req.StaffIDs)
	resources := toSet(req.ResourceIDs)
	anyMode := len(staff) == 0 && len(resources) == 0
	loc := req.ScheduledAt.Location()

	conflicts := []string{}
	for _, b := range existing {
		if !b.Status.Blocking() {
			continue
		}
		if !Overlaps(proposed, b.Effective(e.policy)) {
			continue
		}
		if !anyMode && !intersects(staff, b.StaffIDs()) && !intersects(resources, b.ResourceIDs) {
			continue
		}
		conflicts = append(conflicts, describeConflict(b, loc))
	}
	return ConflictCheckResult{Available: len(conflicts) == 0, Conflicts: conflicts}, nil
}

func describeConflict(b Booking, loc *time.Location) string {
	occ := b.Occupied()
	return fmt.Sprintf("Conflicts with booking %s (%s-%s)",
		b.ID,
		occ.Start.In(loc).Format("15:04"),
		occ.End.In(loc).Format("15:04"),
	)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

func intersects(set map[string]struct{}, ids []string) bool {
	if len(set) == 0 {
		return false
	}
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
