package availability

import "time"

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusNoShow    BookingStatus = "no_show"
	StatusCompleted BookingStatus = "completed"
)

// Blocking reports whether bookings in this status occupy staff time.
func (s BookingStatus) Blocking() bool {
	return s == StatusPending || s == StatusConfirmed
}

// ServiceLine is one service performed inside a booking.
type ServiceLine struct {
	StaffID         string
	DurationMinutes int
	BufferMinutes   int
}

// Booking is an existing booking as supplied by the constraint loader.
type Booking struct {
	ID           string
	StaffID      string
	ResourceIDs  []string
	Interval     Interval
	Services     []ServiceLine
	Status       BookingStatus
	LocationType LocationType
}

// Occupied returns the block of time the booking holds before any travel
// buffer. Multiple services run back to back as one continuous block starting
// at the booking start.
func (b Booking) Occupied() Interval {
	if len(b.Services) == 0 {
		return b.Interval
	}
	total := 0
	for _, s := range b.Services {
		if s.DurationMinutes > 0 {
			total += s.DurationMinutes
		}
		if s.BufferMinutes > 0 {
			total += s.BufferMinutes
		}
	}
	if total == 0 {
		return b.Interval
	}
	return Interval{Start: b.Interval.Start, End: b.Interval.Start.Add(time.Duration(total) * time.Minute)}
}

// Effective returns the occupied block expanded by the location buffer.
func (b Booking) Effective(policy BufferPolicy) Interval {
	if policy == nil {
		policy = DefaultBufferPolicy
	}
	pre, post := policy.BufferFor(b.LocationType)
	return Expand(b.Occupied(), pre, post)
}

// StaffIDs is the deduplicated set of staff working on the booking.
func (b Booking) StaffIDs() []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(b.StaffID)
	for _, s := range b.Services {
		add(s.StaffID)
	}
	return out
}

// WorkingHours is the opening window of a staff member on one date.
type WorkingHours struct {
	IsOpen bool
	Open   Clock
	Close  Clock
}

// Constraints is everything the slot generator needs for one staff member on
// one date.
type Constraints struct {
	Hours     WorkingHours
	Bookings  []Booking
	Blackouts []Interval
}
