package availability

import "time"

const dateLayout = "2006-01-02"

// SlotRequest asks for every start time on Date at which a booking of
// DurationMinutes fits. TravelBufferMinutes widens each candidate on both sides.
type SlotRequest struct {
	Date                string `json:"date" validate:"required,datetime=2006-01-02"`
	Location            *time.Location
	DurationMinutes     int `json:"durationMinutes" validate:"gt=0,lte=1440"`
	SlotIntervalMinutes int `json:"slotIntervalMinutes" validate:"gt=0,lte=1440"`
	TravelBufferMinutes int `json:"travelBufferMinutes" validate:"gte=0,lte=1440"`
}

// Validate checks the request shape without touching any constraints.
func (r SlotRequest) Validate() error {
	return validateStruct(r)
}

func (r SlotRequest) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// AvailabilityResult holds slot start instants in chronological order.
type AvailabilityResult struct {
	Date     string
	Location *time.Location
	Slots    []time.Time
}

// Clocks formats the slots as HH:MM in the request location.
func (r AvailabilityResult) Clocks() []string {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	out := make([]string, 0, len(r.Slots))
	for _, s := range r.Slots {
		out = append(out, s.In(loc).Format("15:04"))
	}
	return out
}

// Engine evaluates slot and conflict questions against constraints supplied by
// the caller. It keeps no state between calls and is safe for concurrent use.
type Engine struct {
	policy BufferPolicy
}

func NewEngine(policy BufferPolicy) *Engine {
	if policy == nil {
		policy = DefaultBufferPolicy
	}
	return &Engine{policy: policy}
}

func (e *Engine) Policy() BufferPolicy {
	return e.policy
}

// GenerateSlots walks candidate starts from the opening time (rounded up to the
// slot grid counted from local midnight) until a booking of the requested
// duration would pass closing time, and keeps those whose buffered interval is
// clear of every blocking booking and blackout. A candidate is offered only if
// it has not started yet: starts before now are dropped, even when the
// candidate would still be running.
// Open and close are resolved to instants once and the walk advances in
// absolute time, so a daylight saving shift never repeats or reorders slots.
// A closed day, a window shorter than the duration, or a fully booked day yield
// an empty result, never an error.
func (e *Engine) GenerateSlots(req SlotRequest, c Constraints, now time.Time) (AvailabilityResult, error) {
	if err := req.Validate(); err != nil {
		return AvailabilityResult{}, err
	}
	loc := req.location()
	day, err := time.ParseInLocation(dateLayout, req.Date, loc)
	if err != nil {
		return AvailabilityResult{}, &ValidationError{Field: "date", Message: "must be a date formatted as " + dateLayout}
	}

	res := AvailabilityResult{Date: req.Date, Location: loc, Slots: []time.Time{}}
	hours := c.Hours
	if !hours.IsOpen || hours.Close <= hours.Open {
		return res, nil
	}

	step := time.Duration(req.SlotIntervalMinutes) * time.Minute
	duration := time.Duration(req.DurationMinutes) * time.Minute
	first := Clock(roundUp(int(hours.Open), req.SlotIntervalMinutes))
	if first >= hours.Close {
		return res, nil
	}
	closeAt := hours.Close.On(day)

	busy := e.busyIntervals(c)
	for start := first.On(day); !start.Add(duration).After(closeAt); start = start.Add(step) {
		if start.Before(now) {
			continue
		}
		candidate := Expand(Interval{Start: start, End: start.Add(duration)}, req.TravelBufferMinutes, req.TravelBufferMinutes)
		if overlapsAny(candidate, busy) {
			continue
		}
		res.Slots = append(res.Slots, start)
	}
	return res, nil
}

func (e *Engine) busyIntervals(c Constraints) []Interval {
	busy := make([]Interval, 0, len(c.Bookings)+len(c.Blackouts))
	for _, b := range c.Bookings {
		if !b.Status.Blocking() {
			continue
		}
		busy = append(busy, b.Effective(e.policy))
	}
	for _, bl := range c.Blackouts {
		if bl.End.After(bl.Start) {
			busy = append(busy, bl)
		}
	}
	return busy
}

func overlapsAny(iv Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(iv, b) {
			return true
		}
	}
	return false
}

func roundUp(v, step int) int {
	if rem := v % step; rem != 0 {
		return v + step - rem
	}
	return v
}
