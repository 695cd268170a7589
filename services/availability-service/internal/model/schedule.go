package model

import "time"

type Staff struct {
	ID         string
	ProviderID string
	IsActive   bool
	Timezone   string
}

type WorkingHours struct {
	IsOpen      bool `json:"is_open"`
	OpenMinute  int  `json:"open_minute"`
	CloseMinute int  `json:"close_minute"`
}

type Blackout struct {
	ID       string    `json:"id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Reason   string    `json:"reason,omitempty"`
}

// StaffSchedule is a staff member's opening hours and time off for one local date.
type StaffSchedule struct {
	StaffID   string       `json:"staff_id"`
	Date      string       `json:"date"`
	Timezone  string       `json:"timezone"`
	Hours     WorkingHours `json:"hours"`
	Blackouts []Blackout   `json:"blackouts,omitempty"`
}

type BookingService struct {
	StaffID         string
	DurationMinutes int
	BufferMinutes   int
}

type Booking struct {
	ID              string
	StaffID         string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          string
	LocationType    string
	Services        []BookingService
	ResourceIDs     []string
}
