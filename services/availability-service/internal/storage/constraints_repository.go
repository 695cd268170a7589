package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/glowslot/libs/db"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/model"
)

var (
	ErrStaffNotFound    = errors.New("staff not found")
	ErrLocationNotFound = errors.New("location not found")
)

type ConstraintRepository struct {
	pool *db.Pool
}

func NewConstraintRepository(pool *db.Pool) *ConstraintRepository {
	return &ConstraintRepository{pool: pool}
}

// BookingFilter selects active bookings starting in [From, To). Empty StaffIDs
// and ResourceIDs select every booking in the range.
type BookingFilter struct {
	From        time.Time
	To          time.Time
	StaffIDs    []string
	ResourceIDs []string
}

func (r *ConstraintRepository) Staff(ctx context.Context, staffID string) (model.Staff, error) {
	var s model.Staff
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, provider_id::text, is_active, COALESCE(NULLIF(timezone, ''), 'UTC')
		FROM staff
		WHERE id = $1
	`, staffID).Scan(&s.ID, &s.ProviderID, &s.IsActive, &s.Timezone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Staff{}, ErrStaffNotFound
		}
		return model.Staff{}, err
	}
	return s, nil
}

// StaffSchedule resolves working hours for the staff member's local date: a
// date override wins over the weekday row, and a missing row means closed.
// Blackouts overlapping the local day are attached.
func (r *ConstraintRepository) StaffSchedule(ctx context.Context, staffID, date string) (model.StaffSchedule, error) {
	staff, err := r.Staff(ctx, staffID)
	if err != nil {
		return model.StaffSchedule{}, err
	}
	if !staff.IsActive {
		return model.StaffSchedule{}, ErrStaffNotFound
	}

	loc, err := time.LoadLocation(staff.Timezone)
	if err != nil {
		loc = time.UTC
		staff.Timezone = "UTC"
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return model.StaffSchedule{}, fmt.Errorf("parse date %q: %w", date, err)
	}

	sched := model.StaffSchedule{StaffID: staffID, Date: date, Timezone: staff.Timezone}

	hours, found, err := r.overrideHours(ctx, staffID, date)
	if err != nil {
		return model.StaffSchedule{}, err
	}
	if !found {
		hours, err = r.weekdayHours(ctx, staffID, int(day.Weekday()))
		if err != nil {
			return model.StaffSchedule{}, err
		}
	}
	sched.Hours = hours

	dayEnd := day.AddDate(0, 0, 1)
	blackouts, err := r.blackouts(ctx, staffID, day.UTC(), dayEnd.UTC())
	if err != nil {
		return model.StaffSchedule{}, err
	}
	sched.Blackouts = blackouts
	return sched, nil
}

func (r *ConstraintRepository) overrideHours(ctx context.Context, staffID, date string) (model.WorkingHours, bool, error) {
	var wh model.WorkingHours
	err := r.pool.QueryRow(ctx, `
		SELECT is_open, COALESCE(open_minute, 0), COALESCE(close_minute, 0)
		FROM staff_schedule_overrides
		WHERE staff_id = $1 AND date = $2::date
	`, staffID, date).Scan(&wh.IsOpen, &wh.OpenMinute, &wh.CloseMinute)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WorkingHours{}, false, nil
		}
		return model.WorkingHours{}, false, err
	}
	return wh, true, nil
}

func (r *ConstraintRepository) weekdayHours(ctx context.Context, staffID string, weekday int) (model.WorkingHours, error) {
	var wh model.WorkingHours
	err := r.pool.QueryRow(ctx, `
		SELECT is_open, COALESCE(open_minute, 0), COALESCE(close_minute, 0)
		FROM staff_working_hours
		WHERE staff_id = $1 AND weekday = $2
	`, staffID, weekday).Scan(&wh.IsOpen, &wh.OpenMinute, &wh.CloseMinute)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WorkingHours{IsOpen: false}, nil
		}
		return model.WorkingHours{}, err
	}
	return wh, nil
}

func (r *ConstraintRepository) blackouts(ctx context.Context, staffID string, from, to time.Time) ([]model.Blackout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, starts_at, ends_at, COALESCE(reason, '')
		FROM staff_blackouts
		WHERE staff_id = $1
			AND ends_at > $2
			AND starts_at < $3
		ORDER BY starts_at ASC
	`, staffID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Blackout
	for rows.Next() {
		var b model.Blackout
		if err := rows.Scan(&b.ID, &b.StartsAt, &b.EndsAt, &b.Reason); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ActiveBookings returns pending and confirmed bookings matching f, newest
// first, with their services and resources attached.
func (r *ConstraintRepository) ActiveBookings(ctx context.Context, f BookingFilter) ([]model.Booking, error) {
	staffIDs := f.StaffIDs
	if staffIDs == nil {
		staffIDs = []string{}
	}
	resourceIDs := f.ResourceIDs
	if resourceIDs == nil {
		resourceIDs = []string{}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT b.id::text,
			COALESCE(b.staff_id::text, ''),
			b.scheduled_at,
			COALESCE(b.duration_minutes, 0),
			b.status,
			COALESCE(b.location_type, 'in_salon')
		FROM bookings b
		WHERE b.status IN ('pending', 'confirmed')
			AND b.scheduled_at >= $1
			AND b.scheduled_at < $2
			AND (
				(cardinality($3::text[]) = 0 AND cardinality($4::text[]) = 0)
				OR b.staff_id::text = ANY($3::text[])
				OR EXISTS (
					SELECT 1 FROM booking_services s
					WHERE s.booking_id = b.id AND s.staff_id::text = ANY($3::text[])
				)
				OR EXISTS (
					SELECT 1 FROM booking_resources br
					WHERE br.booking_id = b.id AND br.resource_id::text = ANY($4::text[])
				)
			)
		ORDER BY b.scheduled_at DESC
	`, f.From, f.To, staffIDs, resourceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	index := map[string]int{}
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.ID, &b.StaffID, &b.ScheduledAt, &b.DurationMinutes, &b.Status, &b.LocationType); err != nil {
			return nil, err
		}
		index[b.ID] = len(bookings)
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if len(bookings) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	if err := r.attachServices(ctx, ids, bookings, index); err != nil {
		return nil, err
	}
	if err := r.attachResources(ctx, ids, bookings, index); err != nil {
		return nil, err
	}
	return bookings, nil
}

const bookingServicesQuery = `
	SELECT booking_id::text,
		COALESCE(staff_id::text, ''),
		COALESCE(duration_minutes, 0),
		COALESCE(buffer_minutes, 0)
	FROM booking_services
	WHERE booking_id::text = ANY($1::text[])
	ORDER BY booking_id, staff_id, duration_minutes
`

const bookingResourcesQuery = `
	SELECT booking_id::text, resource_id::text
	FROM booking_resources
	WHERE booking_id::text = ANY($1::text[])
	ORDER BY booking_id, resource_id
`

func (r *ConstraintRepository) attachServices(ctx context.Context, ids []string, bookings []model.Booking, index map[string]int) error {
	rows, err := r.pool.Query(ctx, bookingServicesQuery, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var bookingID string
		var s model.BookingService
		if err := rows.Scan(&bookingID, &s.StaffID, &s.DurationMinutes, &s.BufferMinutes); err != nil {
			return err
		}
		if i, ok := index[bookingID]; ok {
			bookings[i].Services = append(bookings[i].Services, s)
		}
	}
	return rows.Err()
}

func (r *ConstraintRepository) attachResources(ctx context.Context, ids []string, bookings []model.Booking, index map[string]int) error {
	rows, err := r.pool.Query(ctx, bookingResourcesQuery, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var bookingID, resourceID string
		if err := rows.Scan(&bookingID, &resourceID); err != nil {
			return err
		}
		if i, ok := index[bookingID]; ok {
			bookings[i].ResourceIDs = append(bookings[i].ResourceIDs, resourceID)
		}
	}
	return rows.Err()
}

func (r *ConstraintRepository) LocationType(ctx context.Context, locationID string) (string, error) {
	var lt string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(location_type, 'in_salon')
		FROM locations
		WHERE id = $1
	`, locationID).Scan(&lt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrLocationNotFound
		}
		return "", err
	}
	return lt, nil
}

// StaffInProvider reports whether an active staff member works for providerID.
func (r *ConstraintRepository) StaffInProvider(ctx context.Context, providerID, staffID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM staff WHERE id = $1 AND provider_id = $2 AND is_active
		)
	`, staffID, providerID).Scan(&exists)
	return exists, err
}
