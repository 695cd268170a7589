package loader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/glowslot/libs/otel"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrStaffNotFound    = storage.ErrStaffNotFound
	ErrLocationNotFound = storage.ErrLocationNotFound
)

type Store interface {
	StaffSchedule(ctx context.Context, staffID, date string) (model.StaffSchedule, error)
	ActiveBookings(ctx context.Context, f storage.BookingFilter) ([]model.Booking, error)
	LocationType(ctx context.Context, locationID string) (string, error)
	StaffInProvider(ctx context.Context, providerID, staffID string) (bool, error)
}

type ScheduleCache interface {
	Get(ctx context.Context, staffID, date string) (model.StaffSchedule, bool, error)
	Put(ctx context.Context, sched model.StaffSchedule) error
}

// Day is everything needed to generate slots for one staff member on one date.
type Day struct {
	Location    *time.Location
	Constraints availability.Constraints
}

type Loader struct {
	store  Store
	cache  ScheduleCache
	logger *slog.Logger
	margin time.Duration
	tracer trace.Tracer
}

// New builds a loader. maxBooking bounds how long an existing booking can run,
// so bookings that started before the window are still fetched.
func New(store Store, cache ScheduleCache, logger *slog.Logger, maxBooking time.Duration) *Loader {
	if maxBooking <= 0 {
		maxBooking = 8 * time.Hour
	}
	return &Loader{
		store:  store,
		cache:  cache,
		logger: logger,
		margin: maxBooking,
		tracer: otelx.Tracer("availability-service/loader"),
	}
}

func (l *Loader) schedule(ctx context.Context, staffID, date string) (model.StaffSchedule, error) {
	if l.cache != nil {
		sched, ok, err := l.cache.Get(ctx, staffID, date)
		if err != nil {
			l.logger.Warn("schedule cache read failed", "err", err, "staff_id", staffID)
		} else if ok {
			return sched, nil
		}
	}
	sched, err := l.store.StaffSchedule(ctx, staffID, date)
	if err != nil {
		return model.StaffSchedule{}, err
	}
	if l.cache != nil {
		if err := l.cache.Put(ctx, sched); err != nil {
			l.logger.Warn("schedule cache write failed", "err", err, "staff_id", staffID)
		}
	}
	return sched, nil
}

// DayConstraints loads the hours, blackouts and active bookings of a staff
// member for one local date.
func (l *Loader) DayConstraints(ctx context.Context, staffID, date string) (Day, error) {
	ctx, span := l.tracer.Start(ctx, "loader.day_constraints", trace.WithAttributes(
		attribute.String("staff.id", staffID),
		attribute.String("availability.date", date),
	))
	defer span.End()

	sched, err := l.schedule(ctx, staffID, date)
	if err != nil {
		recordErr(span, err)
		return Day{}, err
	}
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		recordErr(span, err)
		return Day{}, err
	}

	records, err := l.store.ActiveBookings(ctx, storage.BookingFilter{
		From:     day.Add(-l.margin),
		To:       day.AddDate(0, 0, 1),
		StaffIDs: []string{staffID},
	})
	if err != nil {
		recordErr(span, err)
		return Day{}, err
	}

	c := availability.Constraints{
		Hours: availability.WorkingHours{
			IsOpen: sched.Hours.IsOpen,
			Open:   availability.Clock(sched.Hours.OpenMinute),
			Close:  availability.Clock(sched.Hours.CloseMinute),
		},
		Bookings: toBookings(records),
	}
	for _, b := range sched.Blackouts {
		c.Blackouts = append(c.Blackouts, availability.Interval{Start: b.StartsAt, End: b.EndsAt})
	}
	span.SetAttributes(
		attribute.Int("availability.bookings", len(c.Bookings)),
		attribute.Int("availability.blackouts", len(c.Blackouts)),
	)
	return Day{Location: loc, Constraints: c}, nil
}

// ConflictCandidates returns active bookings that could overlap the proposed
// interval for the requested staff and resources.
func (l *Loader) ConflictCandidates(ctx context.Context, req availability.ConflictCheckRequest) ([]availability.Booking, error) {
	ctx, span := l.tracer.Start(ctx, "loader.conflict_candidates", trace.WithAttributes(
		attribute.StringSlice("staff.ids", req.StaffIDs),
		attribute.StringSlice("resource.ids", req.ResourceIDs),
	))
	defer span.End()

	iv := req.Interval()
	records, err := l.store.ActiveBookings(ctx, storage.BookingFilter{
		From:        iv.Start.Add(-l.margin),
		To:          iv.End.Add(l.margin),
		StaffIDs:    req.StaffIDs,
		ResourceIDs: req.ResourceIDs,
	})
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("availability.candidates", len(records)))
	return toBookings(records), nil
}

func (l *Loader) LocationType(ctx context.Context, locationID string) (availability.LocationType, error) {
	lt, err := l.store.LocationType(ctx, locationID)
	if err != nil {
		return "", err
	}
	return availability.LocationType(lt), nil
}

func (l *Loader) StaffInProvider(ctx context.Context, providerID, staffID string) (bool, error) {
	return l.store.StaffInProvider(ctx, providerID, staffID)
}

func toBookings(records []model.Booking) []availability.Booking {
	out := make([]availability.Booking, 0, len(records))
	for _, r := range records {
		b := availability.Booking{
			ID:           r.ID,
			StaffID:      r.StaffID,
			ResourceIDs:  r.ResourceIDs,
			Interval:     availability.Interval{Start: r.ScheduledAt, End: r.ScheduledAt.Add(time.Duration(r.DurationMinutes) * time.Minute)},
			Status:       availability.BookingStatus(r.Status),
			LocationType: availability.LocationType(r.LocationType),
		}
		for _, s := range r.Services {
			b.Services = append(b.Services, availability.ServiceLine{
				StaffID:         s.StaffID,
				DurationMinutes: s.DurationMinutes,
				BufferMinutes:   s.BufferMinutes,
			})
		}
		out = append(out, b)
	}
	return out
}

func recordErr(span trace.Span, err error) {
	if errors.Is(err, ErrStaffNotFound) || errors.Is(err, ErrLocationNotFound) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
