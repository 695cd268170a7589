package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/glowslot/libs/auth"
	"github.com/md-rashed-zaman/glowslot/libs/httpx"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/loader"
)

// ConstraintLoader supplies the engine with schedules and existing bookings.
type ConstraintLoader interface {
	DayConstraints(ctx context.Context, staffID, date string) (loader.Day, error)
	ConflictCandidates(ctx context.Context, req availability.ConflictCheckRequest) ([]availability.Booking, error)
	LocationType(ctx context.Context, locationID string) (availability.LocationType, error)
	StaffInProvider(ctx context.Context, providerID, staffID string) (bool, error)
}

type Options struct {
	DefaultSlotIntervalMinutes int
	PortalTokenSecret          string
	Now                        func() time.Time
}

type AvailabilityHandler struct {
	loader       ConstraintLoader
	engine       *availability.Engine
	logger       *slog.Logger
	defaultStep  int
	portalSecret string
	now          func() time.Time
}

func NewAvailabilityHandler(l ConstraintLoader, engine *availability.Engine, logger *slog.Logger, opts Options) *AvailabilityHandler {
	if opts.DefaultSlotIntervalMinutes <= 0 {
		opts.DefaultSlotIntervalMinutes = 15
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AvailabilityHandler{
		loader:       l,
		engine:       engine,
		logger:       logger,
		defaultStep:  opts.DefaultSlotIntervalMinutes,
		portalSecret: opts.PortalTokenSecret,
		now:          opts.Now,
	}
}

func (h *AvailabilityHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/availability", httpx.MethodGuard(http.MethodGet, h.Availability))
	mux.HandleFunc("/check-availability", httpx.MethodGuard(http.MethodGet, h.CheckAvailability))
	mux.HandleFunc("/portal/availability", httpx.MethodGuard(http.MethodGet, h.PortalAvailability))
}

type slotsResponse struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

type checkResponse struct {
	Available bool     `json:"available"`
	Conflicts []string `json:"conflicts"`
}

// Availability serves GET /availability?staffId&date&durationMinutes&slotIntervalMinutes[&locationType].
func (h *AvailabilityHandler) Availability(w http.ResponseWriter, r *http.Request) {
	staffID := strings.TrimSpace(r.URL.Query().Get("staffId"))
	if staffID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "staffId is required")
		return
	}
	h.serveSlots(w, r, staffID)
}

// PortalAvailability serves the customer portal. Staff comes from the token,
// or from staffId when the token covers the whole provider.
func (h *AvailabilityHandler) PortalAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	claims, err := auth.VerifyPortalToken(token, h.portalSecret, h.now())
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid portal token")
		return
	}

	requested := strings.TrimSpace(q.Get("staffId"))
	staffID := claims.StaffID
	if staffID != "" {
		if requested != "" && requested != staffID {
			httpx.WriteError(w, http.StatusForbidden, "staff not covered by portal token")
			return
		}
		h.serveSlots(w, r, staffID)
		return
	}

	if requested == "" {
		httpx.WriteError(w, http.StatusBadRequest, "staffId is required")
		return
	}
	if _, err := uuid.Parse(requested); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "staffId must be a UUID")
		return
	}
	ok, err := h.loader.StaffInProvider(r.Context(), claims.ProviderID, requested)
	if err != nil {
		h.logger.Error("portal staff lookup failed", "err", err, "provider_id", claims.ProviderID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load availability")
		return
	}
	if !ok {
		httpx.WriteError(w, http.StatusForbidden, "staff not covered by portal token")
		return
	}
	h.serveSlots(w, r, requested)
}

func (h *AvailabilityHandler) serveSlots(w http.ResponseWriter, r *http.Request, staffID string) {
	req, err := h.slotRequest(r.URL.Query())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if _, err := uuid.Parse(staffID); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "staffId must be a UUID")
		return
	}

	day, err := h.loader.DayConstraints(r.Context(), staffID, req.Date)
	if err != nil {
		if errors.Is(err, loader.ErrStaffNotFound) {
			httpx.WriteJSON(w, http.StatusOK, slotsResponse{Date: req.Date, Slots: []string{}})
			return
		}
		h.logger.Error("load constraints failed", "err", err, "staff_id", staffID, "date", req.Date)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load availability")
		return
	}

	req.Location = day.Location
	res, err := h.engine.GenerateSlots(req, day.Constraints, h.now())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slotsResponse{Date: res.Date, Slots: res.Clocks()})
}

func (h *AvailabilityHandler) slotRequest(q url.Values) (availability.SlotRequest, error) {
	duration, err := intParam(q, "durationMinutes", 0)
	if err != nil {
		return availability.SlotRequest{}, err
	}
	step, err := intParam(q, "slotIntervalMinutes", h.defaultStep)
	if err != nil {
		return availability.SlotRequest{}, err
	}
	lt := availability.LocationType(strings.TrimSpace(q.Get("locationType")))
	travel := 0
	if lt != "" {
		if !lt.Known() {
			return availability.SlotRequest{}, &availability.ValidationError{Field: "locationType", Message: "must be in_salon, at_home or virtual"}
		}
		travel = availability.TravelMinutes(h.engine.Policy(), lt)
	}
	req := availability.SlotRequest{
		Date:                strings.TrimSpace(q.Get("date")),
		DurationMinutes:     duration,
		SlotIntervalMinutes: step,
		TravelBufferMinutes: travel,
	}
	return req, req.Validate()
}

// CheckAvailability serves GET /check-availability?scheduled_at&duration_minutes&staff_ids&location_id[&resource_ids].
func (h *AvailabilityHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var req availability.ConflictCheckRequest
	if raw := strings.TrimSpace(q.Get("scheduled_at")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeErr(w, &availability.ValidationError{Field: "scheduled_at", Message: "must be an RFC3339 timestamp"})
			return
		}
		req.ScheduledAt = t
	}
	duration, err := intParam(q, "duration_minutes", 0)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	req.DurationMinutes = duration
	if req.StaffIDs, err = idList(q.Get("staff_ids"), "staff_ids"); err != nil {
		h.writeErr(w, err)
		return
	}
	if req.ResourceIDs, err = idList(q.Get("resource_ids"), "resource_ids"); err != nil {
		h.writeErr(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeErr(w, err)
		return
	}

	if locationID := strings.TrimSpace(q.Get("location_id")); locationID != "" {
		if _, err := uuid.Parse(locationID); err != nil {
			h.writeErr(w, &availability.ValidationError{Field: "location_id", Message: "must be a UUID"})
			return
		}
		lt, err := h.loader.LocationType(r.Context(), locationID)
		if err != nil {
			if errors.Is(err, loader.ErrLocationNotFound) {
				httpx.WriteError(w, http.StatusNotFound, "location not found")
				return
			}
			h.logger.Error("load location failed", "err", err, "location_id", locationID)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to check availability")
			return
		}
		req.TravelBufferMinutes = availability.TravelMinutes(h.engine.Policy(), lt)
	}

	existing, err := h.loader.ConflictCandidates(r.Context(), req)
	if err != nil {
		h.logger.Error("load bookings failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to check availability")
		return
	}
	res, err := h.engine.CheckConflicts(req, existing)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkResponse{Available: res.Available, Conflicts: res.Conflicts})
}

func (h *AvailabilityHandler) writeErr(w http.ResponseWriter, err error) {
	var vErr *availability.ValidationError
	if errors.As(err, &vErr) {
		httpx.WriteError(w, http.StatusBadRequest, vErr.Error())
		return
	}
	h.logger.Error("availability request failed", "err", err)
	httpx.WriteError(w, http.StatusInternalServerError, "internal error")
}

// intParam returns fallback when the parameter is absent.
func intParam(q url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &availability.ValidationError{Field: name, Message: "must be an integer"}
	}
	return v, nil
}

func idList(raw, field string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := uuid.Parse(part); err != nil {
			return nil, &availability.ValidationError{Field: field, Message: "must be a comma separated list of UUIDs"}
		}
		out = append(out, part)
	}
	return out, nil
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
