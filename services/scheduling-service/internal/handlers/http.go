package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/storefront/libs/httpx"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/scheduling"
)

// MerchantHeader carries the authenticated merchant id. The gateway sets it
// from the verified token and strips any client-supplied value.
const MerchantHeader = "X-Merchant-Id"

type SchedulingHandler struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewSchedulingHandler(svc *scheduling.Service, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{svc: svc, logger: logger}
}

func (h *SchedulingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/public/stores/{slug}/availability", h.PublicAvailability)
	mux.HandleFunc("POST /api/v1/public/stores/{slug}/bookings", h.CreateBooking)

	mux.HandleFunc("GET /api/v1/merchant/stores/{slug}/availability", h.MerchantAvailability)
	mux.HandleFunc("PUT /api/v1/merchant/stores/{slug}/configurations", h.SaveConfigurations)
	mux.HandleFunc("DELETE /api/v1/merchant/stores/{slug}/configurations/{date}", h.DeleteDate)
	mux.HandleFunc("POST /api/v1/merchant/intervals/{id}/release", h.ReleaseSlot)
	mux.HandleFunc("PUT /api/v1/merchant/stores/{slug}", h.UpsertStorefront)
}

type intervalItem struct {
	ID        string `json:"id,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Available *bool  `json:"available,omitempty"`
}

type dateItem struct {
	Date         string         `json:"date"`
	Closed       bool           `json:"closed"`
	RepeatWeekly bool           `json:"repeat_weekly"`
	Intervals    []intervalItem `json:"intervals"`
}

type availabilityResponse struct {
	Slug  string     `json:"slug"`
	Dates []dateItem `json:"dates"`
}

func toAvailability(slug string, configs []model.DateConfig, merchant bool) availabilityResponse {
	out := availabilityResponse{Slug: slug, Dates: make([]dateItem, 0, len(configs))}
	for _, dc := range configs {
		item := dateItem{
			Date:         dc.Date.String(),
			Closed:       dc.Closed,
			RepeatWeekly: dc.RepeatWeekly,
			Intervals:    make([]intervalItem, 0, len(dc.Intervals)),
		}
		for _, iv := range dc.Intervals {
			it := intervalItem{Start: iv.Start.String(), End: iv.End.String()}
			if merchant {
				available := iv.Available
				it.ID = iv.ID
				it.Available = &available
			}
			item.Intervals = append(item.Intervals, it)
		}
		out.Dates = append(out.Dates, item)
	}
	return out
}

func (h *SchedulingHandler) PublicAvailability(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	window, err := parseWindow(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	configs, err := h.svc.PublicAvailability(r.Context(), slug, window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAvailability(slug, configs, false))
}

func (h *SchedulingHandler) MerchantAvailability(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantFrom(w, r)
	if !ok {
		return
	}
	slug := r.PathValue("slug")
	window, err := parseWindow(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	configs, err := h.svc.MerchantAvailability(r.Context(), merchantID, slug, window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAvailability(slug, configs, true))
}

type saveConfigurationsResponse struct {
	Saved int `json:"saved"`
}

func (h *SchedulingHandler) SaveConfigurations(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantFrom(w, r)
	if !ok {
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var items []scheduling.ConfigInput
	if err := httpx.DecodeJSON(r, &items); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	configs, err := scheduling.ParseConfigs(items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.svc.SaveConfigurations(r.Context(), merchantID, r.PathValue("slug"), window, configs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, saveConfigurationsResponse{Saved: n})
}

func (h *SchedulingHandler) DeleteDate(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantFrom(w, r)
	if !ok {
		return
	}
	date, err := model.ParseDate(r.PathValue("date"))
	if err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{
			Error:  "validation_failed",
			Fields: map[string]string{"date": err.Error()},
		})
		return
	}
	if err := h.svc.DeleteDate(r.Context(), merchantID, r.PathValue("slug"), date); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createBookingRequest struct {
	CustomerID string `json:"customer_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

func (h *SchedulingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	fields := map[string]string{}
	date, err := model.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		fields["date"] = err.Error()
	}
	start, err := model.ParseTimeOfDay(strings.TrimSpace(req.Time))
	if err != nil {
		fields["time"] = err.Error()
	}
	if len(fields) > 0 {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: "validation_failed", Fields: fields})
		return
	}

	booking, err := h.svc.CreateBooking(r.Context(), scheduling.BookingRequest{
		Slug:       r.PathValue("slug"),
		CustomerID: req.CustomerID,
		Date:       date,
		Time:       start,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, booking)
}

func (h *SchedulingHandler) ReleaseSlot(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantFrom(w, r)
	if !ok {
		return
	}
	if err := h.svc.ReleaseSlot(r.Context(), merchantID, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type upsertStorefrontRequest struct {
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	Timezone            string `json:"timezone"`
}

func (h *SchedulingHandler) UpsertStorefront(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantFrom(w, r)
	if !ok {
		return
	}
	var req upsertStorefrontRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	err := h.svc.UpsertStorefront(r.Context(), merchantID, r.PathValue("slug"), scheduling.StorefrontSettings{
		SlotDurationMinutes: req.SlotDurationMinutes,
		Timezone:            req.Timezone,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func merchantFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(MerchantHeader))
	if id == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return id, true
}

// parseWindow reads the optional from/to query parameters.
func parseWindow(r *http.Request) (model.DateRange, error) {
	var window model.DateRange
	verr := &scheduling.ValidationError{Fields: map[string]string{}}
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			verr.Fields["from"] = err.Error()
		}
		window.From = d
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			verr.Fields["to"] = err.Error()
		}
		window.To = d
	}
	if len(verr.Fields) == 0 && !window.From.IsZero() && !window.To.IsZero() && window.To.Before(window.From) {
		verr.Fields["to"] = "must not be before from"
	}
	if len(verr.Fields) > 0 {
		return model.DateRange{}, verr
	}
	return window, nil
}

func (h *SchedulingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *scheduling.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: "validation_failed", Fields: verr.Fields})
	case errors.Is(err, scheduling.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, scheduling.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, scheduling.ErrDuplicateBooking), errors.Is(err, scheduling.ErrSlotUnavailable):
		httpx.WriteError(w, http.StatusBadRequest, "slot_not_available")
	case errors.Is(err, scheduling.ErrNotAvailable):
		httpx.WriteError(w, http.StatusBadRequest, "date_not_available")
	case errors.Is(err, scheduling.ErrAlreadyAvailable):
		httpx.WriteError(w, http.StatusConflict, "already_available")
	default:
		h.logger.Error("request failed", "err", err, "error_kind", scheduling.ErrorKind(err), "path", r.URL.Path)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error")
	}
}
