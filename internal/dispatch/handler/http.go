package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/alpescab/internal/dispatch/availability"
	"github.com/example/alpescab/internal/dispatch/domain"
	"github.com/example/alpescab/internal/dispatch/pool"
	"github.com/example/alpescab/internal/dispatch/registry"
	"github.com/example/alpescab/internal/dispatch/service"
)

// HTTP exposes the dispatch operation groups plus the reference-data
// registration endpoints.
type HTTP struct {
	svc   *service.Service
	store *availability.Store
	reg   *registry.Memory
	pool  *pool.Pool
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service, store *availability.Store, reg *registry.Memory, p *pool.Pool) *HTTP {
	return &HTTP{svc: svc, store: store, reg: reg, pool: p}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Post("/v1/availability", h.registerWindow)
	r.Put("/v1/availability/{id}", h.modifyWindow)

	r.Post("/v1/trips", h.requestTrip)
	r.Get("/v1/trips/{id}", h.getTrip)
	r.Post("/v1/trips/{id}/complete", h.completeTrip)

	r.Get("/v1/riders/{id}/trips/open", h.openTrips)
	r.Get("/v1/riders/{id}/history", h.observeHistory)

	r.Get("/v1/reports/top-drivers", h.topDrivers)
	r.Get("/v1/reports/drivers/{id}/earnings", h.driverEarnings)
	r.Get("/v1/reports/cities/{id}/usage", h.cityUsage)

	r.Post("/v1/cities", h.registerCity)
	r.Post("/v1/points", h.registerPoint)
	r.Post("/v1/accounts", h.registerAccount)
	r.Post("/v1/vehicles", h.registerVehicle)
	r.Post("/v1/payment-methods", h.registerPaymentMethod)
	r.Post("/v1/reviews", h.registerReview)

	return r
}

type windowRequest struct {
	VehicleID string `json:"vehicle_id"`
	Day       int    `json:"day"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

func (h *HTTP) registerWindow(w http.ResponseWriter, r *http.Request) {
	var payload windowRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vehicleID, err := uuid.Parse(payload.VehicleID)
	if err != nil {
		http.Error(w, "invalid vehicle_id", http.StatusBadRequest)
		return
	}
	if payload.Day < 0 || payload.Day > 6 {
		http.Error(w, "day must be 0 (Sunday) through 6 (Saturday)", http.StatusBadRequest)
		return
	}
	start, err := domain.ParseClock(payload.Start)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := domain.ParseClock(payload.End)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.reg.ResolveVehicle(r.Context(), vehicleID); err != nil {
		writeError(w, err)
		return
	}

	window, err := h.store.Register(r.Context(), domain.AvailabilityWindow{
		VehicleID: vehicleID,
		Day:       time.Weekday(payload.Day),
		Start:     start,
		End:       end,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, window)
}

func (h *HTTP) modifyWindow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var payload struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, err := domain.ParseClock(payload.Start)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := domain.ParseClock(payload.End)
	if err != nil {
		writeError(w, err)
		return
	}
	window, err := h.store.Modify(r.Context(), id, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, window)
}

type tripRequest struct {
	RiderID        string   `json:"rider_id"`
	Kind           string   `json:"kind"`
	OriginID       string   `json:"origin_id"`
	DestinationIDs []string `json:"destination_ids"`
	EstimatedFare  float64  `json:"estimated_fare"`
}

func (h *HTTP) requestTrip(w http.ResponseWriter, r *http.Request) {
	var payload tripRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	riderID, err := uuid.Parse(payload.RiderID)
	if err != nil {
		http.Error(w, "invalid rider_id", http.StatusBadRequest)
		return
	}
	originID, err := uuid.Parse(payload.OriginID)
	if err != nil {
		http.Error(w, "invalid origin_id", http.StatusBadRequest)
		return
	}
	destinationIDs := make([]uuid.UUID, 0, len(payload.DestinationIDs))
	for _, raw := range payload.DestinationIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid destination id", http.StatusBadRequest)
			return
		}
		destinationIDs = append(destinationIDs, id)
	}

	trip, err := h.svc.RequestTrip(r.Context(), service.RequestTripInput{
		RiderID:        riderID,
		Kind:           domain.TripKind(payload.Kind),
		OriginID:       originID,
		DestinationIDs: destinationIDs,
		EstimatedFare:  payload.EstimatedFare,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (h *HTTP) getTrip(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	trip, err := h.svc.TripByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *HTTP) completeTrip(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var payload struct {
		DistanceKM float64 `json:"distance_km"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trip, err := h.svc.CompleteTrip(r.Context(), id, payload.DistanceKM)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *HTTP) openTrips(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	trips, err := h.svc.OpenTrips(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

func (h *HTTP) observeHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	mode := domain.ParseIsolationMode(r.URL.Query().Get("isolation"))
	obs, err := h.svc.ObserveHistory(r.Context(), id, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (h *HTTP) topDrivers(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	standings, err := h.svc.TopDrivers(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, standings)
}

func (h *HTTP) driverEarnings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	lines, err := h.svc.DriverEarnings(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *HTTP) cityUsage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	usage, err := h.svc.CityUsage(r.Context(), id, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *HTTP) registerCity(w http.ResponseWriter, r *http.Request) {
	var city domain.City
	if err := json.NewDecoder(r.Body).Decode(&city); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.reg.RegisterCity(r.Context(), city)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *HTTP) registerPoint(w http.ResponseWriter, r *http.Request) {
	var point domain.Point
	if err := json.NewDecoder(r.Body).Decode(&point); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.reg.RegisterPoint(r.Context(), point)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *HTTP) registerAccount(w http.ResponseWriter, r *http.Request) {
	var account domain.Account
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.reg.RegisterAccount(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	if created.Kind == domain.KindDriver {
		h.pool.AddDriver(created.ID)
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *HTTP) registerVehicle(w http.ResponseWriter, r *http.Request) {
	var vehicle domain.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&vehicle); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.reg.RegisterVehicle(r.Context(), vehicle)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.pool.AttachVehicle(created.DriverID, created.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *HTTP) registerPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var pm domain.PaymentMethod
	if err := json.NewDecoder(r.Body).Decode(&pm); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.reg.RegisterPaymentMethod(r.Context(), pm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *HTTP) registerReview(w http.ResponseWriter, r *http.Request) {
	var review domain.Review
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := h.svc.TripByID(r.Context(), review.TripID); err != nil {
		writeError(w, err)
		return
	}
	created, err := h.reg.RegisterReview(r.Context(), review)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// writeError maps the domain taxonomy onto HTTP statuses. Dispatch-family
// conflicts all surface as 409 so the caller can decide whether to retry.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrOverlap),
		errors.Is(err, domain.ErrNoDriverAvailable),
		errors.Is(err, domain.ErrNoPaymentMethod),
		errors.Is(err, domain.ErrAlreadyClosed),
		errors.Is(err, domain.ErrAlreadyAvailable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
