package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/streamforge/media_orchestrator/internal/download"
	"github.com/streamforge/media_orchestrator/internal/job"
	"github.com/streamforge/media_orchestrator/internal/logctx"
	"github.com/streamforge/media_orchestrator/internal/relay"
	"github.com/streamforge/media_orchestrator/internal/storage"
)

// ownerHeader carries the authenticated owner id, resolved by the API
// gateway in front of this service.
const ownerHeader = "X-Owner-ID"

// Handler exposes the orchestrators to the API layer.
type Handler struct {
	downloads *download.Orchestrator
	relays    *relay.Orchestrator
	schedules storage.ScheduleStore
}

func NewHandler(d *download.Orchestrator, r *relay.Orchestrator, schedules storage.ScheduleStore) *Handler {
	return &Handler{downloads: d, relays: r, schedules: schedules}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requireOwner)

	r.Route("/api/downloads", func(r chi.Router) {
		r.Get("/status", h.DownloadStatus)
		r.Get("/recent", h.RecentDownloads)
		r.Post("/", h.StartDownload)
		r.Delete("/", h.CancelDownload)
	})

	r.Route("/api/relay", func(r chi.Router) {
		r.Get("/status", h.RelayStatus)
		r.Post("/start", h.StartRelay)
		r.Post("/stop", h.StopRelay)
		r.Post("/validate-url", h.ValidateRelayURL)
		r.Get("/events", h.RelayEvents)

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Post("/", h.CreateSchedule)
			r.Delete("/{id}", h.DeleteSchedule)
		})
	})

	return r
}

type ownerKey struct{}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := strconv.ParseInt(r.Header.Get(ownerHeader), 10, 64)
		if err != nil || ownerID <= 0 {
			writeError(w, http.StatusUnauthorized, "missing or invalid owner identity")

			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, ownerID)))
	})
}

func ownerFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(ownerKey{}).(int64)

	return id
}

type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type apiMessage struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		alreadyActive *job.AlreadyActiveError
		validation    *job.ValidationError
		notFound      *job.NotFoundError
		quota         *job.QuotaError
		unauthorized  *job.UnauthorizedError
		tool          *job.ToolUnavailableError
	)

	switch {
	case errors.As(err, &alreadyActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &quota):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &tool):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// =========================================================================
// Downloads

type startDownloadRequest struct {
	URL           string `json:"url"`
	DestinationID int64  `json:"destination_id"`
}

func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())

	var req startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	accepted, err := h.downloads.Start(r.Context(), ownerID, req.URL, req.DestinationID)
	if err != nil {
		writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":           true,
		"download_id":       accepted.JobID,
		"title":             accepted.Title,
		"file_name":         accepted.FileName,
		"estimated_size_mb": accepted.EstimatedSizeMB,
	})
}

func (h *Handler) DownloadStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.downloads.Status(ownerFromContext(r.Context())))
}

func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.downloads.Cancel(r.Context(), ownerFromContext(r.Context())); err != nil {
		writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, apiMessage{Success: true, Message: "download cancelled"})
}

func (h *Handler) RecentDownloads(w http.ResponseWriter, r *http.Request) {
	records, err := h.downloads.Recent(ownerFromContext(r.Context()), 10)
	if err != nil {
		writeDomainError(w, err)

		return
	}

	type recentItem struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		DurationSecs int64  `json:"duration_secs"`
		SizeMB       int64  `json:"size_mb"`
		CreatedAt    string `json:"created_at"`
	}

	items := make([]recentItem, 0, len(records))
	for _, rec := range records {
		items = append(items, recentItem{
			ID:           rec.ID,
			Name:         rec.Name,
			DurationSecs: rec.DurationSecs,
			SizeMB:       (rec.SizeBytes + 1024*1024 - 1) / (1024 * 1024),
			CreatedAt:    rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSON(w, http.StatusOK, items)
}

// =========================================================================
// Relay

type startRelayRequest struct {
	RelayURL  string `json:"relay_url"`
	RelayType string `json:"relay_type"`
	IsManual  bool   `json:"is_manual"`
}

func (h *Handler) StartRelay(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())

	var req startRelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	started, err := h.relays.Start(r.Context(), ownerID, req.RelayURL, relay.Options{
		IsManual:  req.IsManual,
		RelayType: req.RelayType,
	})
	if err != nil {
		writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "relay activated",
		"relay_id":   started.RecordID,
		"session":    started.SessionName,
		"output_url": started.OutputURL,
	})
}

func (h *Handler) StopRelay(w http.ResponseWriter, r *http.Request) {
	if err := h.relays.Stop(r.Context(), ownerFromContext(r.Context())); err != nil {
		writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, apiMessage{Success: true, Message: "relay stopped"})
}

func (h *Handler) RelayStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.relays.Status(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, view)
}

// RelayEvents lists the owner's relay history as a flat event log.
func (h *Handler) RelayEvents(w http.ResponseWriter, r *http.Request) {
	records, err := h.schedules.ListSchedules(ownerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)

		return
	}

	type eventItem struct {
		ID        int64  `json:"id"`
		Level     string `json:"level"`
		Status    string `json:"status"`
		SourceURL string `json:"source_url"`
		Details   string `json:"details,omitempty"`
		StartedAt string `json:"started_at,omitempty"`
		EndedAt   string `json:"ended_at,omitempty"`
	}

	items := make([]eventItem, 0, len(records))
	for _, rec := range records {
		item := eventItem{
			ID:        rec.ID,
			Level:     eventLevel(rec.Status),
			Status:    rec.Status,
			SourceURL: rec.SourceURL,
			Details:   rec.ErrorDetails,
		}

		if !rec.StartedAt.IsZero() {
			item.StartedAt = rec.StartedAt.Format("2006-01-02T15:04:05Z07:00")
		}

		if !rec.EndedAt.IsZero() {
			item.EndedAt = rec.EndedAt.Format("2006-01-02T15:04:05Z07:00")
		}

		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, items)
}

func eventLevel(status string) string {
	switch status {
	case storage.ScheduleStatusError:
		return "error"
	case storage.ScheduleStatusStarting:
		return "warning"
	default:
		return "info"
	}
}

type validateURLRequest struct {
	URL string `json:"url"`
}

func (h *Handler) ValidateRelayURL(w http.ResponseWriter, r *http.Request) {
	var req validateURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if err := relay.ValidateSourceURL(req.URL); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "message": err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "message": "URL accepted"})
}

// =========================================================================
// Schedules

type createScheduleRequest struct {
	SourceURL   string `json:"source_url"`
	Frequency   int    `json:"frequency"`
	Date        string `json:"date"`
	Time        string `json:"time"` // HH:MM
	Weekdays    []int  `json:"weekdays"`
	DurationCap string `json:"duration_cap"`
}

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	logger := logctx.LoggerFromContext(r.Context())

	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	s, err := scheduleFromRequest(ownerID, req)
	if err != nil {
		writeDomainError(w, err)

		return
	}

	id, err := h.schedules.CreateSchedule(s)
	if err != nil {
		writeDomainError(w, err)

		return
	}

	logger.Info("schedule created", "schedule_id", id, "owner_id", ownerID)

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"message":     "schedule created",
		"schedule_id": id,
	})
}

func scheduleFromRequest(ownerID int64, req createScheduleRequest) (storage.RelaySchedule, error) {
	if err := relay.ValidateSourceURL(req.SourceURL); err != nil {
		return storage.RelaySchedule{}, err
	}

	hour, minute, err := parseClock(req.Time)
	if err != nil {
		return storage.RelaySchedule{}, err
	}

	switch req.Frequency {
	case storage.FrequencyOnce:
		if req.Date == "" {
			return storage.RelaySchedule{}, &job.ValidationError{Field: "date", Reason: "required for one-time schedules"}
		}
	case storage.FrequencyDaily:
		// nothing extra
	case storage.FrequencyWeekly:
		if len(req.Weekdays) == 0 {
			return storage.RelaySchedule{}, &job.ValidationError{Field: "weekdays", Reason: "required for weekly schedules"}
		}

		for _, d := range req.Weekdays {
			if d < 1 || d > 7 {
				return storage.RelaySchedule{}, &job.ValidationError{Field: "weekdays", Reason: "days must be 1 (Monday) through 7 (Sunday)"}
			}
		}
	default:
		return storage.RelaySchedule{}, &job.ValidationError{Field: "frequency", Reason: "must be 1 (one-time), 2 (daily) or 3 (weekly)"}
	}

	return storage.RelaySchedule{
		OwnerID:     ownerID,
		SourceURL:   req.SourceURL,
		RelayType:   "auto",
		Status:      storage.ScheduleStatusScheduled,
		Frequency:   req.Frequency,
		OnDate:      req.Date,
		Hour:        hour,
		Minute:      minute,
		Weekdays:    req.Weekdays,
		DurationCap: req.DurationCap,
	}, nil
}

func parseClock(v string) (int, int, error) {
	if len(v) != 5 || v[2] != ':' {
		return 0, 0, &job.ValidationError{Field: "time", Reason: "must be HH:MM"}
	}

	hour, err := strconv.Atoi(v[:2])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, &job.ValidationError{Field: "time", Reason: "hour out of range"}
	}

	minute, err := strconv.Atoi(v[3:])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, &job.ValidationError{Field: "time", Reason: "minute out of range"}
	}

	return hour, minute, nil
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.schedules.ListSchedules(ownerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)

		return
	}

	type scheduleItem struct {
		ID           int64  `json:"id"`
		SourceURL    string `json:"source_url"`
		Frequency    int    `json:"frequency"`
		Date         string `json:"date,omitempty"`
		Hour         int    `json:"hour"`
		Minute       int    `json:"minute"`
		Weekdays     []int  `json:"weekdays,omitempty"`
		Status       string `json:"status"`
		ErrorDetails string `json:"error_details,omitempty"`
	}

	items := make([]scheduleItem, 0, len(schedules))
	for _, s := range schedules {
		items = append(items, scheduleItem{
			ID:           s.ID,
			SourceURL:    s.SourceURL,
			Frequency:    s.Frequency,
			Date:         s.OnDate,
			Hour:         s.Hour,
			Minute:       s.Minute,
			Weekdays:     s.Weekdays,
			Status:       s.Status,
			ErrorDetails: s.ErrorDetails,
		})
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")

		return
	}

	if err := h.schedules.DeleteSchedule(id, ownerID); err != nil {
		writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "schedule deleted",
		"deleted_id": id,
	})
}
