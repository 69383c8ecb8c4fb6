package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"security-monitor/internal/model"
	"security-monitor/internal/service"
	"security-monitor/internal/util"
)

// EventHandler handles HTTP requests for the event pipeline
type EventHandler struct {
	events *service.SecurityEventLogger
	logger *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(events *service.SecurityEventLogger, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all event pipeline routes
func (h *EventHandler) RegisterRoutes(router chi.Router) {
	router.Route("/events", func(r chi.Router) {
		r.Post("/", h.LogEvent)
		r.Get("/", h.GetEvents)

		// Typed convenience routes
		r.Post("/auth", h.LogAuthEvent)
		r.Post("/injection", h.LogInjectionAttempt)
		r.Post("/input-validation", h.LogInputValidationViolation)
		r.Post("/api-access", h.LogAPIAccess)
		r.Post("/rate-limit", h.LogRateLimitTrigger)
		r.Post("/payment", h.LogPaymentEvent)
		r.Post("/data-access", h.LogDataAccess)
		r.Post("/admin", h.LogAdminAction)
		r.Post("/config", h.LogConfigChange)
		r.Post("/policy", h.LogPolicyViolation)
		r.Post("/geo-anomaly", h.LogGeographicAnomaly)
		r.Post("/temporal-anomaly", h.LogTemporalAnomaly)
	})

	router.Get("/statistics", h.GetStatistics)

	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.GetAlerts)
		r.Post("/{alertID}/acknowledge", h.AcknowledgeAlert)
		r.Post("/{alertID}/resolve", h.ResolveAlert)
	})

	router.Route("/users", func(r chi.Router) {
		r.Get("/suspicious", h.GetSuspiciousUsers)
		r.Get("/{userID}/profile", h.GetUserBehaviorProfile)
		r.Get("/{userID}/anomaly-profile", h.GetUserAnomalyProfile)
	})
}

// eventRequest is the raw ingestion payload.
type eventRequest struct {
	EventType      string                 `json:"event_type"`
	Severity       string                 `json:"severity"`
	UserID         string                 `json:"user_id"`
	SessionID      string                 `json:"session_id"`
	IPAddress      string                 `json:"ip_address"`
	UserAgent      string                 `json:"user_agent"`
	RequestMethod  string                 `json:"request_method"`
	RequestURL     string                 `json:"request_url"`
	RequestHeaders map[string]string      `json:"request_headers"`
	RequestBody    string                 `json:"request_body"`
	ResponseStatus int                    `json:"response_status"`
	ResponseBody   string                 `json:"response_body"`
	Details        map[string]interface{} `json:"details"`
	Source         string                 `json:"source"`
}

// LogEvent ingests one raw security event
func (h *EventHandler) LogEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	event, err := model.NewSecurityEvent(model.EventType(req.EventType), model.Severity(req.Severity))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid event")
		return
	}
	event.UserID = req.UserID
	event.SessionID = req.SessionID
	event.IPAddress = req.IPAddress
	event.UserAgent = util.SanitizeInput(req.UserAgent)
	event.RequestMethod = req.RequestMethod
	event.RequestURL = req.RequestURL
	event.RequestHeaders = req.RequestHeaders
	event.RequestBody = req.RequestBody
	event.ResponseStatus = req.ResponseStatus
	event.ResponseBody = req.ResponseBody
	event.Source = req.Source
	for k, v := range req.Details {
		event.Details[k] = v
	}

	h.finishLog(w, r, func() (string, error) {
		return h.events.LogEvent(r.Context(), event)
	})
}

// LogAuthEvent ingests an authentication attempt
func (h *EventHandler) LogAuthEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Success   bool   `json:"success"`
		UserID    string `json:"user_id"`
		Username  string `json:"username"`
		IPAddress string `json:"ip_address"`
		UserAgent string `json:"user_agent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogAuthEvent(r.Context(), req.Success, req.UserID, req.Username, req.IPAddress, req.UserAgent)
	})
}

// LogInjectionAttempt ingests a blocked injection payload
func (h *EventHandler) LogInjectionAttempt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType  string `json:"event_type"`
		IPAddress  string `json:"ip_address"`
		RequestURL string `json:"request_url"`
		Payload    string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogInjectionAttempt(r.Context(), model.EventType(req.EventType), req.IPAddress, req.RequestURL, req.Payload)
	})
}

// LogInputValidationViolation ingests a rejected input value
func (h *EventHandler) LogInputValidationViolation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"user_id"`
		IPAddress string `json:"ip_address"`
		Field     string `json:"field"`
		Value     string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogInputValidationViolation(r.Context(), req.UserID, req.IPAddress, req.Field, req.Value)
	})
}

// LogAPIAccess ingests one API request record
func (h *EventHandler) LogAPIAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id"`
		IPAddress      string `json:"ip_address"`
		RequestMethod  string `json:"request_method"`
		RequestURL     string `json:"request_url"`
		ResponseStatus int    `json:"response_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogAPIAccess(r.Context(), req.UserID, req.IPAddress, req.RequestMethod, req.RequestURL, req.ResponseStatus)
	})
}

// LogRateLimitTrigger ingests a rate limiter firing
func (h *EventHandler) LogRateLimitTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id"`
		IPAddress  string `json:"ip_address"`
		RequestURL string `json:"request_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogRateLimitTrigger(r.Context(), req.UserID, req.IPAddress, req.RequestURL)
	})
}

// LogPaymentEvent ingests a payment transaction
func (h *EventHandler) LogPaymentEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID        string  `json:"user_id"`
		IPAddress     string  `json:"ip_address"`
		Amount        float64 `json:"amount"`
		PaymentMethod string  `json:"payment_method"`
		Merchant      string  `json:"merchant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogPaymentEvent(r.Context(), req.UserID, req.IPAddress, req.Amount, req.PaymentMethod, req.Merchant)
	})
}

// LogDataAccess ingests a sensitive data access record
func (h *EventHandler) LogDataAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
		IPAddress string `json:"ip_address"`
		Resource  string `json:"resource"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogDataAccess(r.Context(), req.UserID, req.SessionID, req.IPAddress, req.Resource)
	})
}

// LogAdminAction ingests a privileged operation record
func (h *EventHandler) LogAdminAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string                 `json:"user_id"`
		IPAddress string                 `json:"ip_address"`
		Operation string                 `json:"operation"`
		Details   map[string]interface{} `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogAdminAction(r.Context(), req.UserID, req.IPAddress, req.Operation, req.Details)
	})
}

// LogConfigChange ingests a configuration change record
func (h *EventHandler) LogConfigChange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id"`
		IPAddress  string `json:"ip_address"`
		Category   string `json:"category"`
		Authorized bool   `json:"authorized"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogConfigChange(r.Context(), req.UserID, req.IPAddress, req.Category, req.Authorized)
	})
}

// LogPolicyViolation ingests a policy breach record
func (h *EventHandler) LogPolicyViolation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID        string `json:"user_id"`
		IPAddress     string `json:"ip_address"`
		Violation     string `json:"violation"`
		BypassAttempt bool   `json:"bypass_attempt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogPolicyViolation(r.Context(), req.UserID, req.IPAddress, req.Violation, req.BypassAttempt)
	})
}

// LogGeographicAnomaly ingests an externally detected location anomaly
func (h *EventHandler) LogGeographicAnomaly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string         `json:"user_id"`
		IPAddress   string         `json:"ip_address"`
		Location    model.Location `json:"location"`
		Description string         `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogGeographicAnomaly(r.Context(), req.UserID, req.IPAddress, req.Location, req.Description)
	})
}

// LogTemporalAnomaly ingests an externally detected timing anomaly
func (h *EventHandler) LogTemporalAnomaly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"user_id"`
		IPAddress   string `json:"ip_address"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	h.finishLog(w, r, func() (string, error) {
		return h.events.LogTemporalAnomaly(r.Context(), req.UserID, req.IPAddress, req.Description)
	})
}

// finishLog runs one ingestion call and writes the uniform response.
// Validation failures are 400s; a persistence failure is reported as 500
// but still carries the assigned event_id, since analysis side effects
// have already happened.
func (h *EventHandler) finishLog(w http.ResponseWriter, r *http.Request, log func() (string, error)) {
	eventID, err := log()
	if err != nil {
		if eventID == "" {
			h.respondWithError(w, http.StatusBadRequest, err, "Invalid event")
			return
		}
		h.logger.Error("event ingestion completed with persistence failure",
			util.String("event_id", eventID),
			util.ErrorField(err))
		h.respondWithJSON(w, http.StatusInternalServerError,
			errorResponse(err, fmt.Sprintf("Event %s analyzed but not persisted", eventID)))
		return
	}

	h.respondWithJSON(w, http.StatusCreated,
		successResponse(map[string]string{"event_id": eventID}, "Event logged successfully"))
}

// GetEvents queries stored events with filters
func (h *EventHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid query parameters")
		return
	}

	events, err := h.events.GetEvents(r.Context(), filter)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to query events")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(events, "Events retrieved successfully"))
}

func parseEventFilter(r *http.Request) (model.EventFilter, error) {
	q := r.URL.Query()
	filter := model.EventFilter{
		EventType: model.EventType(q.Get("type")),
		Severity:  model.Severity(q.Get("severity")),
		UserID:    q.Get("user_id"),
		IPAddress: q.Get("ip"),
	}

	if filter.EventType != "" && !filter.EventType.Valid() {
		return filter, fmt.Errorf("invalid event type: %q", filter.EventType)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return filter, fmt.Errorf("invalid severity: %q", filter.Severity)
	}

	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid since timestamp: %w", err)
		}
		filter.Since = ts
	}
	if raw := q.Get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid until timestamp: %w", err)
		}
		filter.Until = ts
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit: %q", raw)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// GetStatistics returns aggregate event counts
func (h *EventHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.events.GetStatistics(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to get statistics")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(stats, "Statistics retrieved successfully"))
}

// GetAlerts returns generated alerts; ?active=true narrows to the active set
func (h *EventHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	alerts := h.events.GetRealTimeAlerts(activeOnly)
	h.respondWithJSON(w, http.StatusOK, successResponse(alerts, "Alerts retrieved successfully"))
}

// AcknowledgeAlert marks an active alert as seen
func (h *EventHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	if !h.events.AcknowledgeAlert(alertID) {
		h.respondWithError(w, http.StatusNotFound, errors.New("alert not active"), "Alert not found")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Alert acknowledged"))
}

// ResolveAlert closes an active alert
func (h *EventHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	if !h.events.ResolveAlert(r.Context(), alertID) {
		h.respondWithError(w, http.StatusNotFound, errors.New("alert not active"), "Alert not found")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Alert resolved"))
}

// GetSuspiciousUsers lists users flagged by behavior analysis
func (h *EventHandler) GetSuspiciousUsers(w http.ResponseWriter, r *http.Request) {
	users := h.events.GetSuspiciousUsers()
	h.respondWithJSON(w, http.StatusOK, successResponse(users, "Suspicious users retrieved successfully"))
}

// GetUserBehaviorProfile returns the rule-based profile for a user
func (h *EventHandler) GetUserBehaviorProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	summary := h.events.GetUserBehaviorProfile(userID)
	if summary == nil {
		h.respondWithError(w, http.StatusNotFound, errors.New("no profile for user"), "User profile not found")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(summary, "User profile retrieved successfully"))
}

// GetUserAnomalyProfile returns the baseline anomaly profile for a user
func (h *EventHandler) GetUserAnomalyProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	snapshot := h.events.GetUserAnomalyProfile(userID)
	if snapshot == nil {
		h.respondWithError(w, http.StatusNotFound, errors.New("no profile for user"), "User profile not found")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(snapshot, "Anomaly profile retrieved successfully"))
}

// Helper Methods

// respondWithJSON sends a JSON response
func (h *EventHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *EventHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}
