package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/app"
	"github.com/openhall/hiringhall/internal/metrics"
	"github.com/openhall/hiringhall/internal/models"
)

type DispatchHandler struct {
	service *app.Service
}

func NewDispatchHandler(service *app.Service) *DispatchHandler {
	return &DispatchHandler{
		service: service,
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *DispatchHandler) HandleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.APIRequestDuration.WithLabelValues(
			r.URL.Path,
			r.Method,
			"200",
		).Observe(duration)
	}()

	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	var req models.LaborRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	deferred, err := h.service.Engine.SubmitRequest(r.Context(), &req, h.service.Actor(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"request":  &req,
		"deferred": deferred,
	})
}

func (h *DispatchHandler) HandleCancelRequest(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid request id", http.StatusBadRequest)
		return
	}

	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Engine.CancelRequest(r.Context(), id, h.service.Actor(r), payload.Reason); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleDispatch fills one open request immediately, outside the morning
// sweep: by-name when the request names someone, head of the queue otherwise.
func (h *DispatchHandler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid request id", http.StatusBadRequest)
		return
	}

	d, err := h.service.Engine.Dispatch(r.Context(), id, h.service.Actor(r))
	if err != nil {
		if errors.Is(err, models.ErrConcurrentAssignmentConflict) {
			metrics.AssignmentConflictsTotal.Inc()
		}
		respondDomainError(w, err)
		return
	}
	if d == nil {
		http.Error(w, "No eligible candidate on the book", http.StatusConflict)
		return
	}

	metrics.DispatchesTotal.WithLabelValues(d.Book, "direct").Inc()

	writeJSON(w, d)
}

func (h *DispatchHandler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid dispatch id", http.StatusBadRequest)
		return
	}

	var payload struct {
		Reason   models.TerminationReason `json:"reason"`
		Downsize bool                     `json:"downsize"`
		Detail   string                   `json:"detail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Engine.Terminate(r.Context(), id, payload.Reason, payload.Downsize, h.service.Actor(r), payload.Detail); err != nil {
		respondDomainError(w, err)
		return
	}

	d, err := h.service.Store.GetDispatch(id)
	if err == nil && d != nil {
		metrics.TerminationsTotal.WithLabelValues(d.Book, string(payload.Reason)).Inc()
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleSubmitBid takes a member's overnight bid. The member comes from the
// portal header and must present a valid portal token when auth is on.
func (h *DispatchHandler) HandleSubmitBid(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid request id", http.StatusBadRequest)
		return
	}

	member := r.Header.Get(h.service.Config.API.MemberIDHeader)
	if member == "" {
		http.Error(w, "Invalid member id specified", http.StatusUnauthorized)
		return
	}

	if err := h.service.ValidateAuthAndMember(r, member); err != nil {
		logger.Error.Printf("Auth failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	bid, err := h.service.Engine.SubmitBid(r.Context(), member, id)
	if err != nil {
		metrics.BidsTotal.WithLabelValues("refused").Inc()
		respondDomainError(w, err)
		return
	}

	metrics.BidsTotal.WithLabelValues("submitted").Inc()

	writeJSON(w, bid)
}

func (h *DispatchHandler) HandleWithdrawBid(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid request id", http.StatusBadRequest)
		return
	}

	member := r.Header.Get(h.service.Config.API.MemberIDHeader)
	if member == "" {
		http.Error(w, "Invalid member id specified", http.StatusUnauthorized)
		return
	}

	if err := h.service.ValidateAuthAndMember(r, member); err != nil {
		logger.Error.Printf("Auth failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.service.Engine.WithdrawBid(r.Context(), member, id); err != nil {
		respondDomainError(w, err)
		return
	}

	metrics.BidsTotal.WithLabelValues("withdrawn").Inc()

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *DispatchHandler) HandleMemberDispatches(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	member := r.PathValue("member")
	dispatches, err := h.service.Store.ListMemberDispatches(member)
	if err != nil {
		logger.Error.Printf("Failed to list dispatches for %s: %v", member, err)
		http.Error(w, "Failed to fetch dispatches", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"rows": dispatches,
	})
}

// HandleBookStats serves the per-member dispatch aggregation for one book
// over a window. Defaults to the trailing year.
func (h *DispatchHandler) HandleBookStats(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	includeHumanDttm := r.URL.Query().Get("human_dttm") == "true"
	until := time.Now().UTC()
	since := until.AddDate(-1, 0, 0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "Invalid since date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	if v := r.URL.Query().Get("until"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "Invalid until date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		until = parsed
	}

	stats, err := h.service.GetDispatchStats(r.PathValue("book"), since, until, includeHumanDttm)
	if err != nil {
		logger.Error.Printf("Failed to fetch stats: %v", err)
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"stats": stats,
	})
}

// HandlePortalToken issues or refreshes the calling member's portal token.
// Only meaningful when auth is enabled; otherwise the portal is open.
func (h *DispatchHandler) HandlePortalToken(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	if h.service.Tokens == nil {
		http.Error(w, "Portal auth is disabled", http.StatusServiceUnavailable)
		return
	}

	member := r.PathValue("member")
	info, created, err := h.service.Tokens.FetchOrCreateMemberToken(r.Context(), member)
	if err != nil {
		logger.Error.Printf("Failed to issue portal token for %s: %v", member, err)
		http.Error(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
	}
}
