package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/app"
	"github.com/openhall/hiringhall/internal/metrics"
	"github.com/openhall/hiringhall/internal/models"
)

type ReferralHandler struct {
	service *app.Service
}

func NewReferralHandler(service *app.Service) *ReferralHandler {
	return &ReferralHandler{
		service: service,
	}
}

// respondDomainError maps the referral rule taxonomy onto HTTP statuses.
// Domain refusals are expected outcomes and never hit the error log;
// anything else is an infrastructure failure and does.
func respondDomainError(w http.ResponseWriter, err error) {
	if !models.IsDomainErr(err) {
		logger.Error.Printf("ERROR: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, models.ErrBookNotFound),
		errors.Is(err, models.ErrMemberNotFound),
		errors.Is(err, models.ErrRequestNotFound),
		errors.Is(err, models.ErrDispatchNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConcurrentAssignmentConflict),
		errors.Is(err, models.ErrDuplicateActiveRegistration),
		errors.Is(err, models.ErrBidAlreadySubmitted),
		errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, models.ErrBlackoutActive),
		errors.Is(err, models.ErrBidSuspended),
		errors.Is(err, models.ErrNotEligible):
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *ReferralHandler) HandleCreateBook(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	var book models.Book
	if err := json.NewDecoder(r.Body).Decode(&book); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if book.Status == "" {
		book.Status = models.BookActive
	}
	if err := book.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.Store.CreateBook(&book, h.service.Actor(r)); err != nil {
		respondDomainError(w, err)
		return
	}

	writeJSON(w, &book)
}

func (h *ReferralHandler) HandleBookStatus(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	var payload struct {
		Status models.BookStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	book := r.PathValue("book")
	if err := h.service.Store.SetBookStatus(book, payload.Status, h.service.Actor(r)); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *ReferralHandler) HandleBookSummary(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	rows, err := h.service.Store.FetchBookSummary()
	if err != nil {
		logger.Error.Printf("Failed to fetch book summary: %v", err)
		http.Error(w, "Failed to fetch book summary", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"rows": rows,
	})
}

func (h *ReferralHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	book := r.PathValue("book")
	candidates, err := h.service.Engine.Queue(r.Context(), book)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"book": book,
		"rows": candidates,
	})
}

func (h *ReferralHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	var payload struct {
		MemberID string `json:"member_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	book := r.PathValue("book")
	reg, err := h.service.Engine.Register(r.Context(), payload.MemberID, book, h.service.Actor(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	metrics.RegistrationsTotal.WithLabelValues(book).Inc()

	writeJSON(w, reg)
}

func (h *ReferralHandler) HandleReSign(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	var payload struct {
		MemberID string `json:"member_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Engine.ReSign(r.Context(), payload.MemberID, r.PathValue("book"), h.service.Actor(r)); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *ReferralHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	var payload struct {
		MemberID string `json:"member_id"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Engine.Resign(r.Context(), payload.MemberID, r.PathValue("book"), h.service.Actor(r), payload.Reason); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *ReferralHandler) HandleMemberRegistrations(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	member := r.PathValue("member")
	regs, err := h.service.Store.ListMemberRegistrations(member)
	if err != nil {
		logger.Error.Printf("Failed to list registrations for %s: %v", member, err)
		http.Error(w, "Failed to fetch registrations", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"rows": regs,
	})
}

func (h *ReferralHandler) HandleOpenExemption(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	var payload struct {
		Reason models.ExemptionReason `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ex, err := h.service.Engine.Exempt(r.Context(), r.PathValue("member"), payload.Reason, h.service.Actor(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	writeJSON(w, ex)
}

func (h *ReferralHandler) HandleEndExemption(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusForbidden)
		return
	}

	if err := h.service.Engine.EndExemption(r.Context(), r.PathValue("member"), h.service.Actor(r)); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *ReferralHandler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if !h.service.ValidateHeaders(r.Header) {
		http.Error(w, "these are not the droids you are looking for", http.StatusNotFound)
		return
	}

	events, err := h.service.Store.ListAuditTrail(r.PathValue("entity_type"), r.PathValue("entity_id"), 200)
	if err != nil {
		logger.Error.Printf("Failed to list audit trail: %v", err)
		http.Error(w, "Failed to fetch audit trail", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"rows": events,
	})
}
