// Package handler exposes the fee collection endpoints.
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brightcampus/schoolcore/internal/fees/repository"
	"github.com/brightcampus/schoolcore/internal/fees/service"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/httputil"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

// FeeHandler handles fee payment endpoints.
type FeeHandler struct {
	service *service.FeeService
	logger  *logger.Logger
}

// NewFeeHandler creates a new fee handler.
func NewFeeHandler(svc *service.FeeService, log *logger.Logger) *FeeHandler {
	return &FeeHandler{service: svc, logger: log}
}

// collectBody is the wire shape of a collect request. academic_year_id is a
// legacy alias for academic_session_id, normalized here at the edge so the
// service only ever sees the canonical field.
type collectBody struct {
	service.CollectRequest
	AcademicYearID string `json:"academic_year_id,omitempty"`
}

// Collect handles POST /payments. A replayed idempotency key returns 200
// with the original payment; a new collection returns 201.
func (h *FeeHandler) Collect(w http.ResponseWriter, r *http.Request) {
	var body collectBody
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.Error(w, err)
		return
	}
	if body.AcademicSessionID == "" && body.AcademicYearID != "" {
		body.AcademicSessionID = body.AcademicYearID
	}
	if body.IdempotencyKey == "" {
		body.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	if err := httputil.Validate(&body.CollectRequest); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Collect(r.Context(), &body.CollectRequest)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if result.Created {
		httputil.Created(w, result.Payment)
		return
	}
	httputil.JSON(w, http.StatusOK, result.Payment)
}

// Refund handles POST /payments/{id}/refund.
func (h *FeeHandler) Refund(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")
	if paymentID == "" {
		httputil.Error(w, errors.BadRequest("payment id is required"))
		return
	}

	var body struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&body); err != nil {
		httputil.Error(w, err)
		return
	}

	voidedBy := httputil.GetUserID(r.Context())
	if voidedBy == "" {
		httputil.Error(w, errors.Unauthorized("not authenticated"))
		return
	}

	payment, err := h.service.Refund(r.Context(), paymentID, voidedBy, body.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, payment)
}

// List handles GET /payments with optional student_id, academic_session_id
// (or its academic_year_id alias), status, page, and per_page filters.
func (h *FeeHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("academic_session_id")
	if sessionID == "" {
		sessionID = q.Get("academic_year_id")
	}
	if sessionID == "" {
		sessionID = r.Header.Get("x-academic-session-id")
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	payments, err := h.service.List(r.Context(), repository.ListFilter{
		StudentID:         q.Get("student_id"),
		AcademicSessionID: sessionID,
		Status:            q.Get("status"),
		Limit:             perPage,
		Offset:            (page - 1) * perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, payments, &httputil.Meta{Page: page, PerPage: perPage})
}
