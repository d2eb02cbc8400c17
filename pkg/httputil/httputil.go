package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/i18n"
)

// Response is the wire envelope every endpoint returns:
// {success, message, data, errors[]}. Errors is empty on success; Data is
// absent on failure.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Errors  []ErrorBody `json:"errors"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorBody is one entry of the errors array. Field is set for per-field
// validation failures.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Meta contains pagination and other metadata
type Meta struct {
	Page       int   `json:"page,omitempty"`
	PerPage    int   `json:"per_page,omitempty"`
	Total      int64 `json:"total,omitempty"`
	TotalPages int   `json:"total_pages,omitempty"`
}

// JSON sends a success envelope with the default OK message.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	JSONMessage(w, statusCode, "OK", data)
}

// JSONMessage sends a success envelope with an explicit message.
func JSONMessage(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(Response{
		Success: statusCode >= 200 && statusCode < 300,
		Message: message,
		Data:    data,
		Errors:  []ErrorBody{},
	})
}

// JSONWithMeta sends a success envelope with pagination metadata.
func JSONWithMeta(w http.ResponseWriter, statusCode int, data interface{}, meta *Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(Response{
		Success: statusCode >= 200 && statusCode < 300,
		Message: "OK",
		Data:    data,
		Errors:  []ErrorBody{},
		Meta:    meta,
	})
}

// errorEntries flattens an AppError into the errors array: the primary code
// plus one per-field entry for each validation detail.
func errorEntries(appErr *errors.AppError, message string) []ErrorBody {
	entries := []ErrorBody{{Code: appErr.Code, Message: message}}
	for field, msg := range appErr.Details {
		entries = append(entries, ErrorBody{Code: appErr.Code, Message: msg, Field: field})
	}
	return entries
}

// Error sends an error envelope (uses default locale)
func Error(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(appErr.StatusCode)

		json.NewEncoder(w).Encode(Response{
			Success: false,
			Message: appErr.Message,
			Errors:  errorEntries(appErr, appErr.Message),
		})
		return
	}

	// Default to internal server error
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)

	json.NewEncoder(w).Encode(Response{
		Success: false,
		Message: "an unexpected error occurred",
		Errors:  []ErrorBody{{Code: "INTERNAL_ERROR", Message: "an unexpected error occurred"}},
	})
}

// ErrorLocalized sends a localized error envelope using the request context
func ErrorLocalized(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(appErr.StatusCode)

		message := appErr.Localize(r.Context())
		json.NewEncoder(w).Encode(Response{
			Success: false,
			Message: message,
			Errors:  errorEntries(appErr, message),
		})
		return
	}

	localizer := i18n.LocalizerFromContext(r.Context())
	message := localizer.T("errors.internal")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)

	json.NewEncoder(w).Encode(Response{
		Success: false,
		Message: message,
		Errors:  []ErrorBody{{Code: "INTERNAL_ERROR", Message: message}},
	})
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created envelope
func Created(w http.ResponseWriter, data interface{}) {
	JSONMessage(w, http.StatusCreated, "created", data)
}

// DecodeJSON decodes the request body into the provided struct
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.BadRequest("invalid JSON body")
	}
	return nil
}

// DecodeJSONLocalized decodes the request body with localized error
func DecodeJSONLocalized(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		localizer := i18n.LocalizerFromContext(r.Context())
		return errors.BadRequest(localizer.T("errors.invalid_json"))
	}
	return nil
}
