package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/clinicops/clinic-portal/internal/audit"
	"github.com/clinicops/clinic-portal/internal/booking"
	"github.com/clinicops/clinic-portal/internal/catalog"
	"github.com/clinicops/clinic-portal/internal/crm"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// Detailer exposes diagnostic detail, usually the upstream response body,
// that is safe to return to the caller.
type Detailer interface {
	Details() string
}

type slotFinder interface {
	AvailableSlots(ctx context.Context, startDate, endDate string) ([]crm.Slot, error)
}

type booker interface {
	Book(ctx context.Context, req booking.Request) (crm.Confirmation, error)
}

type insurerLister interface {
	ListActive(ctx context.Context) ([]crm.InsuranceProvider, error)
}

func handleAvailableSlots(slots slotFinder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		startDate := r.URL.Query().Get("start_date")
		endDate := r.URL.Query().Get("end_date")
		if startDate == "" || endDate == "" {
			writeJSONError(w, http.StatusBadRequest, "start_date and end_date are required", "")
			return
		}

		// CRM calls complete even if the client goes away.
		result, err := slots.AvailableSlots(context.WithoutCancel(r.Context()), startDate, endDate)
		if err != nil {
			writeError(w, r, "slot query failed", err)
			return
		}

		if result == nil {
			result = []crm.Slot{}
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func handleBookSlot(bookings booker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		entry := audit.Log(r.Context())

		var req booking.Request
		if err := decodeJSON(r, &req); err != nil {
			entry.BookingOutcome = "invalid"
			writeError(w, r, "booking request rejected", err)
			return
		}
		entry.BookingSlot = req.Slot

		confirmation, err := bookings.Book(context.WithoutCancel(r.Context()), req)
		if err != nil {
			auditBookingFailure(entry, err)
			writeError(w, r, "booking failed", err)
			return
		}

		entry.BookingOutcome = "booked"
		writeJSON(w, http.StatusOK, confirmation)
	})
}

func auditBookingFailure(entry *audit.Entry, err error) {
	var validation booking.ValidationError
	var notFound booking.PatientNotFoundError
	var rejected crm.UpstreamBookingError

	switch {
	case errors.As(err, &validation):
		entry.BookingOutcome = "invalid"
		entry.MissingFields = validation.Fields
	case errors.As(err, &notFound):
		entry.BookingOutcome = "patient_not_found"
	case errors.As(err, &rejected):
		entry.BookingOutcome = "rejected"
		entry.CRMStatus = rejected.StatusCode
	default:
		entry.BookingOutcome = "upstream_error"
	}

	entry.Error = err.Error()
}

func handleInsurances(insurers insurerLister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		providers, err := insurers.ListActive(context.WithoutCancel(r.Context()))
		if err != nil {
			writeError(w, r, "insurance directory unavailable", err)
			return
		}

		if providers == nil {
			providers = []crm.InsuranceProvider{}
		}
		writeJSON(w, http.StatusOK, providers)
	})
}

func handleBookingOptions(options catalog.Catalog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, options)
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// requestBodyError reports a request body that could not be decoded.
type requestBodyError struct {
	err error
}

func (e requestBodyError) Error() string {
	return fmt.Sprintf("invalid request body: %v", e.err)
}

func (e requestBodyError) Unwrap() error {
	return e.err
}

func (e requestBodyError) Status() (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(e.err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "request body too large"
	}
	return http.StatusBadRequest, "invalid request body"
}

func decodeJSON(r *http.Request, target any) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return requestBodyError{err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Info().Msgf("failed to write response: %v", err)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message, Details: details}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// writeError maps err to its HTTP status and writes it as JSON. Untyped
// errors become a 500 with no detail.
func writeError(w http.ResponseWriter, r *http.Request, action string, err error) {
	status, message := errorStatus(err)

	var details string
	var detailer Detailer
	if errors.As(err, &detailer) {
		details = detailer.Details()
	}

	ev := log.Ctx(r.Context()).Info()
	if status >= http.StatusInternalServerError {
		ev = log.Ctx(r.Context()).Warn()
	}
	ev.Err(err).Int("status", status).Msg(action)

	audit.Log(r.Context()).Error = err.Error()

	writeJSONError(w, status, message, details)
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5MB max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
