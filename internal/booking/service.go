package booking

import (
	"context"
	"errors"
	"time"

	"github.com/clinicops/clinic-portal/internal/audit"
	"github.com/clinicops/clinic-portal/internal/crm"
	"github.com/clinicops/clinic-portal/internal/patient"
	"github.com/rs/zerolog/log"
)

// Request is a patient's booking attempt.
type Request struct {
	Slot             string `json:"slot"`
	PatientName      string `json:"patientName"`
	PatientBirthDate string `json:"patientBirthDate"`
	InsuranceCode    int    `json:"healthInsuranceCode,omitempty"`
	ConsultationType int    `json:"consultationType"`
	AppointmentType  int    `json:"appointmentType"`
	Notes            string `json:"obs,omitempty"`
}

// Validate checks the fields required before any CRM call. The insurance
// code is optional here: it may come from the patient's CRM record.
func (r Request) Validate() error {
	var fields []string

	if r.Slot == "" {
		fields = append(fields, "slot is required")
	}
	if r.PatientName == "" {
		fields = append(fields, "patientName is required")
	}
	if r.PatientBirthDate == "" {
		fields = append(fields, "patientBirthDate is required")
	} else if _, err := time.Parse(time.DateOnly, r.PatientBirthDate); err != nil {
		fields = append(fields, "patientBirthDate must be YYYY-MM-DD")
	}
	if r.ConsultationType == 0 {
		fields = append(fields, "consultationType is required")
	}
	if r.InsuranceCode < 0 || r.AppointmentType < 0 {
		fields = append(fields, "codes must not be negative")
	}

	if len(fields) > 0 {
		return ValidationError{Fields: fields}
	}
	return nil
}

// CRM is the subset of the CRM client used for slots and reservations.
type CRM interface {
	AvailableSlots(ctx context.Context, startDate, endDate string) ([]crm.Slot, error)
	ReserveSlot(ctx context.Context, slot string, payload crm.BookingPayload) (crm.Confirmation, error)
}

// PatientResolver finds a patient's CRM identity.
type PatientResolver interface {
	Resolve(ctx context.Context, name, birthDate string) (patient.Resolved, error)
}

// Observer records booking outcomes.
type Observer interface {
	ObserveBooking(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveBooking(string) {}

// Service queries availability and executes bookings against the CRM.
type Service struct {
	crm      CRM
	resolver PatientResolver
	observer Observer
}

type Option func(*Service)

func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

func NewService(client CRM, resolver PatientResolver, opts ...Option) *Service {
	s := &Service{
		crm:      client,
		resolver: resolver,
		observer: nopObserver{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// AvailableSlots lists open slots between two YYYY-MM-DD dates, inclusive.
func (s *Service) AvailableSlots(ctx context.Context, startDate, endDate string) ([]crm.Slot, error) {
	var fields []string

	start, startErr := time.Parse(time.DateOnly, startDate)
	if startErr != nil {
		fields = append(fields, "start_date must be YYYY-MM-DD")
	}
	end, endErr := time.Parse(time.DateOnly, endDate)
	if endErr != nil {
		fields = append(fields, "end_date must be YYYY-MM-DD")
	}
	if startErr == nil && endErr == nil && end.Before(start) {
		fields = append(fields, "end_date must not be before start_date")
	}
	if len(fields) > 0 {
		return nil, ValidationError{Fields: fields}
	}

	return s.crm.AvailableSlots(ctx, startDate, endDate)
}

// Book resolves the patient and reserves the slot. The reservation is only
// attempted once the patient has been resolved within the same call. There is
// no retry and no idempotency key: a resubmitted request can double-book.
func (s *Service) Book(ctx context.Context, req Request) (crm.Confirmation, error) {
	if err := req.Validate(); err != nil {
		s.observer.ObserveBooking("invalid")
		return nil, err
	}

	resolved, err := s.resolver.Resolve(ctx, req.PatientName, req.PatientBirthDate)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			s.observer.ObserveBooking("patient_not_found")
			return nil, PatientNotFoundError{Name: req.PatientName, BirthDate: req.PatientBirthDate}
		}
		s.observer.ObserveBooking("upstream_error")
		return nil, err
	}

	audit.Log(ctx).PatientID = resolved.PatientID

	insurance := req.InsuranceCode
	if insurance == 0 {
		insurance = resolved.InsuranceID
	}
	if insurance == 0 {
		s.observer.ObserveBooking("invalid")
		return nil, ValidationError{Fields: []string{"healthInsuranceCode is required: none on the patient's record"}}
	}

	payload := crm.BookingPayload{
		PatientID:        resolved.PatientID,
		InsuranceCode:    insurance,
		ConsultationType: req.ConsultationType,
		AppointmentType:  req.AppointmentType,
		Notes:            req.Notes,
	}

	confirmation, err := s.crm.ReserveSlot(ctx, req.Slot, payload)
	if err != nil {
		s.observer.ObserveBooking("upstream_error")
		return nil, err
	}

	s.observer.ObserveBooking("booked")

	log.Ctx(ctx).Info().
		Str("slot", req.Slot).
		Int("patient_id", resolved.PatientID).
		Int("insurance", insurance).
		Msg("slot booked")

	return confirmation, nil
}
