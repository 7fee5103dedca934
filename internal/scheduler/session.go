package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/clinicops/clinic-portal/internal/booking"
	"github.com/clinicops/clinic-portal/internal/catalog"
	"github.com/clinicops/clinic-portal/internal/crm"
)

// Backend is the portal API the session talks to.
type Backend interface {
	AvailableSlots(ctx context.Context, startDate, endDate string) ([]crm.Slot, error)
	Insurances(ctx context.Context) ([]crm.InsuranceProvider, error)
	BookingOptions(ctx context.Context) (catalog.Catalog, error)
	Book(ctx context.Context, req booking.Request) (crm.Confirmation, error)
}

// Session drives one patient through choosing a date and slot, filling in the
// form and booking. Network failures leave the session in an error state
// that keeps the chosen date and slot, so Retry needs no re-navigation.
//
// Events may be sent from several goroutines. Backend calls are made without
// holding the session lock; a date selected while another is still loading
// supersedes it.
type Session struct {
	backend Backend

	mu           sync.Mutex
	state        State
	date         string
	generation   int
	slots        []crm.Slot
	slot         crm.Slot
	form         Form
	insurers     []crm.InsuranceProvider
	options      *catalog.Catalog
	err          error
	confirmation crm.Confirmation
}

func NewSession(backend Backend) *Session {
	return &Session{
		backend: backend,
		state:   Idle,
	}
}

// Load fetches the insurance directory and booking options used to validate
// the form. It may be called again to refresh them.
func (s *Session) Load(ctx context.Context) error {
	insurers, insErr := s.backend.Insurances(ctx)
	options, optErr := s.backend.BookingOptions(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if insErr == nil {
		s.insurers = insurers
	}
	if optErr == nil {
		s.options = &options
	}

	return errors.Join(insErr, optErr)
}

// SelectDate loads the open slots for one day (YYYY-MM-DD). It is valid in
// any state except while a booking is in flight, and clears any chosen slot.
func (s *Session) SelectDate(ctx context.Context, date string) error {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return fmt.Errorf("date %q is not YYYY-MM-DD", date)
	}

	s.mu.Lock()
	if s.state == Booking || s.state == FormValidating {
		state := s.state
		s.mu.Unlock()
		return TransitionError{Event: "select a date", State: state}
	}
	s.generation++
	generation := s.generation
	s.state = SlotsLoading
	s.date = date
	s.slot = ""
	s.slots = nil
	s.err = nil
	s.mu.Unlock()

	slots, err := s.backend.AvailableSlots(ctx, date, date)

	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		// a later selection owns the session now
		return nil
	}

	switch {
	case err != nil:
		s.state = SlotsError
		s.err = err
	case len(slots) == 0:
		s.state = SlotsEmpty
	default:
		s.state = SlotsReady
		s.slots = slots
	}

	return err
}

// SelectSlot chooses one of the loaded slots and opens the form.
func (s *Session) SelectSlot(slot crm.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SlotsReady, SlotSelected, BookingError:
	default:
		return TransitionError{Event: "select a slot", State: s.state}
	}

	if !slices.Contains(s.slots, slot) {
		return fmt.Errorf("slot %q is not available on %s", slot, s.date)
	}

	s.slot = slot
	s.state = SlotSelected
	s.err = nil
	return nil
}

// Submit validates the form and books the chosen slot. An invalid form
// returns a FormError and leaves the slot selected. On success the booked
// slot is removed from the day's list.
func (s *Session) Submit(ctx context.Context, form Form) error {
	s.mu.Lock()
	if s.state != SlotSelected {
		state := s.state
		s.mu.Unlock()
		return TransitionError{Event: "submit", State: state}
	}

	s.state = FormValidating
	insurer, err := validateForm(form, s.insurers, s.options)
	if err != nil {
		s.state = SlotSelected
		s.mu.Unlock()
		return err
	}

	s.form = form
	s.state = Booking
	req := booking.Request{
		Slot:             string(s.slot),
		PatientName:      form.PatientName,
		PatientBirthDate: form.PatientBirthDate,
		InsuranceCode:    insurer.ID,
		ConsultationType: form.ConsultationType,
		AppointmentType:  form.AppointmentType,
		Notes:            form.Notes,
	}
	s.mu.Unlock()

	return s.book(ctx, req)
}

func (s *Session) book(ctx context.Context, req booking.Request) error {
	confirmation, err := s.backend.Book(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = BookingError
		s.err = err
		return err
	}

	s.state = Success
	s.err = nil
	s.confirmation = confirmation
	s.slots = slices.DeleteFunc(s.slots, func(slot crm.Slot) bool { return slot == crm.Slot(req.Slot) })
	return nil
}

// Dismiss closes the form or the success notice. From the form it returns
// to the slot list; from Success it returns to Idle keeping the date.
func (s *Session) Dismiss() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SlotSelected, BookingError:
		s.slot = ""
		s.err = nil
		if len(s.slots) > 0 {
			s.state = SlotsReady
		} else {
			s.state = SlotsEmpty
		}
	case Success:
		s.slot = ""
		s.confirmation = nil
		s.state = Idle
	default:
		return TransitionError{Event: "dismiss", State: s.state}
	}

	return nil
}

// Retry repeats the failed network step: the slot query from SlotsError, or
// the booking with the last submitted form from BookingError.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	state, date, form := s.state, s.date, s.form
	s.mu.Unlock()

	switch state {
	case SlotsError:
		return s.SelectDate(ctx, date)
	case BookingError:
		s.mu.Lock()
		if s.state != BookingError {
			state := s.state
			s.mu.Unlock()
			return TransitionError{Event: "retry", State: state}
		}
		s.state = SlotSelected
		s.mu.Unlock()
		return s.Submit(ctx, form)
	default:
		return TransitionError{Event: "retry", State: state}
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Date() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.date
}

func (s *Session) Slots() []crm.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.slots)
}

func (s *Session) SelectedSlot() crm.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

func (s *Session) Insurers() []crm.InsuranceProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.insurers)
}

// Err is the failure that put the session in SlotsError or BookingError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Confirmation is the CRM's response to the last successful booking.
func (s *Session) Confirmation() crm.Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmation
}
