package patient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/clinicops/clinic-portal/internal/crm"
	"github.com/rs/zerolog/log"
)

// DefaultHistoryFloor is the earliest booking date scanned by default.
const DefaultHistoryFloor = "2020-01-01"

// ErrNotFound is returned when no booking matches the supplied identity.
var ErrNotFound = errors.New("patient not found")

// InvalidBirthDateError indicates the query birth date is not YYYY-MM-DD.
type InvalidBirthDateError struct {
	Value string
}

func (e InvalidBirthDateError) Error() string {
	return fmt.Sprintf("birth date %q is not a YYYY-MM-DD date", e.Value)
}

func (e InvalidBirthDateError) Status() (int, string) {
	return http.StatusBadRequest, "patient birth date must use the YYYY-MM-DD format"
}

// Resolved identifies a patient in the CRM.
type Resolved struct {
	PatientID   int
	InsuranceID int
}

// BookingSource lists historic bookings.
type BookingSource interface {
	Bookings(ctx context.Context, startDate, endDate string) ([]crm.BookingRecord, error)
}

// Resolver finds a patient's CRM identity by matching a name and birth date
// against the booking history. Each call reads the history afresh.
type Resolver struct {
	source BookingSource
	floor  string
	now    func() time.Time
}

type Option func(*Resolver)

// WithHistoryFloor sets the earliest booking date scanned.
func WithHistoryFloor(date string) Option {
	return func(r *Resolver) {
		r.floor = date
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

func NewResolver(source BookingSource, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		floor:  DefaultHistoryFloor,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the identity of the first booking whose normalized name and
// UTC birth date match. When several patients share a name and birth date the
// earliest record in CRM order wins. A failed history read is returned as is,
// never as ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, name, birthDate string) (Resolved, error) {
	if _, err := time.Parse(time.DateOnly, birthDate); err != nil {
		return Resolved{}, InvalidBirthDateError{Value: birthDate}
	}

	today := r.now().Format(time.DateOnly)

	records, err := r.source.Bookings(ctx, r.floor, today)
	if err != nil {
		return Resolved{}, err
	}

	wanted := Normalize(name)

	for _, record := range records {
		if record.PatientID == 0 {
			continue
		}
		if Normalize(record.PatientName) == wanted && record.BirthDateString() == birthDate {
			log.Ctx(ctx).Debug().
				Int("patient_id", record.PatientID).
				Int("scanned", len(records)).
				Msg("patient resolved from booking history")

			return Resolved{
				PatientID:   record.PatientID,
				InsuranceID: record.InsuranceID,
			}, nil
		}
	}

	return Resolved{}, ErrNotFound
}
