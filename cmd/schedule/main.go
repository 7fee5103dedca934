// This command books an appointment through a running portal from the
// command line. It walks the same flow as the patient-facing scheduler:
// choose a date, pick a slot, fill in the form and submit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/clinicops/clinic-portal/internal/crm"
	"github.com/clinicops/clinic-portal/internal/scheduler"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	PortalURL        string `env:"UTIL_PORTAL_URL, default=http://localhost:8080"`
	Date             string `env:"UTIL_DATE, required"`
	Slot             string `env:"UTIL_SLOT"`
	PatientName      string `env:"UTIL_PATIENT_NAME, required"`
	PatientBirthDate string `env:"UTIL_PATIENT_BIRTH_DATE, required"`
	InsuranceName    string `env:"UTIL_INSURANCE_NAME, required"`
	ConsultationType int    `env:"UTIL_CONSULTATION_TYPE, default=3"`
	AppointmentType  int    `env:"UTIL_APPOINTMENT_TYPE, default=1"`
	Notes            string `env:"UTIL_NOTES"`
	Retries          int    `env:"UTIL_RETRIES, default=0"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config) error {
	client := scheduler.NewClient(cfg.PortalURL, &http.Client{Timeout: 30 * time.Second})
	session := scheduler.NewSession(client)

	if err := session.Load(ctx); err != nil {
		return fmt.Errorf("loading insurances and booking options: %w", err)
	}

	err := session.SelectDate(ctx, cfg.Date)
	for attempt := 0; err != nil && session.State() == scheduler.SlotsError && attempt < cfg.Retries; attempt++ {
		fmt.Fprintf(os.Stderr, "slot query failed (%v), retrying\n", err)
		err = session.Retry(ctx)
	}
	if err != nil {
		return fmt.Errorf("loading slots for %s: %w", cfg.Date, err)
	}

	slots := session.Slots()
	if len(slots) == 0 {
		return fmt.Errorf("no slots available on %s", cfg.Date)
	}

	slot := slots[0]
	if cfg.Slot != "" {
		slot = crm.Slot(cfg.Slot)
	}

	if err := session.SelectSlot(slot); err != nil {
		return err
	}

	form := scheduler.Form{
		PatientName:      cfg.PatientName,
		PatientBirthDate: cfg.PatientBirthDate,
		InsuranceName:    cfg.InsuranceName,
		ConsultationType: cfg.ConsultationType,
		AppointmentType:  cfg.AppointmentType,
		Notes:            cfg.Notes,
	}

	err = session.Submit(ctx, form)
	for attempt := 0; err != nil && session.State() == scheduler.BookingError && attempt < cfg.Retries; attempt++ {
		var apiErr scheduler.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			break
		}
		fmt.Fprintf(os.Stderr, "booking failed (%v), retrying\n", err)
		err = session.Retry(ctx)
	}
	if err != nil {
		return fmt.Errorf("booking %s: %w", slot, err)
	}

	startAt, err := session.Confirmation().StartAt()
	if err != nil {
		fmt.Printf("booked %s\n", slot)
		return nil
	}

	fmt.Printf("booked for %s\n", startAt)
	return nil
}
