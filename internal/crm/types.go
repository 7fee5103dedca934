package crm

import (
	"encoding/json"
	"fmt"
	"time"
)

// AccessToken is a CRM bearer token. ExpiresAt already has the refresh
// margin subtracted: the token is usable while now < ExpiresAt.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token may be handed out at the given time.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// InsuranceProvider is a health insurance plan accepted by the clinic.
type InsuranceProvider struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"status"`
}

// Slot is an available appointment start time as reported by the CRM, an
// ISO-8601 timestamp.
type Slot string

// BookingRecord is a historic booking, used as the lookup table for patient
// identity.
type BookingRecord struct {
	PatientID   int
	PatientName string
	BirthDate   *time.Time
	InsuranceID int
}

// bookingRecordWire mirrors the CRM booking item. Patient identity is spread
// over alternative fields depending on how the booking was created.
type bookingRecordWire struct {
	PatientID     int    `json:"patient_id"`
	Record        int    `json:"record"`
	Client        string `json:"client"`
	Birthday      string `json:"birthday"`
	InsuranceCode int    `json:"healthInsuranceCode"`
	InsuranceID   int    `json:"insurance_id"`
	Patient       *struct {
		Name string `json:"name"`
	} `json:"patient"`
}

func (r *BookingRecord) UnmarshalJSON(data []byte) error {
	var wire bookingRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*r = BookingRecord{
		PatientID:   firstNonZero(wire.PatientID, wire.Record),
		PatientName: wire.Client,
		InsuranceID: firstNonZero(wire.InsuranceCode, wire.InsuranceID),
	}

	if r.PatientName == "" && wire.Patient != nil {
		r.PatientName = wire.Patient.Name
	}

	if wire.Birthday != "" {
		if birth, ok := parseBirthday(wire.Birthday); ok {
			r.BirthDate = &birth
		}
	}

	return nil
}

// BirthDateString renders the record's birth date as YYYY-MM-DD using UTC
// calendar fields. It returns "" when the record carries no usable date.
func (r BookingRecord) BirthDateString() string {
	if r.BirthDate == nil {
		return ""
	}
	return r.BirthDate.UTC().Format(time.DateOnly)
}

var birthdayLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// parseBirthday accepts the timestamp shapes the CRM has been seen to emit.
// Zone-less values are read as UTC.
func parseBirthday(s string) (time.Time, bool) {
	for _, layout := range birthdayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// BookingPayload is the body sent to reserve a slot.
type BookingPayload struct {
	PatientID        int    `json:"patient_id"`
	InsuranceCode    int    `json:"healthInsuranceCode"`
	ConsultationType int    `json:"consultationType"`
	AppointmentType  int    `json:"appointmentType"`
	Notes            string `json:"obs,omitempty"`
}

// Confirmation is the CRM's reservation response, kept verbatim.
type Confirmation json.RawMessage

func (c Confirmation) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

func (c *Confirmation) UnmarshalJSON(data []byte) error {
	*c = append((*c)[0:0], data...)
	return nil
}

// StartAt returns the confirmed appointment start, read from result.start_at.
func (c Confirmation) StartAt() (string, error) {
	var body struct {
		Result struct {
			StartAt string `json:"start_at"`
		} `json:"result"`
	}
	if err := json.Unmarshal(c, &body); err != nil {
		return "", fmt.Errorf("confirmation is not a JSON object: %w", err)
	}
	if body.Result.StartAt == "" {
		return "", fmt.Errorf("confirmation has no result.start_at")
	}
	return body.Result.StartAt, nil
}

// listEnvelope is the CRM's collection wrapper. A missing result or items is
// read as an empty list.
type listEnvelope[T any] struct {
	Result *struct {
		Items []T `json:"items"`
	} `json:"result"`
}

func (e listEnvelope[T]) items() []T {
	if e.Result == nil || e.Result.Items == nil {
		return []T{}
	}
	return e.Result.Items
}
