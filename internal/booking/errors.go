package booking

import (
	"fmt"
	"net/http"
	"strings"
)

// ValidationError lists the request fields that are missing or malformed.
// It is raised before any CRM call.
type ValidationError struct {
	Fields []string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid booking request: %s", strings.Join(e.Fields, ", "))
}

func (e ValidationError) Status() (int, string) {
	return http.StatusBadRequest, "insufficient data for booking"
}

func (e ValidationError) Details() string {
	return strings.Join(e.Fields, ", ")
}

// PatientNotFoundError indicates no CRM booking matched the patient's name and
// birth date.
type PatientNotFoundError struct {
	Name      string
	BirthDate string
}

func (e PatientNotFoundError) Error() string {
	return fmt.Sprintf("no patient matches name %q born %s", e.Name, e.BirthDate)
}

func (e PatientNotFoundError) Status() (int, string) {
	return http.StatusNotFound, "patient not found: check the name and birth date"
}
