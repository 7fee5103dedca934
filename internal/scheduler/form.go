package scheduler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/clinicops/clinic-portal/internal/catalog"
	"github.com/clinicops/clinic-portal/internal/crm"
)

var birthDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Form is what the patient fills in after choosing a slot. The insurance is
// chosen by name and mapped to its directory code.
type Form struct {
	PatientName      string
	PatientBirthDate string
	InsuranceName    string
	ConsultationType int
	AppointmentType  int
	Notes            string
}

// FormError maps invalid fields to a message for the patient.
type FormError struct {
	Fields map[string]string
}

func (e FormError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid booking form: " + strings.Join(parts, "; ")
}

// validateForm applies the patient-facing rules and returns the matched
// insurance provider. Codes are checked against the catalog when one has
// been loaded.
func validateForm(f Form, insurers []crm.InsuranceProvider, options *catalog.Catalog) (crm.InsuranceProvider, error) {
	fields := map[string]string{}

	if utf8.RuneCountInString(strings.TrimSpace(f.PatientName)) < 3 {
		fields["patientName"] = "full name is required"
	}

	if !birthDatePattern.MatchString(f.PatientBirthDate) {
		fields["patientBirthDate"] = "use the YYYY-MM-DD format"
	}

	var insurer crm.InsuranceProvider
	if f.InsuranceName == "" {
		fields["insuranceName"] = "insurance name is required"
	} else {
		found := false
		for _, p := range insurers {
			if strings.EqualFold(p.Name, strings.TrimSpace(f.InsuranceName)) {
				insurer, found = p, true
				break
			}
		}
		if !found {
			fields["insuranceName"] = "unknown insurance: choose one from the list"
		}
	}

	if f.ConsultationType < 1 || (options != nil && !options.HasConsultationType(f.ConsultationType)) {
		fields["consultationType"] = "select a consultation type"
	}

	if f.AppointmentType < 0 || (options != nil && !options.HasAppointmentType(f.AppointmentType)) {
		fields["appointmentType"] = "select an appointment type"
	}

	if len(fields) > 0 {
		return crm.InsuranceProvider{}, FormError{Fields: fields}
	}

	return insurer, nil
}
