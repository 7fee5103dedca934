package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Option is a selectable code with its display label.
type Option struct {
	Code  int    `yaml:"code" json:"code"`
	Label string `yaml:"label" json:"label"`
}

// Catalog lists the consultation and appointment types a patient may choose.
type Catalog struct {
	ConsultationTypes []Option `yaml:"consultationTypes" json:"consultationTypes"`
	AppointmentTypes  []Option `yaml:"appointmentTypes" json:"appointmentTypes"`
}

// Default returns the built-in catalog.
func Default() (Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file, or returns the built-in catalog when
// path is empty.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading booking catalog: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("decoding booking catalog: %w", err)
	}

	if err := validate("consultationTypes", c.ConsultationTypes, 1); err != nil {
		return Catalog{}, err
	}
	if err := validate("appointmentTypes", c.AppointmentTypes, 0); err != nil {
		return Catalog{}, err
	}

	return c, nil
}

func validate(section string, options []Option, minCode int) error {
	if len(options) == 0 {
		return fmt.Errorf("booking catalog: %s must not be empty", section)
	}

	seen := make(map[int]bool, len(options))
	for _, o := range options {
		if o.Code < minCode {
			return fmt.Errorf("booking catalog: %s code %d must be at least %d", section, o.Code, minCode)
		}
		if o.Label == "" {
			return fmt.Errorf("booking catalog: %s code %d has no label", section, o.Code)
		}
		if seen[o.Code] {
			return fmt.Errorf("booking catalog: duplicate %s code %d", section, o.Code)
		}
		seen[o.Code] = true
	}

	return nil
}

func (c Catalog) HasConsultationType(code int) bool {
	return has(c.ConsultationTypes, code)
}

func (c Catalog) HasAppointmentType(code int) bool {
	return has(c.AppointmentTypes, code)
}

func has(options []Option, code int) bool {
	for _, o := range options {
		if o.Code == code {
			return true
		}
	}
	return false
}
