package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []Option{
		{Code: 3, Label: "CONSULTA"},
		{Code: 4, Label: "RETORNO"},
		{Code: 20, Label: "PRIMEIRA CONSULTA"},
		{Code: 17, Label: "AUDIOMETRIA"},
	}, c.ConsultationTypes)
	assert.Equal(t, Option{Code: 0, Label: "1ª Consulta"}, c.AppointmentTypes[0])

	assert.True(t, c.HasConsultationType(17))
	assert.False(t, c.HasConsultationType(5))
	assert.True(t, c.HasAppointmentType(0))
	assert.False(t, c.HasAppointmentType(9))
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
consultationTypes:
  - code: 8
    label: TELECONSULTA
appointmentTypes:
  - code: 1
    label: Consulta
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []Option{{Code: 8, Label: "TELECONSULTA"}}, c.ConsultationTypes)
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Len(t, c.ConsultationTypes, 4)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "reading booking catalog")
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "malformed",
			yaml:    "consultationTypes: [",
			wantErr: "decoding booking catalog",
		},
		{
			name:    "no consultation types",
			yaml:    "appointmentTypes:\n  - {code: 1, label: Consulta}\n",
			wantErr: "consultationTypes must not be empty",
		},
		{
			name:    "zero consultation code",
			yaml:    "consultationTypes:\n  - {code: 0, label: X}\nappointmentTypes:\n  - {code: 1, label: Consulta}\n",
			wantErr: "must be at least 1",
		},
		{
			name:    "duplicate code",
			yaml:    "consultationTypes:\n  - {code: 3, label: A}\n  - {code: 3, label: B}\nappointmentTypes:\n  - {code: 1, label: Consulta}\n",
			wantErr: "duplicate consultationTypes code 3",
		},
		{
			name:    "missing label",
			yaml:    "consultationTypes:\n  - {code: 3}\nappointmentTypes:\n  - {code: 1, label: Consulta}\n",
			wantErr: "has no label",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
