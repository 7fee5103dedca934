package patient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{input: "José Álvares", expected: "jose alvares"},
		{input: "  MARIA da CONCEIÇÃO  ", expected: "maria da conceicao"},
		{input: "João Gonçalves Müller", expected: "joao goncalves muller"},
		{input: "jose alvares", expected: "jose alvares"},
		{input: "", expected: ""},
		// precomposed and decomposed forms fold to the same value
		{input: "José", expected: "jose"},
		{input: "José", expected: "jose"},
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, Normalize(tc.input))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"José Álvares", " Ângela  Ñúñez ", "plain", "ÇÃÕ", ""}

	for _, input := range inputs {
		once := Normalize(input)
		assert.Equal(t, once, Normalize(once), "input %q", input)
	}
}
