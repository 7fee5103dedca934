package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoFields is returned when there is no draft to publish.
var ErrNoFields = errors.New("no knowledge fields to publish; save a draft first")

// CondenserUnavailableError is returned when publishing without a configured
// condenser.
type CondenserUnavailableError struct{}

func (CondenserUnavailableError) Error() string {
	return "knowledge condenser is not configured"
}

func (CondenserUnavailableError) Status() (int, string) {
	return http.StatusInternalServerError, "knowledge condenser is not configured"
}

// NoFieldsError wraps ErrNoFields with a client error status.
type NoFieldsError struct{}

func (NoFieldsError) Error() string { return ErrNoFields.Error() }

func (NoFieldsError) Unwrap() error { return ErrNoFields }

func (NoFieldsError) Status() (int, string) {
	return http.StatusBadRequest, ErrNoFields.Error()
}

// FieldSource is the subset of the store the publisher needs.
type FieldSource interface {
	Fields(ctx context.Context) ([]Field, error)
	Publish(ctx context.Context, text string) (Base, error)
}

// Publisher condenses the draft fields and stores the result as the
// published knowledge text.
type Publisher struct {
	store     FieldSource
	condenser Condenser
}

// NewPublisher accepts a nil condenser; publishing then fails with
// CondenserUnavailableError.
func NewPublisher(store FieldSource, condenser Condenser) *Publisher {
	return &Publisher{store: store, condenser: condenser}
}

func (p *Publisher) Publish(ctx context.Context) (Base, error) {
	if p.condenser == nil {
		return Base{}, CondenserUnavailableError{}
	}

	fields, err := p.store.Fields(ctx)
	if err != nil {
		return Base{}, err
	}
	if len(fields) == 0 {
		return Base{}, NoFieldsError{}
	}

	condensed, err := p.condenser.Condense(ctx, Prompt(fields))
	if err != nil {
		return Base{}, fmt.Errorf("knowledge: condense: %w", err)
	}

	base, err := p.store.Publish(ctx, condensed)
	if err != nil {
		return Base{}, err
	}
	base.Fields = fields

	log.Ctx(ctx).Info().
		Int("fields", len(fields)).
		Int("updateCount", base.UpdateCount).
		Msg("knowledge base published")

	return base, nil
}

// Prompt builds the condensing instruction from the draft fields.
func Prompt(fields []Field) string {
	blocks := make([]string, 0, len(fields))
	for _, f := range fields {
		blocks = append(blocks, fmt.Sprintf("Tópico: %s\nConteúdo: %s", f.Title, f.Content))
	}

	return fmt.Sprintf(promptTemplate, strings.Join(blocks, "\n\n---\n\n"))
}

const promptTemplate = `Você é um especialista em otimizar prompts. Sua tarefa é pegar os tópicos e conteúdos abaixo e condensá-los em um texto coeso, claro e bem estruturado para ser a base de conhecimento de uma IA de conversação.

Instruções a serem condensadas:
---
%s
---
`
