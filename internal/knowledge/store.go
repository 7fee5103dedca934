package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// baseID identifies the single knowledge base the portal maintains.
const baseID = 1

// Field is one topic of the knowledge base draft.
type Field struct {
	ID              uuid.UUID `json:"id"`
	KnowledgeBaseID int       `json:"knowledgeBaseId"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Base is the knowledge base record: the published text and the draft
// fields it was condensed from.
type Base struct {
	ID            int       `json:"id"`
	KnowledgeText string    `json:"knowledgeText"`
	UpdateCount   int       `json:"updateCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Fields        []Field   `json:"fields"`
}

// FieldInput is a draft field as edited by an administrator. Fields without
// an ID are new.
type FieldInput struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// InvalidFieldsError reports a draft that cannot be saved.
type InvalidFieldsError struct {
	Reason string
}

func (e InvalidFieldsError) Error() string {
	return "invalid knowledge fields: " + e.Reason
}

func (e InvalidFieldsError) Status() (int, string) {
	return http.StatusBadRequest, "invalid knowledge fields"
}

func (e InvalidFieldsError) Details() string {
	return e.Reason
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists the knowledge base in Postgres.
type Store struct {
	db    dbtx
	newID func() uuid.UUID
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("knowledge: pgx pool required")
	}
	return newStore(pool)
}

func newStore(db dbtx) *Store {
	return &Store{db: db, newID: uuid.New}
}

const ensureBase = `INSERT INTO knowledge_base (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`

// Published returns the published knowledge text, or "" when nothing has
// been published.
func (s *Store) Published(ctx context.Context) (string, error) {
	var text string
	err := s.db.QueryRow(ctx, `SELECT knowledge_text FROM knowledge_base WHERE id = $1`, baseID).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("knowledge: read published text: %w", err)
	}
	return text, nil
}

// Base returns the knowledge base with its fields in creation order,
// creating the record on first use.
func (s *Store) Base(ctx context.Context) (Base, error) {
	if _, err := s.db.Exec(ctx, ensureBase, baseID); err != nil {
		return Base{}, fmt.Errorf("knowledge: create base: %w", err)
	}

	var b Base
	err := s.db.QueryRow(ctx, `
		SELECT id, knowledge_text, update_count, created_at, updated_at
		FROM knowledge_base WHERE id = $1
	`, baseID).Scan(&b.ID, &b.KnowledgeText, &b.UpdateCount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Base{}, fmt.Errorf("knowledge: read base: %w", err)
	}

	fields, err := s.Fields(ctx)
	if err != nil {
		return Base{}, err
	}
	b.Fields = fields

	return b, nil
}

// Fields returns the draft fields in creation order.
func (s *Store) Fields(ctx context.Context) ([]Field, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, knowledge_base_id, title, content, created_at, updated_at
		FROM knowledge_fields
		WHERE knowledge_base_id = $1
		ORDER BY created_at ASC
	`, baseID)
	if err != nil {
		return nil, fmt.Errorf("knowledge: query fields: %w", err)
	}

	fields, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Field, error) {
		var f Field
		var id string
		if err := row.Scan(&id, &f.KnowledgeBaseID, &f.Title, &f.Content, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return f, err
		}
		parsed, err := uuid.Parse(id)
		f.ID = parsed
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: read fields: %w", err)
	}

	return fields, nil
}

// SyncFields makes the stored draft match the submitted one: fields absent
// from the submission are deleted, fields with an ID are updated and fields
// without one are created. All changes apply in one transaction.
func (s *Store) SyncFields(ctx context.Context, inputs []FieldInput) error {
	keep := make([]string, 0, len(inputs))
	ids := make([]string, len(inputs))
	for i, in := range inputs {
		if in.ID == "" {
			continue
		}
		id, err := uuid.Parse(in.ID)
		if err != nil {
			return InvalidFieldsError{Reason: fmt.Sprintf("field id %q is not a UUID", in.ID)}
		}
		ids[i] = id.String()
		keep = append(keep, ids[i])
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("knowledge: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, ensureBase, baseID); err != nil {
		return fmt.Errorf("knowledge: create base: %w", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM knowledge_fields WHERE knowledge_base_id = $1 AND NOT (id = ANY($2::uuid[]))`,
		baseID, keep,
	)
	if err != nil {
		return fmt.Errorf("knowledge: delete fields: %w", err)
	}

	for i, in := range inputs {
		if in.ID == "" {
			_, err := tx.Exec(ctx,
				`INSERT INTO knowledge_fields (id, knowledge_base_id, title, content) VALUES ($1, $2, $3, $4)`,
				s.newID().String(), baseID, in.Title, in.Content,
			)
			if err != nil {
				return fmt.Errorf("knowledge: create field: %w", err)
			}
			continue
		}

		tag, err := tx.Exec(ctx,
			`UPDATE knowledge_fields SET title = $2, content = $3, updated_at = now() WHERE id = $1 AND knowledge_base_id = $4`,
			ids[i], in.Title, in.Content, baseID,
		)
		if err != nil {
			return fmt.Errorf("knowledge: update field: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return InvalidFieldsError{Reason: fmt.Sprintf("field %s does not exist", in.ID)}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("knowledge: commit: %w", err)
	}

	return nil
}

// Publish stores the condensed text and increments the update count.
func (s *Store) Publish(ctx context.Context, text string) (Base, error) {
	var b Base
	err := s.db.QueryRow(ctx, `
		UPDATE knowledge_base
		SET knowledge_text = $2, update_count = update_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING id, knowledge_text, update_count, created_at, updated_at
	`, baseID, text).Scan(&b.ID, &b.KnowledgeText, &b.UpdateCount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Base{}, fmt.Errorf("knowledge: publish: %w", err)
	}

	return b, nil
}
