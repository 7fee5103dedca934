package conversation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Message is one turn of a chat between a patient and the assistant.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExportedMessage is a stored message as it appears in an export.
type ExportedMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is a full session history, the unit of a bulk migration.
type Transcript struct {
	SessionID string    `json:"sessionId"`
	Message   []Message `json:"message"`
}

// IngestRequest is posted by the chat automation after each exchange.
type IngestRequest struct {
	SessionID string    `json:"sessionId"`
	History   []Message `json:"history"`
}

// InvalidRequestError reports an unusable ingest or migration payload.
type InvalidRequestError struct {
	Reason string
}

func (e InvalidRequestError) Error() string {
	return "invalid conversation data: " + e.Reason
}

func (e InvalidRequestError) Status() (int, string) {
	return http.StatusBadRequest, "invalid conversation data"
}

func (e InvalidRequestError) Details() string {
	return e.Reason
}

func (r IngestRequest) Validate() error {
	if r.SessionID == "" {
		return InvalidRequestError{Reason: "sessionId is required"}
	}
	if r.History == nil {
		return InvalidRequestError{Reason: "history must be an array"}
	}
	return nil
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists conversation transcripts in Postgres.
type Store struct {
	db dbtx
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &Store{db: pool}
}

func newStore(db dbtx) *Store {
	return &Store{db: db}
}

const insertMessage = `INSERT INTO conversations (session_id, role, content) VALUES ($1, $2, $3)`

// SaveLatest stores the final two messages of the history, skipping any
// without content, and returns how many were written.
func (s *Store) SaveLatest(ctx context.Context, req IngestRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	latest := req.History[max(len(req.History)-2, 0):]

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("conversation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	saved := 0
	for _, m := range latest {
		if m.Content == "" {
			continue
		}
		if _, err := tx.Exec(ctx, insertMessage, req.SessionID, m.Role, m.Content); err != nil {
			return 0, fmt.Errorf("conversation: insert message: %w", err)
		}
		saved++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("conversation: commit: %w", err)
	}

	return saved, nil
}

// Export returns every stored message grouped by session, each group in
// creation order.
func (s *Store) Export(ctx context.Context) (map[string][]ExportedMessage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, role, content, created_at
		FROM conversations
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("conversation: query export: %w", err)
	}
	defer rows.Close()

	grouped := map[string][]ExportedMessage{}
	for rows.Next() {
		var sessionID string
		var m ExportedMessage
		if err := rows.Scan(&sessionID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("conversation: scan export: %w", err)
		}
		grouped[sessionID] = append(grouped[sessionID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: read export: %w", err)
	}

	return grouped, nil
}

// Replace discards every stored message and loads the given transcripts in
// a single transaction, returning the number of messages written.
func (s *Store) Replace(ctx context.Context, transcripts []Transcript) (int64, error) {
	var rows [][]any
	for _, t := range transcripts {
		if t.SessionID == "" {
			return 0, InvalidRequestError{Reason: "every record needs a sessionId"}
		}
		for _, m := range t.Message {
			rows = append(rows, []any{t.SessionID, m.Role, m.Content})
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("conversation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM conversations`); err != nil {
		return 0, fmt.Errorf("conversation: clear: %w", err)
	}

	count, err := tx.CopyFrom(ctx,
		pgx.Identifier{"conversations"},
		[]string{"session_id", "role", "content"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("conversation: load: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("conversation: commit: %w", err)
	}

	log.Ctx(ctx).Info().
		Int("sessions", len(transcripts)).
		Int64("messages", count).
		Msg("conversation transcripts replaced")

	return count, nil
}
