package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/clinicops/clinic-portal/internal/conversation"
	"github.com/clinicops/clinic-portal/internal/jwt"
	"github.com/clinicops/clinic-portal/internal/knowledge"
	"github.com/rs/zerolog/log"
)

type conversationStore interface {
	SaveLatest(ctx context.Context, req conversation.IngestRequest) (int, error)
	Export(ctx context.Context) (map[string][]conversation.ExportedMessage, error)
	Replace(ctx context.Context, transcripts []conversation.Transcript) (int64, error)
}

type knowledgeStore interface {
	Published(ctx context.Context) (string, error)
	Base(ctx context.Context) (knowledge.Base, error)
	SyncFields(ctx context.Context, inputs []knowledge.FieldInput) error
}

type knowledgePublisher interface {
	Publish(ctx context.Context) (knowledge.Base, error)
}

type successResponse struct {
	Success bool   `json:"success"`
	Count   *int64 `json:"count,omitempty"`
}

type loginRequest struct {
	TokenInput string `json:"tokenInput"`
}

func handleAdminLogin(sessions *jwt.Sessions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, "admin login rejected", err)
			return
		}

		cookie, err := sessions.Login(req.TokenInput)
		if errors.Is(err, jwt.ErrInvalidKey) {
			writeJSONError(w, http.StatusUnauthorized, "invalid admin key", "")
			return
		}
		if err != nil {
			writeError(w, r, "admin login failed", err)
			return
		}

		http.SetCookie(w, cookie)
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	})
}

func handleAdminLogout(sessions *jwt.Sessions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		http.SetCookie(w, sessions.LogoutCookie())
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	})
}

func handleConversationIngest(store conversationStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req conversation.IngestRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, "conversation ingest rejected", err)
			return
		}

		if _, err := store.SaveLatest(r.Context(), req); err != nil {
			writeError(w, r, "conversation ingest failed", err)
			return
		}

		writeJSON(w, http.StatusCreated, successResponse{Success: true})
	})
}

func handleConversationExport(store conversationStore, now func() time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		grouped, err := store.Export(r.Context())
		if err != nil {
			writeError(w, r, "conversation export failed", err)
			return
		}

		filename := fmt.Sprintf("conversations-export-%s.json", now().UTC().Format(time.RFC3339))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

		log.Ctx(r.Context()).Info().Int("sessions", len(grouped)).Msg("conversations exported")

		writeJSON(w, http.StatusOK, grouped)
	})
}

func handleConversationMigrate(store conversationStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var transcripts []conversation.Transcript
		if err := decodeJSON(r, &transcripts); err != nil {
			writeError(w, r, "conversation migration rejected", err)
			return
		}

		count, err := store.Replace(r.Context(), transcripts)
		if err != nil {
			writeError(w, r, "conversation migration failed", err)
			return
		}

		writeJSON(w, http.StatusOK, successResponse{Success: true, Count: &count})
	})
}

func handlePublishedKnowledge(store knowledgeStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		text, err := store.Published(r.Context())
		if err != nil {
			writeError(w, r, "knowledge lookup failed", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"knowledgeText": text})
	})
}

func handleKnowledgeBase(store knowledgeStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		base, err := store.Base(r.Context())
		if err != nil {
			writeError(w, r, "knowledge base lookup failed", err)
			return
		}

		if base.Fields == nil {
			base.Fields = []knowledge.Field{}
		}
		writeJSON(w, http.StatusOK, base)
	})
}

func handleKnowledgeSync(store knowledgeStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var fields []knowledge.FieldInput
		if err := decodeJSON(r, &fields); err != nil {
			writeError(w, r, "knowledge draft rejected", err)
			return
		}

		if err := store.SyncFields(r.Context(), fields); err != nil {
			writeError(w, r, "knowledge draft save failed", err)
			return
		}

		writeJSON(w, http.StatusOK, successResponse{Success: true})
	})
}

func handleKnowledgePublish(publisher knowledgePublisher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		// Condensing can take a while; finish it even if the admin navigates away.
		base, err := publisher.Publish(context.WithoutCancel(r.Context()))
		if err != nil {
			writeError(w, r, "knowledge publish failed", err)
			return
		}

		writeJSON(w, http.StatusOK, base)
	})
}
