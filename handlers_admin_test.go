package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinicops/clinic-portal/internal/config"
	"github.com/clinicops/clinic-portal/internal/conversation"
	"github.com/clinicops/clinic-portal/internal/jwt"
	"github.com/clinicops/clinic-portal/internal/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversations struct {
	saved       []conversation.IngestRequest
	exported    map[string][]conversation.ExportedMessage
	replaced    []conversation.Transcript
	replacedCnt int64
	err         error
}

func (f *fakeConversations) SaveLatest(_ context.Context, req conversation.IngestRequest) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if err := req.Validate(); err != nil {
		return 0, err
	}
	f.saved = append(f.saved, req)
	return len(req.History), nil
}

func (f *fakeConversations) Export(context.Context) (map[string][]conversation.ExportedMessage, error) {
	return f.exported, f.err
}

func (f *fakeConversations) Replace(_ context.Context, transcripts []conversation.Transcript) (int64, error) {
	f.replaced = transcripts
	return f.replacedCnt, f.err
}

type fakeKnowledge struct {
	published string
	base      knowledge.Base
	synced    []knowledge.FieldInput
	err       error
}

func (f *fakeKnowledge) Published(context.Context) (string, error) {
	return f.published, f.err
}

func (f *fakeKnowledge) Base(context.Context) (knowledge.Base, error) {
	return f.base, f.err
}

func (f *fakeKnowledge) SyncFields(_ context.Context, inputs []knowledge.FieldInput) error {
	f.synced = inputs
	return f.err
}

type fakePublisher struct {
	base   knowledge.Base
	err    error
	ctxErr error
}

func (f *fakePublisher) Publish(ctx context.Context) (knowledge.Base, error) {
	f.ctxErr = ctx.Err()
	return f.base, f.err
}

func testSessions(t *testing.T) *jwt.Sessions {
	t.Helper()
	sessions, err := jwt.NewSessions(config.AdminConfig{Key: "admin-secret", SessionTTL: time.Hour, CookieSecure: true})
	require.NoError(t, err)
	return sessions
}

func TestHandleAdminLogin(t *testing.T) {
	sessions := testSessions(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(`{"tokenInput":"admin-secret"}`))
	rr := httptest.NewRecorder()

	handleAdminLogin(sessions).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, jwt.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, 3600, cookies[0].MaxAge)

	_, err := sessions.Verify(cookies[0].Value)
	assert.NoError(t, err)
}

func TestHandleAdminLogin_Rejected(t *testing.T) {
	cases := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{name: "wrong key", body: `{"tokenInput":"guess"}`, expectedStatus: http.StatusUnauthorized},
		{name: "empty key", body: `{"tokenInput":""}`, expectedStatus: http.StatusUnauthorized},
		{name: "malformed", body: `tokenInput=admin-secret`, expectedStatus: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()

			handleAdminLogin(testSessions(t)).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Empty(t, rr.Result().Cookies())
		})
	}
}

func TestHandleAdminLogout(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/admin/logout", nil)
	rr := httptest.NewRecorder()

	handleAdminLogout(testSessions(t)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, jwt.CookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestHandleConversationIngest(t *testing.T) {
	store := &fakeConversations{}
	body := `{"sessionId":"s-1","history":[{"role":"user","content":"Oi"},{"role":"assistant","content":"Olá!"}]}`

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handleConversationIngest(store).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	require.Len(t, store.saved, 1)
	assert.Equal(t, "s-1", store.saved[0].SessionID)
}

func TestHandleConversationIngest_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "no session", body: `{"history":[]}`},
		{name: "no history", body: `{"sessionId":"s-1"}`},
		{name: "malformed", body: `[`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeConversations{}
			req := httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()

			handleConversationIngest(store).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, store.saved)
		})
	}
}

func TestHandleConversationExport(t *testing.T) {
	at := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeConversations{exported: map[string][]conversation.ExportedMessage{
		"s-1": {{Role: "user", Content: "Oi", Timestamp: at}},
	}}
	now := func() time.Time { return at }

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rr := httptest.NewRecorder()

	handleConversationExport(store, now).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="conversations-export-2025-03-10T12:00:00Z.json"`, rr.Header().Get("Content-Disposition"))
	assert.JSONEq(t, `{"s-1":[{"role":"user","content":"Oi","timestamp":"2025-03-10T12:00:00Z"}]}`, rr.Body.String())
}

func TestHandleConversationExport_Failure(t *testing.T) {
	store := &fakeConversations{err: errors.New("connection refused")}

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rr := httptest.NewRecorder()

	handleConversationExport(store, time.Now).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, rr.Header().Get("Content-Disposition"))
}

func TestHandleConversationMigrate(t *testing.T) {
	store := &fakeConversations{replacedCnt: 3}
	body := `[{"sessionId":"s-1","message":[{"role":"user","content":"Oi"},{"role":"assistant","content":"Olá!"}]},{"sessionId":"s-2","message":[{"role":"user","content":"Bom dia"}]}]`

	req := httptest.NewRequest(http.MethodPost, "/api/admin/migrate", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handleConversationMigrate(store).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"count":3}`, rr.Body.String())
	require.Len(t, store.replaced, 2)
	assert.Equal(t, "s-2", store.replaced[1].SessionID)
}

func TestHandleConversationMigrate_Invalid(t *testing.T) {
	store := &fakeConversations{err: conversation.InvalidRequestError{Reason: "expected an array of transcripts"}}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/migrate", strings.NewReader(`[]`))
	rr := httptest.NewRecorder()

	handleConversationMigrate(store).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "expected an array of transcripts", decodeErrorResponse(t, rr).Details)
}

func TestHandlePublishedKnowledge(t *testing.T) {
	store := &fakeKnowledge{published: "Atendemos de segunda a sexta."}

	req := httptest.NewRequest(http.MethodGet, "/api/knowledge-base", nil)
	rr := httptest.NewRecorder()

	handlePublishedKnowledge(store).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"knowledgeText":"Atendemos de segunda a sexta."}`, rr.Body.String())
}

func TestHandlePublishedKnowledge_NothingPublished(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/knowledge-base", nil)
	rr := httptest.NewRecorder()

	handlePublishedKnowledge(&fakeKnowledge{}).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"knowledgeText":""}`, rr.Body.String())
}

func TestHandleKnowledgeBase_EmptyFieldsIsArray(t *testing.T) {
	store := &fakeKnowledge{base: knowledge.Base{ID: 1}}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/knowledge-base", nil)
	rr := httptest.NewRecorder()

	handleKnowledgeBase(store).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, []any{}, body["fields"])
	assert.Equal(t, 1.0, body["id"])
}

func TestHandleKnowledgeSync(t *testing.T) {
	store := &fakeKnowledge{}
	body := `[{"id":"7d9f5a52-6a43-4c8e-9d8e-0f1c2b3a4d5e","title":"Horários","content":"Seg-Sex"},{"title":"Convênios","content":"Amil"}]`

	req := httptest.NewRequest(http.MethodPost, "/api/admin/knowledge-base", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handleKnowledgeSync(store).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	require.Len(t, store.synced, 2)
	assert.Empty(t, store.synced[1].ID)
}

func TestHandleKnowledgeSync_UnknownField(t *testing.T) {
	store := &fakeKnowledge{err: knowledge.InvalidFieldsError{Reason: "unknown field id"}}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/knowledge-base", strings.NewReader(`[]`))
	rr := httptest.NewRecorder()

	handleKnowledgeSync(store).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleKnowledgePublish(t *testing.T) {
	publisher := &fakePublisher{base: knowledge.Base{ID: 1, KnowledgeText: "condensed", UpdateCount: 2, Fields: []knowledge.Field{}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPut, "/api/admin/knowledge-base", nil).WithContext(ctx)
	rr := httptest.NewRecorder()

	handleKnowledgePublish(publisher).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NoError(t, publisher.ctxErr)

	var body knowledge.Base
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "condensed", body.KnowledgeText)
	assert.Equal(t, 2, body.UpdateCount)
}

func TestHandleKnowledgePublish_Failures(t *testing.T) {
	cases := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{name: "no fields", err: knowledge.NoFieldsError{}, expectedStatus: http.StatusBadRequest},
		{name: "no condenser", err: knowledge.CondenserUnavailableError{}, expectedStatus: http.StatusInternalServerError},
		{name: "model failure", err: errors.New("quota exceeded"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/admin/knowledge-base", nil)
			rr := httptest.NewRecorder()

			handleKnowledgePublish(&fakePublisher{err: tc.err}).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
		})
	}
}
