package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clinicops/clinic-portal/internal/audit"
	"github.com/clinicops/clinic-portal/internal/testhelpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	t.Run("captures request info and configures context", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		testAgent := "scheduler/1.0"
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			assert.Equal(t, testAgent, entry.UserAgent)
			assert.Equal(t, "/book-slot", entry.Path)

			w.WriteHeader(http.StatusTeapot)
		})

		req, w := requestSetup()
		req.Header.Set("User-Agent", testAgent)

		audit.Middleware()(handler).ServeHTTP(w, req)

		assert.Equal(t, http.StatusTeapot, w.Result().StatusCode)
	})

	t.Run("captures status code", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var capturedContext context.Context
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedContext = r.Context()
			w.WriteHeader(http.StatusBadGateway)
			w.WriteHeader(http.StatusOK) // ignored
		})

		req, w := requestSetup()
		audit.Middleware()(handler).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadGateway, audit.Log(capturedContext).Status)
	})

	t.Run("implicit status from write", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var capturedContext context.Context
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedContext = r.Context()
			_, _ = w.Write([]byte("[]"))
		})

		req, w := requestSetup()
		audit.Middleware()(handler).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, audit.Log(capturedContext).Status)
	})

	t.Run("log written", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		auditWritten := false
		ctx := withLogHook(context.Background(), zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
			if level == audit.Level {
				auditWritten = true
			}
		}))

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})

		req, w := requestSetup()
		audit.Middleware()(handler).ServeHTTP(w, req.WithContext(ctx))

		assert.True(t, auditWritten, "audit log entry should be written")
	})

	t.Run("log written on panic", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		auditWritten := false
		ctx := withLogHook(context.Background(), zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
			if level == audit.Level {
				auditWritten = true
			}
		}))

		var entry *audit.Entry
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, entry = audit.Context(r.Context())
			entry.Error = "failure pre-panic"
			panic("slot vanished")
		})

		req, w := requestSetup()

		assert.PanicsWithValue(t, "slot vanished", func() {
			audit.Middleware()(handler).ServeHTTP(w, req.WithContext(ctx))
		})

		assert.Equal(t, "failure pre-panic; panic: slot vanished", entry.Error)
		assert.True(t, auditWritten, "audit log entry should be written")
	})
}

func TestAuditing(t *testing.T) {
	testhelpers.SetupLogger(t)

	ctx := context.Background()
	r, _ := requestSetup()

	_, e := audit.Context(ctx)
	e.Begin(r)
	e.End(ctx)()

	assert.Equal(t, "192.0.2.1", e.SourceIP)
	assert.Equal(t, &audit.Entry{
		Method:    "POST",
		Path:      "/book-slot",
		UserAgent: "scheduler/1.0",
		SourceIP:  "192.0.2.1",
		Status:    200,
	}, e)
}

func TestLog_OutsideMiddleware(t *testing.T) {
	entry := audit.Log(context.Background())
	require.NotNil(t, entry)

	entry.BookingSlot = "ignored"
}

func serialize(t *testing.T, entry audit.Entry) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Log().EmbedObject(&entry).Send()

	var result map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	return result
}

func TestNestedDictSerialization(t *testing.T) {
	result := serialize(t, audit.Entry{
		Method:         "POST",
		Path:           "/book-slot",
		Status:         201,
		SourceIP:       "10.0.0.1",
		UserAgent:      "test/1.0",
		Authorized:     true,
		AuthSubject:    "admin",
		AuthMethod:     "cookie",
		BookingSlot:    "12345",
		BookingOutcome: "booked",
		PatientID:      42,
		CRMStatus:      200,
	})

	t.Run("request fields nested", func(t *testing.T) {
		request, ok := result["request"].(map[string]any)
		require.True(t, ok, "expected 'request' dict in log output")
		assert.Equal(t, "POST", request["method"])
		assert.Equal(t, "/book-slot", request["path"])
		assert.Equal(t, float64(201), request["status"])
		assert.Equal(t, "10.0.0.1", request["sourceIP"])
		assert.Equal(t, "test/1.0", request["userAgent"])
	})

	t.Run("authorization fields nested", func(t *testing.T) {
		auth, ok := result["authorization"].(map[string]any)
		require.True(t, ok, "expected 'authorization' dict in log output")
		assert.Equal(t, true, auth["authorized"])
		assert.Equal(t, "admin", auth["subject"])
		assert.Equal(t, "cookie", auth["method"])
	})

	t.Run("booking fields nested", func(t *testing.T) {
		booking, ok := result["booking"].(map[string]any)
		require.True(t, ok, "expected 'booking' dict in log output")
		assert.Equal(t, "12345", booking["slot"])
		assert.Equal(t, "booked", booking["outcome"])
		assert.Equal(t, float64(42), booking["patientID"])
		assert.Equal(t, float64(200), booking["crmStatus"])
	})

	t.Run("error omitted when empty", func(t *testing.T) {
		assert.NotContains(t, result, "error")
	})
}

func TestOptionalDictElision(t *testing.T) {
	t.Run("empty entry keeps request and authorization only", func(t *testing.T) {
		result := serialize(t, audit.Entry{})
		assert.Contains(t, result, "request")
		assert.Contains(t, result, "authorization", "authorized flag is always written")
		assert.NotContains(t, result, "booking")
		assert.NotContains(t, result, "error")
	})

	t.Run("booking present for validation failure", func(t *testing.T) {
		result := serialize(t, audit.Entry{
			BookingOutcome: "invalid",
			MissingFields:  []string{"slot", "patientName"},
		})
		booking, ok := result["booking"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, []any{"slot", "patientName"}, booking["missingFields"])
	})

	t.Run("error present when set", func(t *testing.T) {
		result := serialize(t, audit.Entry{Error: "patient not found"})
		assert.Equal(t, "patient not found", result["error"])
	})
}

func requestSetup() (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/book-slot", nil)
	req.Header.Set("User-Agent", "scheduler/1.0")

	return req, httptest.NewRecorder()
}

func withLogHook(ctx context.Context, hook zerolog.HookFunc) context.Context {
	testLog := log.Logger.With().Logger().Hook(hook)
	return testLog.WithContext(ctx)
}
