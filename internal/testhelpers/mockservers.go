package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// MockCRMServer provides a configurable mock of the CRM integration API.
// Fields may be changed between requests; the Set*/counter accessors are
// safe for concurrent use by handlers.
type MockCRMServer struct {
	Server *httptest.Server

	ClientID     string
	ClientSecret string

	Token      string        // access_token to issue
	ExpiresIn  int           // expires_in to issue; 0 omits it
	TokenDelay time.Duration // delay before answering a token request

	Insurers     []any // items of the insurance provider list
	Bookings     []any // items of the booking history
	Slots        []any // items of the available slot list; nil omits result.items
	Confirmation any   // reservation response body

	// Status overrides per endpoint: when non-zero and not 200, the handler
	// replies with this status and ErrorBody.
	TokenStatus    int
	InsurersStatus int
	BookingsStatus int
	SlotsStatus    int
	ReserveStatus  int
	ErrorBody      string

	mu             sync.Mutex
	counts         map[string]int
	lastQuery      map[string]url.Values
	lastAuth       string
	reservedSlot   string
	reservePayload map[string]any
}

// Endpoint names used by Count and LastQuery.
const (
	EndpointToken    = "token"
	EndpointInsurers = "insurers"
	EndpointBookings = "bookings"
	EndpointSlots    = "slots"
	EndpointReserve  = "reserve"
)

// SetupMockCRMServer creates a mock CRM with a valid token endpoint and
// empty lists. The server is closed when the test ends.
func SetupMockCRMServer(t *testing.T) *MockCRMServer {
	t.Helper()

	mock := &MockCRMServer{
		ClientID:     "portal-client",
		ClientSecret: "portal-secret",
		Token:        "crm-access-token",
		ExpiresIn:    3600,
		Insurers:     []any{},
		Bookings:     []any{},
		Slots:        []any{},
		Confirmation: map[string]any{"result": map[string]any{"id": 1}},
		counts:       map[string]int{},
		lastQuery:    map[string]url.Values{},
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /oauth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		mock.record(EndpointToken, r)

		if mock.TokenDelay > 0 {
			time.Sleep(mock.TokenDelay)
		}

		if mock.fail(w, mock.TokenStatus) {
			return
		}

		id, secret, ok := r.BasicAuth()
		if !ok || id != mock.ClientID || secret != mock.ClientSecret {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}

		response := map[string]any{
			"access_token": mock.Token,
			"token_type":   "Bearer",
		}
		if mock.ExpiresIn != 0 {
			response["expires_in"] = mock.ExpiresIn
		}
		WriteJSON(w, response)
	})

	router.HandleFunc("GET /api/v1/integration/insurance-providers", func(w http.ResponseWriter, r *http.Request) {
		mock.record(EndpointInsurers, r)
		if !mock.authorized(w, r) || mock.fail(w, mock.InsurersStatus) {
			return
		}
		WriteJSON(w, envelope(mock.Insurers))
	})

	router.HandleFunc("GET /api/v1/integration/facilities/{facility}/doctors/{doctor}/addresses/{address}/bookings", func(w http.ResponseWriter, r *http.Request) {
		mock.record(EndpointBookings, r)
		if !mock.authorized(w, r) || mock.fail(w, mock.BookingsStatus) {
			return
		}
		WriteJSON(w, envelope(mock.Bookings))
	})

	router.HandleFunc("GET /api/v1/integration/facilities/{facility}/doctors/{doctor}/addresses/{address}/available-slots", func(w http.ResponseWriter, r *http.Request) {
		mock.record(EndpointSlots, r)
		if !mock.authorized(w, r) || mock.fail(w, mock.SlotsStatus) {
			return
		}
		if mock.Slots == nil {
			WriteJSON(w, map[string]any{"result": map[string]any{}})
			return
		}
		WriteJSON(w, envelope(mock.Slots))
	})

	router.HandleFunc("POST /api/v1/integration/facilities/{facility}/doctors/{doctor}/addresses/{address}/slots/{slot}", func(w http.ResponseWriter, r *http.Request) {
		mock.record(EndpointReserve, r)
		if !mock.authorized(w, r) {
			return
		}

		var payload map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)

		mock.mu.Lock()
		mock.reservedSlot = r.PathValue("slot")
		mock.reservePayload = payload
		mock.mu.Unlock()

		if mock.fail(w, mock.ReserveStatus) {
			return
		}
		WriteJSON(w, mock.Confirmation)
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// URL is the base URL of the mock CRM.
func (m *MockCRMServer) URL() string {
	return m.Server.URL
}

// Count returns the number of requests received by an endpoint.
func (m *MockCRMServer) Count(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[endpoint]
}

// LastQuery returns the query string of the last request to an endpoint.
func (m *MockCRMServer) LastQuery(endpoint string) url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery[endpoint]
}

// LastAuthHeader returns the Authorization header of the last request.
func (m *MockCRMServer) LastAuthHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

// LastReservation returns the slot and decoded payload of the last
// reservation request.
func (m *MockCRMServer) LastReservation() (string, map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservedSlot, m.reservePayload
}

// Close shuts down the mock server.
func (m *MockCRMServer) Close() {
	m.Server.Close()
}

func (m *MockCRMServer) record(endpoint string, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[endpoint]++
	m.lastQuery[endpoint] = r.URL.Query()
	m.lastAuth = r.Header.Get("Authorization")
}

func (m *MockCRMServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+m.Token {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

func (m *MockCRMServer) fail(w http.ResponseWriter, status int) bool {
	if status == 0 || status == http.StatusOK {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(m.ErrorBody))
	return true
}

func envelope(items []any) map[string]any {
	return map[string]any{
		"result": map[string]any{
			"items": items,
		},
	}
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
