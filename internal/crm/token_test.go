package crm

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinicops/clinic-portal/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func credentialsFor(mock *testhelpers.MockCRMServer) Credentials {
	return Credentials{
		BaseURL:      mock.URL(),
		ClientID:     mock.ClientID,
		ClientSecret: mock.ClientSecret,
	}
}

func TestNewTokenCache_MissingCredentials(t *testing.T) {
	_, err := NewTokenCache(Credentials{BaseURL: "https://crm.example.com"}, nil)

	var configErr AuthConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, []string{"client ID", "client secret"}, configErr.Missing)

	status, _ := configErr.Status()
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestTokenCache_CachesToken(t *testing.T) {
	mock := testhelpers.SetupMockCRMServer(t)

	cache, err := NewTokenCache(credentialsFor(mock), nil)
	require.NoError(t, err)

	first, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	second, err := cache.AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "crm-access-token", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, mock.Count(testhelpers.EndpointToken))
}

func TestTokenCache_RefreshesWithinMargin(t *testing.T) {
	mock := testhelpers.SetupMockCRMServer(t)
	mock.ExpiresIn = 3600
	clock := newFakeClock()

	cache, err := NewTokenCache(credentialsFor(mock), nil, WithClock(clock.Now))
	require.NoError(t, err)

	_, err = cache.AccessToken(context.Background())
	require.NoError(t, err)

	// just inside expires_in - 60s
	clock.Advance(3539 * time.Second)
	_, err = cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mock.Count(testhelpers.EndpointToken))

	// inside the final minute: never handed out
	clock.Advance(2 * time.Second)
	_, err = cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Count(testhelpers.EndpointToken))
}

func TestTokenCache_ShortLivedTokenNotCached(t *testing.T) {
	cases := []struct {
		name      string
		expiresIn int
	}{
		{name: "no expires_in", expiresIn: 0},
		{name: "within margin", expiresIn: 45},
		{name: "exactly margin", expiresIn: 60},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := testhelpers.SetupMockCRMServer(t)
			mock.ExpiresIn = tc.expiresIn

			cache, err := NewTokenCache(credentialsFor(mock), nil)
			require.NoError(t, err)

			for range 2 {
				token, err := cache.AccessToken(context.Background())
				require.NoError(t, err)
				assert.Equal(t, "crm-access-token", token)
			}

			assert.Equal(t, 2, mock.Count(testhelpers.EndpointToken))
		})
	}
}

func TestTokenCache_UpstreamRejects(t *testing.T) {
	mock := testhelpers.SetupMockCRMServer(t)
	creds := credentialsFor(mock)
	creds.ClientSecret = "wrong"

	cache, err := NewTokenCache(creds, nil)
	require.NoError(t, err)

	_, err = cache.AccessToken(context.Background())

	var authErr UpstreamAuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Contains(t, authErr.Details(), "invalid_client")

	status, _ := authErr.Status()
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestTokenCache_SendsRawBasicCredentials(t *testing.T) {
	mock := testhelpers.SetupMockCRMServer(t)
	mock.ClientID = "clinic-1"
	mock.ClientSecret = "s3cr+t/=&%"

	cache, err := NewTokenCache(credentialsFor(mock), nil)
	require.NoError(t, err)

	token, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "crm-access-token", token)

	encoded, found := strings.CutPrefix(mock.LastAuthHeader(), "Basic ")
	require.True(t, found)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "clinic-1:s3cr+t/=&%", string(decoded))
}

func TestTokenCache_UpstreamUnavailable(t *testing.T) {
	mock := testhelpers.SetupMockCRMServer(t)
	mock.TokenStatus = http.StatusServiceUnavailable
	mock.ErrorBody = `{"message":"maintenance"}`

	cache, err := NewTokenCache(credentialsFor(mock), nil)
	require.NoError(t, err)

	_, err = cache.AccessToken(context.Background())

	var authErr UpstreamAuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusServiceUnavailable, authErr.StatusCode)
	assert.Equal(t, `{"message":"maintenance"}`, authErr.Body)

	// failures are not cached
	mock.TokenStatus = 0
	token, err := cache.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "crm-access-token", token)
}

func TestTokenCache_ConcurrentRefreshSingleExchange(t *testing.T) {
	mock := testhelpers.SetupMockCRMServer(t)
	mock.TokenDelay = 100 * time.Millisecond

	cache, err := NewTokenCache(credentialsFor(mock), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	errs := make([]error, 10)

	for i := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = cache.AccessToken(context.Background())
		}()
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "crm-access-token", tokens[i])
	}
	assert.Equal(t, 1, mock.Count(testhelpers.EndpointToken))
}

func TestTokenCache_CallerCancellation(t *testing.T) {
	mock := testhelpers.SetupMockCRMServer(t)
	mock.TokenDelay = 200 * time.Millisecond

	cache, err := NewTokenCache(credentialsFor(mock), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = cache.AccessToken(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// the detached exchange still completes and populates the cache
	assert.Eventually(t, func() bool {
		_, ok := cache.cached()
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, mock.Count(testhelpers.EndpointToken))
}

func TestAccessToken_Valid(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	assert.True(t, AccessToken{Value: "a", ExpiresAt: now.Add(time.Second)}.Valid(now))
	assert.False(t, AccessToken{Value: "a", ExpiresAt: now}.Valid(now))
	assert.False(t, AccessToken{ExpiresAt: now.Add(time.Hour)}.Valid(now))
}
