package crm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// RefreshMargin is subtracted from the token lifetime reported by the CRM so
// that a cached token is never used in the last minute of its life.
const RefreshMargin = 60 * time.Second

const tokenPath = "/oauth/v1/token"

// Credentials identify the portal to the CRM.
type Credentials struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

func (c Credentials) validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.ClientID == "" {
		missing = append(missing, "client ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return AuthConfigError{Missing: missing}
	}
	return nil
}

// TokenCache holds the CRM access token, refreshing it with a
// client-credentials exchange when it is absent or about to expire.
// Concurrent callers that find the token stale share a single exchange.
type TokenCache struct {
	creds      Credentials
	oauth      clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time
	observer   Observer

	mu    sync.Mutex
	token AccessToken

	flight singleflight.Group
}

type TokenCacheOption func(*TokenCache)

// WithClock overrides the time source used to judge token freshness.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// WithTokenObserver records token exchanges.
func WithTokenObserver(o Observer) TokenCacheOption {
	return func(c *TokenCache) {
		c.observer = o
	}
}

// NewTokenCache validates the credentials and returns an empty cache. The
// supplied client performs the token exchange and carries its timeout.
func NewTokenCache(creds Credentials, httpClient *http.Client, opts ...TokenCacheOption) (*TokenCache, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &TokenCache{
		creds: creds,
		oauth: clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     strings.TrimSuffix(creds.BaseURL, "/") + tokenPath,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: basicAuthClient(httpClient, creds),
		now:        time.Now,
		observer:   nopObserver{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// AccessToken returns a bearer token valid for at least RefreshMargin.
func (c *TokenCache) AccessToken(ctx context.Context) (string, error) {
	if err := c.creds.validate(); err != nil {
		return "", err
	}

	if token, ok := c.cached(); ok {
		return token, nil
	}

	// The exchange is detached from the first caller's cancellation so that
	// other callers waiting on the same flight are not failed by it.
	ch := c.flight.DoChan("token", func() (any, error) {
		// another flight may have completed between the check and here
		if token, ok := c.cached(); ok {
			return token, nil
		}
		return c.exchange(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid(c.now()) {
		return c.token.Value, true
	}
	return "", false
}

func (c *TokenCache) store(token AccessToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
}

func (c *TokenCache) exchange(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	issued := c.now()
	start := time.Now()
	tok, err := c.oauth.Token(ctx)
	c.observer.ObserveTokenRefresh()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			c.observer.ObserveRequest("token", retrieveErr.Response.StatusCode, time.Since(start))
			return "", UpstreamAuthError{
				StatusCode: retrieveErr.Response.StatusCode,
				Body:       string(retrieveErr.Body),
				Err:        err,
			}
		}
		c.observer.ObserveRequest("token", 0, time.Since(start))
		return "", UpstreamAuthError{Err: err}
	}
	c.observer.ObserveRequest("token", http.StatusOK, time.Since(start))

	if tok.Expiry.IsZero() {
		log.Ctx(ctx).Warn().Msg("CRM token has no expiry: it will not be cached")
		return tok.AccessToken, nil
	}

	// oauth2 derives Expiry from the wall clock; re-base the lifetime on our
	// own clock so the margin is applied consistently.
	lifetime := tok.Expiry.Sub(time.Now())
	if lifetime <= RefreshMargin {
		log.Ctx(ctx).Warn().Dur("lifetime", lifetime).Msg("CRM token lifetime within refresh margin: it will not be cached")
		return tok.AccessToken, nil
	}

	c.store(AccessToken{
		Value:     tok.AccessToken,
		ExpiresAt: issued.Add(lifetime - RefreshMargin),
	})

	log.Ctx(ctx).Debug().Dur("lifetime", lifetime).Msg("CRM token refreshed")

	return tok.AccessToken, nil
}

// basicAuthClient returns a copy of client that sends the raw client id and
// secret as Basic credentials. oauth2 form-encodes both before building the
// header, and the CRM compares them without decoding.
func basicAuthClient(client *http.Client, creds Credentials) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	exchange := *client
	exchange.Transport = basicAuthTransport{
		clientID:     creds.ClientID,
		clientSecret: creds.ClientSecret,
		base:         base,
	}
	return &exchange
}

type basicAuthTransport struct {
	clientID     string
	clientSecret string
	base         http.RoundTripper
}

func (t basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.clientID, t.clientSecret)
	return t.base.RoundTrip(req)
}
