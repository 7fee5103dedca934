package jwt

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clinicops/clinic-portal/internal/audit"
	"github.com/clinicops/clinic-portal/internal/config"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// CookieName is the cookie holding the admin session token.
const CookieName = "admin-token"

const issuer = "clinic-portal"

// ErrInvalidKey is returned by Login when the supplied admin key does not
// match.
var ErrInvalidKey = errors.New("invalid admin key")

// Sessions issues and verifies admin session tokens. The admin key is both the
// login credential and the HMAC signing key.
type Sessions struct {
	key    []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

type Option func(*Sessions)

// WithClock overrides the time source used for issuing and verifying tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Sessions) {
		s.now = now
	}
}

func NewSessions(cfg config.AdminConfig, opts ...Option) (*Sessions, error) {
	if cfg.Key == "" {
		return nil, errors.New("admin sessions require ADMIN_KEY")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	s := &Sessions{
		key:    []byte(cfg.Key),
		ttl:    ttl,
		secure: cfg.CookieSecure,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Login checks the supplied key and returns the session cookie to set.
func (s *Sessions) Login(provided string) (*http.Cookie, error) {
	if subtle.ConstantTimeCompare([]byte(provided), s.key) != 1 {
		return nil, ErrInvalidKey
	}

	token, err := s.issue()
	if err != nil {
		return nil, err
	}

	return s.cookie(token, int(s.ttl.Seconds())), nil
}

// LogoutCookie returns a cookie that clears the session in the browser.
func (s *Sessions) LogoutCookie() *http.Cookie {
	return s.cookie("", -1)
}

func (s *Sessions) issue() (string, error) {
	now := s.now()
	claims := AdminClaims{
		IsAdmin: true,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "admin",
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign admin session: %w", err)
	}

	return signed, nil
}

// Verify parses and validates a session token.
func (s *Sessions) Verify(token string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := gojwt.ParseWithClaims(token, claims,
		func(t *gojwt.Token) (any, error) {
			return s.key, nil
		},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(issuer),
		gojwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	return claims, nil
}

func (s *Sessions) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// Middleware requires a valid admin session cookie. A missing cookie is
// answered with 401, an invalid or expired one with 403.
func (s *Sessions) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			entry.AuthMethod = "cookie"

			cookie, err := r.Cookie(CookieName)
			if err != nil || cookie.Value == "" {
				entry.Error = "admin session cookie missing"
				writeError(w, http.StatusUnauthorized)
				return
			}

			claims, err := s.Verify(cookie.Value)
			if err != nil {
				entry.Error = fmt.Sprintf("admin session rejected: %s", err.Error())
				log.Ctx(r.Context()).Info().Err(err).Msg("admin session rejected")
				writeError(w, http.StatusForbidden)
				return
			}

			entry.Authorized = true
			entry.AuthSubject = claims.Subject

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// BearerKey guards automation endpoints with a static bearer key. An empty
// key rejects every request.
func BearerKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())
			entry.AuthMethod = "bearer"

			provided, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if key == "" || !found || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				entry.Error = "ingest key missing or invalid"
				writeError(w, http.StatusUnauthorized)
				return
			}

			entry.Authorized = true
			entry.AuthSubject = "ingest"

			next.ServeHTTP(w, r)
		})
	}
}

type claimsContextKey struct{}

// ContextWithClaims returns a context carrying the verified admin claims.
func ContextWithClaims(ctx context.Context, claims *AdminClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the admin claims set by the middleware, or nil.
func ClaimsFromContext(ctx context.Context) *AdminClaims {
	claims, _ := ctx.Value(claimsContextKey{}).(*AdminClaims)
	return claims
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(status)})
}
