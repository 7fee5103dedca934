package jwt

import (
	"errors"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// AdminClaims are carried by the admin session cookie.
type AdminClaims struct {
	IsAdmin bool `json:"isAdmin"`
	gojwt.RegisteredClaims
}

// Validate is called by the parser once the registered claims have been
// checked.
func (c AdminClaims) Validate() error {
	if !c.IsAdmin {
		return errors.New("token does not grant admin access")
	}

	if c.ExpiresAt == nil {
		return errors.New("token has no expiry")
	}

	return nil
}
