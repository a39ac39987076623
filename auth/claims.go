package auth

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims are the access token fields the client relies on.
type Claims struct {
	Subject     string
	Email       string
	Role        string
	SessionID   string
	ExpiresAt   time.Time
	AppMetadata map[string]any
}

// ParseClaims reads the claims of an access token without checking its
// signature. Signatures are checked by a TokenVerifier when one is set.
func ParseClaims(rawToken string) (*Claims, error) {
	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(err, "[ParseClaims] malformed access token")
	}
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("[ParseClaims] error extracting claims")
	}

	c := &Claims{}
	c.Subject, _ = claims["sub"].(string)
	c.Email, _ = claims["email"].(string)
	c.Role, _ = claims["role"].(string)
	c.SessionID, _ = claims["session_id"].(string)
	c.AppMetadata, _ = claims["app_metadata"].(map[string]any)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}
