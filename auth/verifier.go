package auth

import (
	"context"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	nerrors "github.com/jrsteele09/notifica/internal/errors"
	"github.com/pkg/errors"
)

// TokenVerifier checks an access token before the client trusts it.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) error
}

// JWKSVerifier checks token signatures against the backend's published key
// set and rejects expired tokens.
type JWKSVerifier struct {
	keySet  *oidc.RemoteKeySet
	nowTime func() time.Time
}

// NewJWKSVerifier fetches keys from jwksURL lazily, on first use. ctx bounds
// the key fetches, not the verifier's lifetime.
func NewJWKSVerifier(ctx context.Context, jwksURL string) *JWKSVerifier {
	return &JWKSVerifier{
		keySet:  oidc.NewRemoteKeySet(ctx, jwksURL),
		nowTime: time.Now,
	}
}

func (v *JWKSVerifier) Verify(ctx context.Context, rawToken string) error {
	if _, err := v.keySet.VerifySignature(ctx, rawToken); err != nil {
		return errors.Wrap(nerrors.ErrInvalidToken, err.Error())
	}
	claims, err := ParseClaims(rawToken)
	if err != nil {
		return errors.Wrap(nerrors.ErrInvalidToken, err.Error())
	}
	if !claims.ExpiresAt.IsZero() && v.nowTime().After(claims.ExpiresAt) {
		return errors.Wrap(nerrors.ErrInvalidToken, "token expired")
	}
	return nil
}
