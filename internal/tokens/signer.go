package tokens

import (
	"crypto/rsa"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

const (
	// appTokenBackdate compensates clock drift between the local host and
	// github.
	appTokenBackdate = 60 * time.Second
	appTokenLifetime = 180 * time.Second
)

// Signer creates JWTs that authenticate as the GitHub App.
type Signer struct {
	appID int64
	key   *rsa.PrivateKey
	now   func() time.Time
}

func NewSigner(appID int64, key *rsa.PrivateKey) *Signer {
	return &Signer{
		appID: appID,
		key:   key,
		now:   time.Now,
	}
}

// ParsePrivateKey parses a PEM encoded RSA private key.
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("parsing github app private key failed: %w", err)
	}

	return key, nil
}

// AppToken returns a newly signed, short-lived, app JWT.
func (s *Signer) AppToken() (string, error) {
	now := s.now()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-appTokenBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appTokenLifetime)),
		Issuer:    strconv.FormatInt(s.appID, 10),
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing app jwt failed: %w", err)
	}

	return signed, nil
}

// Token implements oauth2.TokenSource.
func (s *Signer) Token() (*oauth2.Token, error) {
	signed, err := s.AppToken()
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      s.now().Add(appTokenLifetime),
	}, nil
}
