package tokens

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return key
}

func TestAppTokenClaims(t *testing.T) {
	key := newTestKey(t)
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	s := NewSigner(4711, key)
	s.now = func() time.Time { return now }

	signed, err := s.AppToken()
	require.NoError(t, err)

	var claims jwt.RegisteredClaims
	parser := jwt.NewParser(jwt.WithoutClaimsValidation(), jwt.WithValidMethods([]string{"RS256"}))
	token, err := parser.ParseWithClaims(signed, &claims, func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)

	assert.Equal(t, "4711", claims.Issuer)
	assert.Equal(t, now.Add(-60*time.Second).Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.Add(180*time.Second).Unix(), claims.ExpiresAt.Unix())
}

func TestAppTokenIsMintedOnEveryCall(t *testing.T) {
	key := newTestKey(t)

	var now time.Time
	s := NewSigner(1, key)
	s.now = func() time.Time { return now }

	now = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	first, err := s.AppToken()
	require.NoError(t, err)

	now = now.Add(time.Second)
	second, err := s.AppToken()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestTokenSourceReturnsBearerToken(t *testing.T) {
	s := NewSigner(1, newTestKey(t))

	tok, err := s.Token()
	require.NoError(t, err)

	assert.Equal(t, "Bearer", tok.Type())
	assert.NotEmpty(t, tok.AccessToken)
	assert.True(t, tok.Valid())
}

func TestParsePrivateKey(t *testing.T) {
	key := newTestKey(t)

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	parsed, err := ParsePrivateKey(pemData)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = ParsePrivateKey([]byte("not a key"))
	assert.Error(t, err)
}
