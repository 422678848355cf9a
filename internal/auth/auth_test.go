package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hyperjump/docrag/internal/config"
)

func newTestAuth(t *testing.T, password string) *Authenticator {
	t.Helper()
	a, err := New(config.AuthConfig{Username: "admin", Password: password, SecretKey: "s3cret", TokenTTL: time.Minute})
	require.NoError(t, err)
	return a
}

func TestLoginAndVerify(t *testing.T) {
	a := newTestAuth(t, "pw")
	tok, err := a.Login("admin", "pw")
	require.NoError(t, err)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, 60, tok.ExpiresIn)

	user, err := a.Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", user)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	a := newTestAuth(t, "pw")
	_, err := a.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Login("root", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	empty := newTestAuth(t, "")
	_, err = empty.Login("admin", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_BcryptPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	a := newTestAuth(t, string(hash))
	_, err = a.Login("admin", "pw")
	assert.NoError(t, err)
	_, err = a.Login("admin", string(hash))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerify_Expired(t *testing.T) {
	a := newTestAuth(t, "pw")
	now := time.Now()
	a.now = func() time.Time { return now }
	tok, err := a.Login("admin", "pw")
	require.NoError(t, err)
	a.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = a.Verify(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecretAndAlgorithm(t *testing.T) {
	a := newTestAuth(t, "pw")
	other, err := New(config.AuthConfig{Username: "admin", Password: "pw", SecretKey: "other"})
	require.NoError(t, err)
	tok, err := other.Login("admin", "pw")
	require.NoError(t, err)
	_, err = a.Verify(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "admin", Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Verify(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(config.AuthConfig{Username: "admin"})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t, "pw")
	tok, err := a.Login("admin", "pw")
	require.NoError(t, err)

	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		_, _ = w.Write([]byte(user))
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid", "Bearer " + tok.AccessToken, http.StatusOK},
		{"lowercase scheme", "bearer " + tok.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/documents/list", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "admin", rec.Body.String())
			} else {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
