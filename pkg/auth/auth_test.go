package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/instruct/pkg/config"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "instruct-api"
)

type keyServer struct {
	priv *rsa.PrivateKey
	url  string
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	return &keyServer{priv: priv, url: srv.URL + "/.well-known/jwks.json"}
}

func (k *keyServer) token(t *testing.T, audience string, exp time.Time, claims map[string]any) string {
	t.Helper()
	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.IssuerKey, testIssuer))
	require.NoError(t, tok.Set(jwt.AudienceKey, audience))
	require.NoError(t, tok.Set(jwt.SubjectKey, "user-1"))
	require.NoError(t, tok.Set(jwt.ExpirationKey, exp))
	for name, v := range claims {
		require.NoError(t, tok.Set(name, v))
	}

	key, err := jwk.FromRaw(k.priv)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func (k *keyServer) validator(t *testing.T) *JWTValidator {
	t.Helper()
	v, err := NewJWTValidator(t.Context(), JWTValidatorConfig{
		JWKSURL:  k.url,
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func TestJWTValidator(t *testing.T) {
	ks := newKeyServer(t)
	v := ks.validator(t)

	claims, err := v.ValidateToken(t.Context(), ks.token(t, testAudience, time.Now().Add(time.Hour),
		map[string]any{"email": "a@b.c", "role": "admin", "team": "ml", "scope": "propose trials:write"}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@b.c", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "ml", claims.String("team"))
	assert.Equal(t, "", claims.String("missing"))
	assert.True(t, claims.HasScope("trials:write"))
	assert.False(t, claims.HasScope("admin"))
	_, ok := claims.Value("role")
	assert.False(t, ok, "role has a dedicated field")

	_, err = v.ValidateToken(t.Context(), ks.token(t, "other", time.Now().Add(time.Hour), nil))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.ValidateToken(t.Context(), ks.token(t, testAudience, time.Now().Add(-time.Hour), nil))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.ValidateToken(t.Context(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTValidator_Errors(t *testing.T) {
	_, err := NewJWTValidator(t.Context(), JWTValidatorConfig{})
	assert.Error(t, err)

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err = NewJWTValidator(t.Context(), JWTValidatorConfig{JWKSURL: srv.URL})
	assert.Error(t, err)
}

func TestNewValidatorFromConfig(t *testing.T) {
	v, err := NewValidatorFromConfig(t.Context(), nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = NewValidatorFromConfig(t.Context(), &config.AuthConfig{Enabled: false, JWKSURL: "x"})
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = NewValidatorFromConfig(t.Context(), &config.AuthConfig{Enabled: true, JWKSURL: "https://a/jwks"})
	assert.ErrorContains(t, err, "auth.issuer is required")

	ks := newKeyServer(t)
	v, err = NewValidatorFromConfig(t.Context(), &config.AuthConfig{
		Enabled: true, JWKSURL: ks.url, Issuer: testIssuer, Audience: testAudience,
	})
	require.NoError(t, err)
	require.NotNil(t, v)
	v.Close()
}

type staticValidator map[string]*Claims

func (s staticValidator) ValidateToken(_ context.Context, token string) (*Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, ErrInvalidToken
}

func TestMiddleware(t *testing.T) {
	validator := staticValidator{"good": {Subject: "u", Role: "viewer"}}
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := ClaimsFromContext(r.Context()); c != nil {
			_, _ = w.Write([]byte(c.Subject))
			return
		}
		_, _ = w.Write([]byte("anonymous"))
	})

	tests := []struct {
		name       string
		require    bool
		path       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"excluded path", true, "/health", "", http.StatusOK, "anonymous"},
		{"missing token required", true, "/v1/propose", "", http.StatusUnauthorized, ""},
		{"missing token optional", false, "/v1/propose", "", http.StatusOK, "anonymous"},
		{"wrong scheme", false, "/v1/propose", "Basic abc", http.StatusUnauthorized, ""},
		{"invalid token", false, "/v1/propose", "Bearer bad", http.StatusUnauthorized, ""},
		{"valid token", true, "/v1/propose", "Bearer good", http.StatusOK, "u"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware(validator, MiddlewareConfig{
				ExcludedPaths: []string{"/health"},
				RequireAuth:   tt.require,
			})(echo)

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireRole("admin")(ok)

	serve := func(c *Claims) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if c != nil {
			req = req.WithContext(ContextWithClaims(req.Context(), c))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusForbidden, serve(&Claims{Role: "viewer"}))
	assert.Equal(t, http.StatusNoContent, serve(&Claims{Role: "admin"}))
	assert.Equal(t, http.StatusForbidden, serve(&Claims{}))
}
