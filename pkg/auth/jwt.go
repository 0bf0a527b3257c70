// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/instruct/pkg/config"
)

const defaultRefreshInterval = 15 * time.Minute

// TokenValidator turns a raw bearer token into claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// JWTValidatorConfig configures a JWTValidator.
type JWTValidatorConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// JWTValidator validates JWT tokens from external auth providers.
// It fetches and caches the provider's JWKS.
type JWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
	cancel   context.CancelFunc
}

// NewJWTValidator registers the JWKS URL for background refresh and fetches
// it once to validate the configuration.
func NewJWTValidator(ctx context.Context, cfg JWTValidatorConfig) (*JWTValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	refresh := cfg.RefreshInterval
	if refresh == 0 {
		refresh = defaultRefreshInterval
	}

	cacheCtx, cancel := context.WithCancel(context.Background())
	cache := jwk.NewCache(cacheCtx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cancel:   cancel,
	}, nil
}

// ValidateToken verifies the signature, expiry, issuer and audience of a
// token and extracts its claims.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject: token.Subject(),
		Extra:   make(map[string]any),
	}
	for key, value := range token.PrivateClaims() {
		switch key {
		case "email":
			claims.Email, _ = value.(string)
		case "role":
			claims.Role, _ = value.(string)
		case "scope":
			scope, _ := value.(string)
			claims.Scopes = strings.Fields(scope)
		default:
			claims.Extra[key] = value
		}
	}
	return claims, nil
}

// Close stops the background JWKS refresh.
func (v *JWTValidator) Close() {
	if v.cancel != nil {
		v.cancel()
	}
}

var _ TokenValidator = (*JWTValidator)(nil)

// NewValidatorFromConfig builds a JWTValidator for the server.auth section.
// It returns nil, nil when auth is not enabled.
func NewValidatorFromConfig(ctx context.Context, cfg *config.AuthConfig) (*JWTValidator, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return NewJWTValidator(ctx, JWTValidatorConfig{
		JWKSURL:         cfg.JWKSURL,
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		RefreshInterval: cfg.RefreshInterval,
	})
}
