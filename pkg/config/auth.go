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

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Defaults for the auth section.
const (
	DefaultJWKSRefresh = 15 * time.Minute
	minJWKSRefresh     = time.Minute
)

// DefaultExcludedPaths stay reachable without a token.
var DefaultExcludedPaths = []string{"/health", "/metrics"}

// AuthConfig enables bearer JWT authentication on the HTTP API. Tokens are
// checked against the keys published at JWKSURL.
//
//	server:
//	  auth:
//	    enabled: true
//	    jwks_url: https://auth.example.com/.well-known/jwks.json
//	    issuer: https://auth.example.com
//	    audience: instruct-api
type AuthConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Require bearer tokens on the API"`

	JWKSURL  string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty" jsonschema:"title=JWKS URL,description=JSON Web Key Set endpoint"`
	Issuer   string `yaml:"issuer,omitempty" json:"issuer,omitempty" jsonschema:"title=Issuer,description=Expected iss claim"`
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty" jsonschema:"title=Audience,description=Expected aud claim"`

	// RefreshInterval is how often the key set is refetched.
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty" jsonschema:"title=Refresh Interval,description=JWKS refresh period,default=15m"`

	// ExcludedPaths skip authentication entirely.
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty" jsonschema:"title=Excluded Paths,description=Paths served without a token"`

	// RequireAuth rejects requests without a token. When false such requests
	// pass through anonymously; a bad token is still rejected.
	RequireAuth *bool `yaml:"require_auth,omitempty" json:"require_auth,omitempty" jsonschema:"title=Require Auth,description=Reject requests without a token,default=true"`

	// WriteRoles limits trial recording to these role claims. Empty allows
	// any authenticated caller.
	WriteRoles []string `yaml:"write_roles,omitempty" json:"write_roles,omitempty" jsonschema:"title=Write Roles,description=Roles allowed to record trials"`
}

// SetDefaults applies default values.
func (c *AuthConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultJWKSRefresh
	}
	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = append([]string(nil), DefaultExcludedPaths...)
	}
	if c.RequireAuth == nil && c.Enabled {
		c.RequireAuth = BoolPtr(true)
	}
}

// Validate checks the section. A disabled section is always valid.
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	if c.JWKSURL == "" {
		errs = append(errs, fmt.Errorf("auth.jwks_url is required when auth is enabled"))
	} else if u, err := url.Parse(c.JWKSURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("auth.jwks_url %q is not an absolute URL", c.JWKSURL))
	}
	if c.Issuer == "" {
		errs = append(errs, fmt.Errorf("auth.issuer is required when auth is enabled"))
	}
	if c.Audience == "" {
		errs = append(errs, fmt.Errorf("auth.audience is required when auth is enabled"))
	}
	if c.RefreshInterval != 0 && c.RefreshInterval < minJWKSRefresh {
		errs = append(errs, fmt.Errorf("auth.refresh_interval must be at least %s", minJWKSRefresh))
	}
	return errors.Join(errs...)
}

// IsEnabled reports whether the section is present, enabled and complete.
func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Enabled && c.JWKSURL != "" && c.Issuer != "" && c.Audience != ""
}

// IsRequireAuth reports whether requests without a token are rejected.
func (c *AuthConfig) IsRequireAuth() bool {
	return BoolValue(c.RequireAuth, c.Enabled)
}
