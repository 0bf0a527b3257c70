// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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
	"net"
	"strconv"
	"time"
)

// ServerConfig configures the HTTP API.
//
// Example:
//
//	server:
//	  port: 8080
//	  summary_cache_ttl: 30m
//	  auth:
//	    enabled: true
//	    jwks_url: https://auth.example.com/.well-known/jwks.json
//	    issuer: https://auth.example.com
//	    audience: instruct-api
type ServerConfig struct {
	// Host to bind to.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Bind address,default=0.0.0.0"`

	// Port to listen on.
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,description=Listen port,minimum=1,maximum=65535,default=8080"`

	// TLS configuration.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty" jsonschema:"title=TLS,description=Serve over TLS"`

	// Auth configures JWT-based authentication.
	Auth *AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty" jsonschema:"title=Auth,description=JWT authentication"`

	// RateLimit caps proposal requests per caller.
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" jsonschema:"title=Rate Limit,description=Per-caller proposal quotas"`

	// SummaryCacheTTL is how long a dataset summary is reused for an
	// identical training set. A negative value disables the cache.
	SummaryCacheTTL time.Duration `yaml:"summary_cache_ttl,omitempty" json:"summary_cache_ttl,omitempty" jsonschema:"title=Summary Cache TTL,description=Dataset summary cache lifetime,default=30m"`

	// MaxExamples rejects requests carrying more training examples.
	MaxExamples int `yaml:"max_examples,omitempty" json:"max_examples,omitempty" jsonschema:"title=Max Examples,description=Maximum training examples per request,minimum=1,default=5000"`

	// MaxBodyBytes caps the request body size.
	MaxBodyBytes int64 `yaml:"max_body_bytes,omitempty" json:"max_body_bytes,omitempty" jsonschema:"title=Max Body Bytes,description=Request body limit,default=10485760"`

	// RequestTimeout bounds a single proposal request.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty" jsonschema:"title=Request Timeout,description=Per-request deadline,default=5m"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty" jsonschema:"title=Shutdown Timeout,description=Graceful shutdown deadline,default=10s"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	// Enabled turns on TLS.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// CertFile is the path to the certificate.
	CertFile string `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`

	// KeyFile is the path to the private key.
	KeyFile string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.SummaryCacheTTL == 0 {
		c.SummaryCacheTTL = 30 * time.Minute
	}
	if c.MaxExamples == 0 {
		c.MaxExamples = 5000
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Auth != nil {
		c.Auth.SetDefaults()
	}
	if c.RateLimit != nil {
		c.RateLimit.SetDefaults()
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.TLS != nil && BoolValue(c.TLS.Enabled, false) && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, fmt.Errorf("tls requires cert_file and key_file"))
	}
	if c.MaxExamples < 0 {
		errs = append(errs, fmt.Errorf("max_examples must be non-negative"))
	}
	if c.Auth != nil {
		if err := c.Auth.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.RateLimit != nil {
		if err := c.RateLimit.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rate_limit: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TLSEnabled reports whether the server should serve TLS.
func (c *ServerConfig) TLSEnabled() bool {
	return c.TLS != nil && BoolValue(c.TLS.Enabled, false)
}
