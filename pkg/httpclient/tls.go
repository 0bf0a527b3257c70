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

package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

// TLSConfig configures the transport used against self-hosted endpoints.
type TLSConfig struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty" jsonschema:"title=Insecure Skip Verify,description=Disable certificate verification"`
	CACertificate      string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty" jsonschema:"title=CA Certificate,description=PEM file with extra root certificates"`
}

// Transport clones the default transport and applies cfg to it.
func (cfg *TLSConfig) Transport() (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	transport.TLSClientConfig = tc
	if cfg == nil {
		return transport, nil
	}

	tc.InsecureSkipVerify = cfg.InsecureSkipVerify
	if cfg.CACertificate == "" {
		return transport, nil
	}
	pem, err := os.ReadFile(cfg.CACertificate)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.CACertificate)
	}
	tc.RootCAs = pool
	return transport, nil
}

// WithTLSConfig installs a transport built from cfg. A broken configuration
// keeps the default transport and logs a warning.
func WithTLSConfig(cfg *TLSConfig) Option {
	return func(c *Client) {
		if cfg == nil {
			return
		}
		transport, err := cfg.Transport()
		if err != nil {
			slog.Warn("Ignoring TLS settings", "error", err)
			return
		}
		c.client.Transport = transport
	}
}
