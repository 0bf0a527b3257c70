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
	"os"
	"time"

	"github.com/kadirpekel/instruct/pkg/httpclient"
)

// LLMProvider names a completion backend.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderGemini    LLMProvider = "gemini"
	LLMProviderOllama    LLMProvider = "ollama"
)

// LLM defaults.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
	DefaultLLMTimeout  = 60 * time.Second
	DefaultMaxRetries  = 3
)

type providerDefaults struct {
	model   string
	keyEnvs []string
}

var providers = map[LLMProvider]providerDefaults{
	LLMProviderOpenAI:    {model: "gpt-4o-mini", keyEnvs: []string{"OPENAI_API_KEY"}},
	LLMProviderAnthropic: {model: "claude-sonnet-4-20250514", keyEnvs: []string{"ANTHROPIC_API_KEY"}},
	LLMProviderGemini:    {model: "gemini-2.0-flash", keyEnvs: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}},
	LLMProviderOllama:    {model: "llama3.2"},
}

// detectOrder is the precedence used when no provider is configured.
var detectOrder = []LLMProvider{LLMProviderOpenAI, LLMProviderAnthropic, LLMProviderGemini}

// LLMConfig selects the model that summarizes datasets and writes
// instructions.
type LLMConfig struct {
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=LLM provider (detected from API key variables when empty),enum=anthropic,enum=openai,enum=gemini,enum=ollama,default=openai"`

	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey falls back to the provider's usual environment variable.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`

	// BaseURL defaults to OLLAMA_HOST for ollama.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom API endpoint"`

	// Temperature is the base temperature. Proposal calls jitter around it.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Base sampling temperature,minimum=0,maximum=2,default=0.7"`

	MaxTokens  int           `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,description=Maximum tokens per completion,minimum=1,default=1024"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-request timeout,default=60s"`
	MaxRetries int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,description=Retries on rate limits and server errors,minimum=0,default=3"`

	TLS *httpclient.TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty" jsonschema:"title=TLS,description=TLS settings for self-hosted endpoints"`
}

// SetDefaults fills the provider, model and credentials from the
// environment where they are not set.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectProvider()
	}
	d := providers[c.Provider]
	if c.Model == "" {
		c.Model = d.model
	}
	if c.APIKey == "" {
		c.APIKey = firstEnv(d.keyEnvs...)
	}
	if c.BaseURL == "" && c.Provider == LLMProviderOllama {
		c.BaseURL = os.Getenv("OLLAMA_HOST")
	}
	if c.Temperature == nil {
		c.Temperature = Ptr(DefaultTemperature)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultLLMTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// Validate checks the section and reports every problem.
func (c *LLMConfig) Validate() error {
	d, known := providers[c.Provider]
	if c.Provider != "" && !known {
		return fmt.Errorf("invalid provider %q (valid: anthropic, openai, gemini, ollama)", c.Provider)
	}

	var errs []error
	if len(d.keyEnvs) > 0 && c.APIKey == "" {
		errs = append(errs, fmt.Errorf("api_key is required for provider %q (or set %s)", c.Provider, d.keyEnvs[0]))
	}
	if t := c.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 2"))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must be non-negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be non-negative"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be non-negative"))
	}
	return errors.Join(errs...)
}

func detectProvider() LLMProvider {
	for _, p := range detectOrder {
		if firstEnv(providers[p].keyEnvs...) != "" {
			return p
		}
	}
	if os.Getenv("OLLAMA_HOST") != "" {
		return LLMProviderOllama
	}
	return LLMProviderOpenAI
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
