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

// Package tokens counts tokens in proposal contexts with tiktoken.
package tokens

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/instruct/pkg/propose"
)

const defaultEncoding = "cl100k_base"

// encodingPrefixes maps model name prefixes to encodings for models tiktoken
// does not know. Longer prefixes are listed first.
var encodingPrefixes = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
	{"claude", "cl100k_base"},
	{"gemini", "cl100k_base"},
	{"llama", "cl100k_base"},
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// Counter counts tokens with a model's encoding.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewCounter returns a counter for model. Encodings are cached per model.
func NewCounter(model string) (*Counter, error) {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(EncodingFor(model))
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding for %q: %w", model, err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Counter{encoding: encoding, model: model}, nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// Model returns the model the counter was built for.
func (c *Counter) Model() string {
	return c.model
}

// Estimator approximates four characters per token. It is used when no
// encoding can be loaded.
type Estimator struct{}

func (Estimator) Count(text string) int {
	return (len(text) + 3) / 4
}

// ForModel returns a tiktoken counter for model, or an Estimator when the
// encoding is unavailable (for example offline).
func ForModel(model string) propose.TokenCounter {
	c, err := NewCounter(model)
	if err != nil {
		slog.Warn("Token encoding unavailable, estimating token counts", "model", model, "error", err)
		return Estimator{}
	}
	return c
}

// EncodingFor returns the encoding name used for model.
func EncodingFor(model string) string {
	lower := strings.ToLower(model)
	for _, e := range encodingPrefixes {
		if strings.HasPrefix(lower, e.prefix) {
			return e.encoding
		}
	}
	return defaultEncoding
}
