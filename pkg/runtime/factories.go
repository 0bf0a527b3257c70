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

package runtime

import (
	"context"
	"fmt"

	"github.com/kadirpekel/instruct/pkg/config"
	"github.com/kadirpekel/instruct/pkg/model"
	"github.com/kadirpekel/instruct/pkg/model/anthropic"
	"github.com/kadirpekel/instruct/pkg/model/gemini"
	"github.com/kadirpekel/instruct/pkg/model/ollama"
	"github.com/kadirpekel/instruct/pkg/model/openai"
	"github.com/kadirpekel/instruct/pkg/propose"
	"github.com/kadirpekel/instruct/pkg/source"
)

// LLMFactory creates the model behind the completion service.
type LLMFactory func(ctx context.Context, cfg *config.LLMConfig) (model.LLM, error)

// DefaultLLMFactory creates LLM instances based on provider type.
func DefaultLLMFactory(ctx context.Context, cfg *config.LLMConfig) (model.LLM, error) {
	switch cfg.Provider {
	case config.LLMProviderAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
		})

	case config.LLMProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
			TLS:         cfg.TLS,
		})

	case config.LLMProviderGemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			BaseURL:     cfg.BaseURL,
		})

	case config.LLMProviderOllama:
		return ollama.New(ollama.Config{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			NumPredict:  cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
			TLS:         cfg.TLS,
		})

	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// DefaultSourceFactory creates the source-awareness provider. It returns nil
// for the none type.
func DefaultSourceFactory(cfg *config.SourceConfig) (propose.SourceProvider, error) {
	switch cfg.Type {
	case config.SourceNone, "":
		return nil, nil

	case config.SourceStatic:
		return source.Static(cfg.Text), nil

	case config.SourceFile:
		return &source.File{Path: cfg.Path}, nil

	case config.SourceMCP:
		return source.NewMCP(source.MCPConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Tool:    cfg.Tool,
		})

	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
	}
}
