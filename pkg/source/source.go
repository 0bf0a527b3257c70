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

// Package source provides program descriptions for source-aware proposals.
//
// Three providers are available: Static returns fixed text, File describes a
// program from its predictors and source file, and MCP asks a tool on an MCP
// server.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/instruct/pkg/propose"
	"github.com/kadirpekel/instruct/pkg/signature"
)

// Static returns the same note for every program.
type Static string

func (s Static) Describe(context.Context, *signature.Program) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// describePredictors renders "name (in1, in2 -> out)" per predictor.
func describePredictors(program *signature.Program) string {
	if len(program.Predictors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(program.Predictors))
	for _, p := range program.Predictors {
		if p.Signature == nil {
			parts = append(parts, p.Name)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s -> %s)", p.Name,
			strings.Join(p.Signature.InputNames(), ", "),
			strings.Join(p.Signature.OutputNames(), ", ")))
	}

	noun := "predictors"
	if len(parts) == 1 {
		noun = "predictor"
	}
	return fmt.Sprintf("Program %q has %d %s: %s.", program.Name, len(parts), noun, strings.Join(parts, "; "))
}

var (
	_ propose.SourceProvider = Static("")
	_ propose.SourceProvider = (*File)(nil)
	_ propose.SourceProvider = (*MCP)(nil)
)
