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

// Package completion defines the structured completion service: a prompt
// goes in, named text fields come out.
package completion

import (
	"context"
	"fmt"
)

// OutputField names one text field the caller wants back.
type OutputField struct {
	Name        string
	Description string
}

// Request asks for one or more named text fields.
type Request struct {
	// Instruction frames the task (sent as the system prompt).
	Instruction string

	// Prompt is the free-text context.
	Prompt string

	// Outputs lists the fields to produce, in order.
	Outputs []OutputField

	// Temperature overrides the service default when set.
	Temperature *float64
}

// OutputNames returns the requested field names in order.
func (r *Request) OutputNames() []string {
	names := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		names[i] = o.Name
	}
	return names
}

// Result maps output field names to their text.
type Result map[string]string

// Get returns the named field or "".
func (r Result) Get(name string) string {
	return r[name]
}

// Service produces structured completions. Implementations own retries and
// timeouts.
type Service interface {
	Complete(ctx context.Context, req *Request) (Result, error)
}

// Func adapts a function to Service.
type Func func(ctx context.Context, req *Request) (Result, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req *Request) (Result, error) {
	return f(ctx, req)
}

// Text returns a Service that answers every requested field with text.
func Text(text string) Service {
	return Func(func(_ context.Context, req *Request) (Result, error) {
		res := make(Result, len(req.Outputs))
		for _, o := range req.Outputs {
			res[o.Name] = text
		}
		return res, nil
	})
}

// Failing returns a Service whose every call fails with err.
func Failing(err error) Service {
	return Func(func(context.Context, *Request) (Result, error) {
		return nil, fmt.Errorf("completion unavailable: %w", err)
	})
}
