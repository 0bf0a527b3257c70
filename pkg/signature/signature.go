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

// Package signature describes prediction tasks: their typed input and output
// fields, training examples, few-shot demos and the programs that run them.
//
// A signature is usually loaded from YAML:
//
//	description: Classify sentiment
//	inputs:
//	  - name: text
//	    type: string
//	outputs:
//	  - name: sentiment
//	    type: Sentiment
//	    values: [positive, negative, neutral]
package signature

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Well-known declared type names. Any other name is accepted and treated as
// an opaque scalar unless the field carries enum values or sub-fields.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeEnum   = "enum"
	TypeList   = "list"
	TypeMap    = "map"
	TypeObject = "object"
)

// Signature is the structural description of a prediction task.
type Signature struct {
	Name        string  `yaml:"name,omitempty" json:"name,omitempty"`
	Description string  `yaml:"description" json:"description"`
	Inputs      []Field `yaml:"inputs" json:"inputs"`
	Outputs     []Field `yaml:"outputs" json:"outputs"`
}

// Field is one declared input or output of a signature.
type Field struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Required defaults to true when unset.
	Required *bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Values lists the members of a closed enumeration, in declaration order.
	Values []any `yaml:"values,omitempty" json:"values,omitempty"`

	// Items describes list elements.
	Items *Field `yaml:"items,omitempty" json:"items,omitempty"`

	// Fields describes the members of a nested object.
	Fields []Field `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// IsRequired reports whether the field must be present.
func (f Field) IsRequired() bool {
	return f.Required == nil || *f.Required
}

// TypeName returns the declared type, defaulting to string.
func (f Field) TypeName() string {
	if t := strings.TrimSpace(f.Type); t != "" {
		return t
	}
	return TypeString
}

// Validate checks that every field is named and names are unique per side.
func (s *Signature) Validate() error {
	if s == nil {
		return errors.New("signature is nil")
	}
	if len(s.Inputs) == 0 {
		return errors.New("signature must declare at least one input field")
	}
	if len(s.Outputs) == 0 {
		return errors.New("signature must declare at least one output field")
	}

	seen := make(map[string]string)
	check := func(side string, fields []Field) error {
		for i, f := range fields {
			name := strings.TrimSpace(f.Name)
			if name == "" {
				return fmt.Errorf("%s[%d]: name is required", side, i)
			}
			if prev, ok := seen[name]; ok {
				return fmt.Errorf("%s[%d]: field %q already declared in %s", side, i, name, prev)
			}
			seen[name] = side
		}
		return nil
	}
	if err := check("inputs", s.Inputs); err != nil {
		return err
	}
	return check("outputs", s.Outputs)
}

// InputNames returns input field names in declaration order.
func (s *Signature) InputNames() []string {
	return fieldNames(s.Inputs)
}

// OutputNames returns output field names in declaration order.
func (s *Signature) OutputNames() []string {
	return fieldNames(s.Outputs)
}

// Lookup finds a field by name on either side.
func (s *Signature) Lookup(name string) (Field, bool) {
	for _, f := range s.Inputs {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range s.Outputs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func fieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// OutputSchema renders the outputs as a JSON schema object, the shape a
// model is asked to produce when running this signature.
func (s *Signature) OutputSchema() *jsonschema.Schema {
	return objectSchema(s.Description, s.Outputs)
}

// InputSchema renders the inputs as a JSON schema object.
func (s *Signature) InputSchema() *jsonschema.Schema {
	return objectSchema(s.Description, s.Inputs)
}

func objectSchema(description string, fields []Field) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string
	for _, f := range fields {
		props.Set(f.Name, fieldSchema(f))
		if f.IsRequired() {
			required = append(required, f.Name)
		}
	}
	return &jsonschema.Schema{
		Type:        "object",
		Description: description,
		Properties:  props,
		Required:    required,
	}
}

func fieldSchema(f Field) *jsonschema.Schema {
	schema := &jsonschema.Schema{Description: f.Description}

	if len(f.Values) > 0 {
		schema.Type = "string"
		schema.Enum = append([]any(nil), f.Values...)
		return schema
	}
	if len(f.Fields) > 0 {
		return objectSchema(f.Description, f.Fields)
	}

	switch strings.ToLower(f.TypeName()) {
	case TypeInt, "integer":
		schema.Type = "integer"
	case TypeFloat, "number", "double":
		schema.Type = "number"
	case TypeBool, "boolean":
		schema.Type = "boolean"
	case TypeList, "array":
		schema.Type = "array"
		if f.Items != nil {
			schema.Items = fieldSchema(*f.Items)
		}
	case TypeMap, "dict", TypeObject:
		schema.Type = "object"
	default:
		schema.Type = "string"
	}
	return schema
}
