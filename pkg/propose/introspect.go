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

package propose

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/instruct/pkg/signature"
)

// FieldKind classifies a field's declared type once, at introspection.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindEnum
	KindCollection
	KindNested
)

func (k FieldKind) String() string {
	switch k {
	case KindEnum:
		return "enum"
	case KindCollection:
		return "collection"
	case KindNested:
		return "nested"
	default:
		return "scalar"
	}
}

func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// FieldDescriptor is the engine's view of one schema field.
type FieldDescriptor struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Kind        FieldKind `json:"kind"`
	EnumValues  []string  `json:"enum_values,omitempty"`
}

// IsEnum reports whether the field is a closed enumeration.
func (d FieldDescriptor) IsEnum() bool {
	return d.Kind == KindEnum
}

// IsComplex reports whether the field is anything other than a plain scalar.
func (d FieldDescriptor) IsComplex() bool {
	return d.Kind != KindScalar
}

// Render formats the field as "name (type)", adding the enum members.
func (d FieldDescriptor) Render() string {
	s := fmt.Sprintf("%s (%s)", d.Name, d.Type)
	if d.IsEnum() {
		s += fmt.Sprintf(" [values: %s]", strings.Join(d.EnumValues, ", "))
	}
	return s
}

var collectionTypes = map[string]bool{
	"list": true, "array": true, "set": true, "tuple": true,
	"map": true, "dict": true,
}

var nestedTypes = map[string]bool{
	"object": true, "struct": true,
}

// Introspect describes fields in order. It never fails: unknown types are
// scalar and required unless declared otherwise.
func Introspect(fields []signature.Field) []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(fields))
	for _, f := range fields {
		out = append(out, describe(f))
	}
	return out
}

func describe(f signature.Field) FieldDescriptor {
	d := FieldDescriptor{
		Name:        f.Name,
		Type:        f.TypeName(),
		Description: f.Description,
		Required:    f.IsRequired(),
		Kind:        KindScalar,
	}

	typ := strings.ToLower(d.Type)
	switch {
	case len(f.Values) > 0:
		d.Kind = KindEnum
		d.EnumValues = make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			d.EnumValues = append(d.EnumValues, enumMember(v))
		}
	case collectionTypes[typ]:
		d.Kind = KindCollection
	case nestedTypes[typ] || len(f.Fields) > 0:
		d.Kind = KindNested
	}
	return d
}

func enumMember(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
