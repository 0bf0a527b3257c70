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

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// BoolPtr returns a pointer to b. Used for the tri-state toggles whose nil
// value means "use the default".
func BoolPtr(b bool) *bool {
	return Ptr(b)
}

// BoolValue dereferences b, falling back to def when b is nil.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
