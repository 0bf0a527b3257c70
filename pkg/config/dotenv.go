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
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/joho/godotenv"
)

// envFiles are loaded in order; earlier files win because godotenv never
// overrides variables that are already set.
var envFiles = []string{".env.local", ".env"}

// LoadEnvFiles loads .env.local and .env from each directory in dirs, then
// from the working directory. Variables already present in the environment
// are left untouched. Missing files are ignored.
func LoadEnvFiles(dirs ...string) error {
	dirs = append(dirs, ".")
	seen := make(map[string]bool)

	for _, dir := range dirs {
		for _, name := range envFiles {
			path := filepath.Join(dir, name)
			abs, err := filepath.Abs(path)
			if err == nil {
				path = abs
			}
			if seen[path] {
				continue
			}
			seen[path] = true

			if err := godotenv.Load(path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return fmt.Errorf("failed to load %s: %w", path, err)
			}
			slog.Debug("Loaded environment file", "path", path)
		}
	}
	return nil
}
