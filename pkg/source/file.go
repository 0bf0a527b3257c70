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

package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kadirpekel/instruct/pkg/signature"
)

const maxDocLength = 400

var (
	definitionPattern = regexp.MustCompile(`^\s*(?:async\s+)?(?:func|def|function|fn)\b.*\(`)
	commentPrefixes   = []string{"///", "//", "#", "--"}
)

// File describes a program from its predictors and the source file it
// points at. Path overrides Program.Source when set.
type File struct {
	Path string
}

// Describe returns "" when the program has neither predictors nor a
// readable source. A missing source file is an error.
func (f *File) Describe(_ context.Context, program *signature.Program) (string, error) {
	if program == nil {
		return "", nil
	}

	parts := []string{}
	if s := describePredictors(program); s != "" {
		parts = append(parts, s)
	}

	path := f.Path
	if path == "" {
		path = program.Source
	}
	if path != "" {
		s, err := describeFile(path)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}

	return strings.Join(parts, " "), nil
}

func describeFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open program source: %w", err)
	}
	defer file.Close()

	var (
		lines, defs int
		doc         []string
		inDoc       = true
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lines++
		if definitionPattern.MatchString(line) {
			defs++
		}

		if !inDoc {
			continue
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" && len(doc) == 0, strings.HasPrefix(trimmed, "#!"):
		case isComment(trimmed):
			doc = append(doc, stripComment(trimmed))
		default:
			inDoc = false
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read program source: %w", err)
	}

	s := fmt.Sprintf("Source %s: %d lines, %d definitions.", filepath.Base(path), lines, defs)
	if text := strings.Join(strings.Fields(strings.Join(doc, " ")), " "); text != "" {
		if len(text) > maxDocLength {
			text = text[:maxDocLength] + "..."
		}
		s += " " + text
	}
	return s, nil
}

func isComment(line string) bool {
	for _, p := range commentPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func stripComment(line string) string {
	for _, p := range commentPrefixes {
		if rest, ok := strings.CutPrefix(line, p); ok {
			return strings.TrimSpace(rest)
		}
	}
	return line
}
