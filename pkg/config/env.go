// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"strings"
)

// expandEnv replaces ${VAR}, ${VAR:-default} and $VAR in every string of a
// decoded document. Unset variables expand to "" unless a default is given.
// A "$" not followed by a variable name is kept.
func expandEnv(v any) any {
	switch val := v.(type) {
	case string:
		return os.Expand(val, lookupEnv)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expandEnv(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandEnv(item)
		}
		return out
	}
	return v
}

func lookupEnv(name string) string {
	if key, def, ok := strings.Cut(name, ":-"); ok {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return def
	}
	if !isEnvName(name) {
		return "$" + name
	}
	return os.Getenv(name)
}

func isEnvName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
