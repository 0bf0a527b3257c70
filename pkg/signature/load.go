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

package signature

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// LoadSignature reads a signature from a YAML or JSON file.
func LoadSignature(path string) (*Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature %s: %w", path, err)
	}
	return ParseSignature(data)
}

// ParseSignature decodes a YAML (or JSON) signature document.
func ParseSignature(data []byte) (*Signature, error) {
	var sig Signature
	if err := yaml.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("failed to parse signature: %w", err)
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	return &sig, nil
}

// LoadProgram reads a program definition from a YAML or JSON file. Each
// predictor either embeds its signature or names a signature file in
// signature_file, resolved relative to the program file.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program %s: %w", path, err)
	}

	var raw struct {
		Name       string `yaml:"name"`
		Source     string `yaml:"source"`
		Predictors []struct {
			Predictor     `yaml:",inline"`
			SignatureFile string `yaml:"signature_file"`
		} `yaml:"predictors"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse program %s: %w", path, err)
	}

	prog := &Program{Name: raw.Name, Source: raw.Source}
	if prog.Source != "" && !filepath.IsAbs(prog.Source) {
		prog.Source = filepath.Join(filepath.Dir(path), prog.Source)
	}
	for i, p := range raw.Predictors {
		pred := p.Predictor
		if p.SignatureFile != "" {
			sigPath := p.SignatureFile
			if !filepath.IsAbs(sigPath) {
				sigPath = filepath.Join(filepath.Dir(path), sigPath)
			}
			sig, err := LoadSignature(sigPath)
			if err != nil {
				return nil, fmt.Errorf("predictor %d: %w", i, err)
			}
			pred.Signature = sig
		}
		if pred.Signature == nil {
			return nil, fmt.Errorf("predictor %d (%s): signature is required", i, pred.Name)
		}
		if err := pred.Signature.Validate(); err != nil {
			return nil, fmt.Errorf("predictor %d (%s): %w", i, pred.Name, err)
		}
		prog.Predictors = append(prog.Predictors, pred)
	}
	if len(prog.Predictors) == 0 {
		return nil, fmt.Errorf("program %s declares no predictors", path)
	}
	return prog, nil
}

// LoadExamples reads training examples. Supported formats by extension:
// .json (array of records), .jsonl/.ndjson, .yaml/.yml (list of records)
// and .xlsx (first sheet, header row holds field names). A record is either
// {"inputs": {...}, "outputs": {...}} or a flat object whose keys are split
// between inputs and outputs by the signature.
func LoadExamples(path string, sig *Signature) ([]Example, error) {
	records, err := readRecords(path, sig)
	if err != nil {
		return nil, err
	}
	examples := make([]Example, 0, len(records))
	for _, rec := range records {
		in, out, _ := splitRecord(rec, sig)
		examples = append(examples, Example{Inputs: in, Outputs: out})
	}
	return examples, nil
}

// LoadDemos reads few-shot demos in any format LoadExamples accepts. A
// "reasoning" key carries the optional free-text rationale.
func LoadDemos(path string, sig *Signature) ([]Demo, error) {
	records, err := readRecords(path, sig)
	if err != nil {
		return nil, err
	}
	demos := make([]Demo, 0, len(records))
	for _, rec := range records {
		in, out, reasoning := splitRecord(rec, sig)
		demos = append(demos, Demo{Inputs: in, Outputs: out, Reasoning: reasoning})
	}
	return demos, nil
}

func readRecords(path string, sig *Signature) ([]map[string]any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return readJSONLines(path)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var records []map[string]any
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return records, nil
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var records []map[string]any
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return records, nil
	case ".xlsx":
		return readSpreadsheet(path, sig)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q (use .json, .jsonl, .yaml or .xlsx)", filepath.Ext(path))
	}
}

func readJSONLines(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var records []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	return records, nil
}

func readSpreadsheet(path string, sig *Signature) ([]map[string]any, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	var records []map[string]any
	for _, row := range rows[1:] {
		rec := make(map[string]any)
		for i, cell := range row {
			if i >= len(header) || header[i] == "" || strings.TrimSpace(cell) == "" {
				continue
			}
			rec[header[i]] = coerceCell(sig, header[i], cell)
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}

// coerceCell turns a spreadsheet cell into the declared scalar type; cells
// that do not parse stay strings.
func coerceCell(sig *Signature, name, cell string) any {
	if sig == nil {
		return cell
	}
	field, ok := sig.Lookup(name)
	if !ok {
		return cell
	}
	switch strings.ToLower(field.TypeName()) {
	case TypeInt, "integer":
		if v, err := strconv.ParseInt(strings.TrimSpace(cell), 10, 64); err == nil {
			return v
		}
	case TypeFloat, "number", "double":
		if v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			return v
		}
	case TypeBool, "boolean":
		if v, err := strconv.ParseBool(strings.TrimSpace(cell)); err == nil {
			return v
		}
	}
	return cell
}

func splitRecord(rec map[string]any, sig *Signature) (map[string]any, map[string]any, string) {
	reasoning, _ := rec["reasoning"].(string)

	in, hasIn := rec["inputs"].(map[string]any)
	out, hasOut := rec["outputs"].(map[string]any)
	if hasIn || hasOut {
		if in == nil {
			in = map[string]any{}
		}
		if out == nil {
			out = map[string]any{}
		}
		return in, out, reasoning
	}

	outputs := map[string]bool{}
	if sig != nil {
		for _, name := range sig.OutputNames() {
			outputs[name] = true
		}
	}

	in = make(map[string]any)
	out = make(map[string]any)
	for k, v := range rec {
		switch {
		case k == "reasoning":
		case outputs[k]:
			out[k] = v
		default:
			in[k] = v
		}
	}
	return in, out, reasoning
}
