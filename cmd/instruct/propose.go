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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"

	"github.com/kadirpekel/instruct/pkg/config"
	"github.com/kadirpekel/instruct/pkg/propose"
	"github.com/kadirpekel/instruct/pkg/runtime"
	"github.com/kadirpekel/instruct/pkg/signature"
)

// ProposeCmd proposes instructions for a schema and training set.
type ProposeCmd struct {
	Schema  string `required:"" help:"Task schema file (YAML or JSON)." type:"existingfile" placeholder:"PATH"`
	Data    string `required:"" help:"Training set (JSON, JSONL, YAML or XLSX)." type:"existingfile" placeholder:"PATH"`
	Demos   string `help:"Few-shot demonstrations file." type:"existingfile" placeholder:"PATH"`
	Program string `help:"Program file; proposes per predictor when set." type:"existingfile" placeholder:"PATH"`
	Current string `help:"Instruction currently in use."`
	Trials  string `help:"Trial run ID whose history feeds the proposal." placeholder:"RUN"`

	NumCandidates int     `short:"n" name:"num-candidates" help:"Number of candidates (default from config)."`
	Seed          *uint64 `help:"Seed for tip and history selection."`
	Output        string  `short:"o" help:"Output format: table, json." default:"table" enum:"table,json"`
	ShowContext   bool    `name:"show-context" help:"Print the assembled proposal context."`

	Provider string `help:"LLM provider override (anthropic, openai, gemini, ollama)."`
	Model    string `help:"Model name override."`
}

func (c *ProposeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if err := c.applyOverrides(cfg); err != nil {
		return err
	}

	sig, err := signature.LoadSignature(c.Schema)
	if err != nil {
		return err
	}
	trainset, err := signature.LoadExamples(c.Data, sig)
	if err != nil {
		return err
	}
	var demos []signature.Demo
	if c.Demos != "" {
		if demos, err = signature.LoadDemos(c.Demos, sig); err != nil {
			return err
		}
	}
	var program *signature.Program
	if c.Program != "" {
		if program, err = signature.LoadProgram(c.Program); err != nil {
			return err
		}
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()

	logs, err := rt.TrialLogs(ctx, c.Trials)
	if err != nil {
		return err
	}

	p, err := rt.NewProposer(ctx, trainset, nil, program)
	if err != nil {
		return err
	}

	var res *propose.Result
	if program != nil {
		res, err = p.ProposeForProgram(ctx, trainset, program, demosFor(program, demos), logs, c.NumCandidates)
	} else {
		opts := []propose.CallOption{
			propose.WithDemos(demos),
			propose.WithCurrentInstruction(c.Current),
			propose.WithTrialLogs(logs),
		}
		if c.NumCandidates > 0 {
			opts = append(opts, propose.WithNumCandidates(c.NumCandidates))
		}
		res, err = p.ProposeInstructions(ctx, sig, trainset, opts...)
	}
	if err != nil {
		return err
	}

	if c.Output == "json" {
		return writeResultJSON(os.Stdout, res)
	}
	writeResultTable(os.Stdout, res)
	if c.ShowContext {
		fmt.Printf("\nContext:\n%s\n", res.Context())
	}
	return nil
}

func (c *ProposeCmd) applyOverrides(cfg *config.Config) error {
	changed := false
	if c.Provider != "" {
		cfg.LLM.Provider = config.LLMProvider(c.Provider)
		cfg.LLM.Model = ""
		cfg.LLM.APIKey = ""
		changed = true
	}
	if c.Model != "" {
		cfg.LLM.Model = c.Model
		changed = true
	}
	if c.Seed != nil {
		cfg.Proposer.Seed = c.Seed
	}
	if !changed {
		return nil
	}
	cfg.LLM.SetDefaults()
	if err := cfg.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	return nil
}

// demosFor offers the loaded demos as the single demo set of every
// predictor.
func demosFor(program *signature.Program, demos []signature.Demo) propose.DemoCandidates {
	if len(demos) == 0 {
		return nil
	}
	candidates := make(propose.DemoCandidates, len(program.Predictors))
	for i := range program.Predictors {
		candidates[i] = [][]signature.Demo{demos}
	}
	return candidates
}

func writeResultJSON(w io.Writer, res *propose.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

func writeResultTable(w io.Writer, res *propose.Result) {
	meta := res.Metadata()

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(true)
	table.SetColWidth(100)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)

	if perPredictor := res.PredictorInstructions(); perPredictor != nil {
		table.SetHeader([]string{"Predictor", "Rank", "Instruction"})
		for i := 0; i < len(perPredictor); i++ {
			for rank, instruction := range perPredictor[i] {
				table.Append([]string{strconv.Itoa(i), strconv.Itoa(rank + 1), instruction})
			}
		}
	} else {
		table.SetHeader([]string{"Rank", "Instruction"})
		for rank, instruction := range res.Candidates() {
			table.Append([]string{strconv.Itoa(rank + 1), instruction})
		}
	}
	table.Render()

	var details []string
	details = append(details, "proposal "+meta.ProposalID)
	if meta.Model != "" {
		details = append(details, "model "+meta.Model)
	}
	details = append(details, fmt.Sprintf("%d examples", meta.NumExamplesAnalyzed))
	if meta.Tip != "" {
		details = append(details, "tip "+meta.Tip)
	}
	if meta.ContextTokens > 0 {
		details = append(details, fmt.Sprintf("%d context tokens", meta.ContextTokens))
	}
	if meta.Fallback {
		details = append(details, "fallback candidates")
	}
	fmt.Fprintln(w, strings.Join(details, ", "))
}
