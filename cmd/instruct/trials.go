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
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/kadirpekel/instruct/pkg/propose"
	"github.com/kadirpekel/instruct/pkg/runtime"
	"github.com/kadirpekel/instruct/pkg/trial"
)

// TrialsCmd inspects and records trials in the configured trial store.
type TrialsCmd struct {
	List   TrialsListCmd   `cmd:"" help:"List trial runs."`
	Show   TrialsShowCmd   `cmd:"" help:"Show the trials of a run."`
	Record TrialsRecordCmd `cmd:"" help:"Record a scored trial."`
}

type TrialsListCmd struct{}

func (c *TrialsListCmd) Run(cli *CLI) error {
	return withTrialStore(cli, func(ctx context.Context, store trial.Store) error {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		writeRunsTable(os.Stdout, runs)
		return nil
	})
}

type TrialsShowCmd struct {
	RunID string `arg:"" name:"run" help:"Run ID."`
}

func (c *TrialsShowCmd) Run(cli *CLI) error {
	return withTrialStore(cli, func(ctx context.Context, store trial.Store) error {
		logs, err := store.Logs(ctx, c.RunID)
		if err != nil {
			return err
		}
		writeTrialsTable(os.Stdout, logs)
		return nil
	})
}

type TrialsRecordCmd struct {
	RunID       string   `arg:"" name:"run" help:"Run ID."`
	Instruction []string `short:"i" required:"" help:"Instruction per predictor, in predictor order."`
	Score       *float64 `help:"Trial score."`
	Index       *int     `help:"Trial index (default: next)."`
}

func (c *TrialsRecordCmd) Run(cli *CLI) error {
	return withTrialStore(cli, func(ctx context.Context, store trial.Store) error {
		t := trial.Trial{Index: trial.NextIndex, Score: c.Score, Instructions: make(map[int]string, len(c.Instruction))}
		if c.Index != nil {
			t.Index = *c.Index
		}
		for i, instruction := range c.Instruction {
			t.Instructions[i] = instruction
		}
		recorded, err := store.Record(ctx, c.RunID, t)
		if err != nil {
			return err
		}
		fmt.Printf("Recorded trial %d in run %s\n", recorded.Index, recorded.RunID)
		return nil
	})
}

func withTrialStore(cli *CLI, fn func(context.Context, trial.Store) error) error {
	ctx := context.Background()
	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if cfg.Database == nil {
		return fmt.Errorf("trials need a database section in the config; the in-memory store does not outlive the command")
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()
	return fn(ctx, rt.Trials())
}

func writeRunsTable(w io.Writer, runs []trial.RunSummary) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Run", "Trials", "Best Score"})
	for _, run := range runs {
		table.Append([]string{run.ID, strconv.Itoa(run.Trials), formatScore(run.BestScore)})
	}
	table.Render()
}

func writeTrialsTable(w io.Writer, logs propose.TrialLogs) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(true)
	table.SetColWidth(100)
	table.SetAutoFormatHeaders(false)
	table.SetRowLine(true)
	table.SetHeader([]string{"Trial", "Predictor", "Instruction", "Score"})

	indices := make([]int, 0, len(logs))
	for i := range logs {
		indices = append(indices, i)
	}
	slices.Sort(indices)

	for _, i := range indices {
		entry := logs[i]
		predictors := make([]int, 0, len(entry.Instructions))
		for p := range entry.Instructions {
			predictors = append(predictors, p)
		}
		slices.Sort(predictors)
		for _, p := range predictors {
			table.Append([]string{strconv.Itoa(i), strconv.Itoa(p), entry.Instructions[p], formatScore(entry.Score)})
		}
	}
	table.Render()
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 4, 64)
}
