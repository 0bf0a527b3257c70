package propose

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 { return &v }

func TestInstructionHistory(t *testing.T) {
	logs := TrialLogs{
		0: {Instructions: map[int]string{0: "A"}, Score: score(0.5)},
		1: {Instructions: map[int]string{0: "A"}, Score: score(0.7)},
		2: {Instructions: map[int]string{0: "B"}, Score: score(0.9)},
		3: {Instructions: map[int]string{0: "C"}, Score: score(0.1)},
		4: {Instructions: map[int]string{0: "D"}},
		5: {Instructions: map[int]string{0: "  "}, Score: score(1)},
		6: {Instructions: map[int]string{1: "other predictor"}, Score: score(1)},
		7: {Instructions: map[int]string{0: "E"}, Score: score(math.NaN())},
	}

	got := InstructionHistory(logs, 0)
	assert.Equal(t, "C | Score: 0.1000\nA | Score: 0.6000\nB | Score: 0.9000", got)

	assert.Equal(t, "other predictor | Score: 1.0000", InstructionHistory(logs, 1))
}

func TestInstructionHistory_TopFiveAscending(t *testing.T) {
	logs := TrialLogs{}
	for i := range 9 {
		logs[i] = TrialLogEntry{
			Instructions: map[int]string{0: "instruction " + strconv.Itoa(i)},
			Score:        score(float64((i*7)%9) / 10),
		}
	}

	lines := strings.Split(InstructionHistory(logs, 0), "\n")
	require.Len(t, lines, MaxHistoryInstructions)

	var prev float64
	for i, line := range lines {
		_, raw, ok := strings.Cut(line, " | Score: ")
		require.True(t, ok, line)
		s, err := strconv.ParseFloat(raw, 64)
		require.NoError(t, err)
		if i > 0 {
			assert.GreaterOrEqual(t, s, prev)
		}
		prev = s
	}
	assert.InDelta(t, 0.8, prev, 1e-9, "best instruction comes last")
}

func TestInstructionHistory_TiesKeepTrialOrder(t *testing.T) {
	logs := TrialLogs{
		2: {Instructions: map[int]string{0: "second"}, Score: score(0.5)},
		1: {Instructions: map[int]string{0: "first"}, Score: score(0.5)},
	}
	// Descending keeps first before second; reversal puts first last.
	assert.Equal(t, "second | Score: 0.5000\nfirst | Score: 0.5000", InstructionHistory(logs, 0))
}

func TestInstructionHistory_Empty(t *testing.T) {
	assert.Empty(t, InstructionHistory(nil, 0))
	assert.Empty(t, InstructionHistory(TrialLogs{0: {Instructions: map[int]string{0: "A"}}}, 0))
}

func TestInstructionHistory_DoesNotMutate(t *testing.T) {
	logs := TrialLogs{0: {Instructions: map[int]string{0: " A "}, Score: score(0.5)}}
	InstructionHistory(logs, 0)
	assert.Equal(t, " A ", logs[0].Instructions[0])
	assert.Equal(t, 0.5, *logs[0].Score)
}
