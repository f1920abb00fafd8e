package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseIdle, PhaseUnderstanding, true},
		{PhaseUnderstanding, PhasePlanning, true},
		{PhasePlanning, PhaseExecuting, true},
		{PhaseExecuting, PhaseAwaitingApproval, true},
		{PhaseExecuting, PhaseComplete, true},
		{PhaseAwaitingApproval, PhaseComplete, true},
		{PhasePlanning, PhaseError, true},
		{PhaseIdle, PhaseError, true},

		{PhaseIdle, PhasePlanning, false},
		{PhasePlanning, PhaseUnderstanding, false},
		{PhaseComplete, PhaseIdle, false},
		{PhaseComplete, PhaseError, false},
		{PhaseError, PhaseIdle, false},
		{PhaseError, PhaseError, false},
		{PhaseExecuting, PhaseExecuting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CanTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestPhase_Terminal(t *testing.T) {
	for _, p := range AllPhases() {
		assert.Equal(t, p == PhaseComplete, p.Terminal(), p)
	}
	assert.True(t, PhaseError.Terminal())
}

func TestTaskState_Clone(t *testing.T) {
	tool := "write_file"
	s := TaskState{Phase: PhaseExecuting, Plan: []PlanStep{{Description: "a", Tool: &tool}}}

	c := s.Clone()
	*c.Plan[0].Tool = "read_file"
	c.Plan[0].Description = "b"

	assert.Equal(t, "write_file", *s.Plan[0].Tool)
	assert.Equal(t, "a", s.Plan[0].Description)
}

func TestResponse_Text(t *testing.T) {
	r := &Response{Content: []ContentBlock{
		{Type: BlockText, Text: "first"},
		{Type: BlockToolUse, ID: "x", Name: "read_file"},
		{Type: BlockText, Text: "second"},
	}}
	assert.Equal(t, "first\nsecond", r.Text())
	assert.Equal(t, 7, Usage{InputTokens: 3, OutputTokens: 4}.Total())
}
