package graph

import (
	"testing"

	"github.com/dukex/playbook/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(id, onSuccess, onFailure string) *models.StepSpec {
	return &models.StepSpec{
		ID:              id,
		Kind:            models.StepKindNoop,
		TimeoutSeconds:  1,
		OnSuccessStepID: onSuccess,
		OnFailureStepID: onFailure,
	}
}

func optional(s *models.StepSpec) *models.StepSpec {
	s.IsOptional = true

	return s
}

func definition(steps ...*models.StepSpec) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{ID: "def-1", Name: "test", Steps: steps}
}

func states(pairs ...any) States {
	out := States{}

	for i := 0; i < len(pairs); i += 2 {
		switch v := pairs[i+1].(type) {
		case models.NodeStatus:
			out[pairs[i].(string)] = &models.NodeState{NodeID: pairs[i].(string), Status: v}
		case *models.NodeState:
			v.NodeID = pairs[i].(string)
			out[v.NodeID] = v
		}
	}

	return out
}

func TestBuild_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		def     *models.WorkflowDefinition
		problem string
	}{
		{
			name:    "no steps",
			def:     definition(),
			problem: "definition has no steps",
		},
		{
			name:    "missing edge target",
			def:     definition(step("a", "ghost", "")),
			problem: `step "a": success target "ghost" does not exist`,
		},
		{
			name:    "self success target",
			def:     definition(step("a", "a", "")),
			problem: `step "a" lists itself as its own success target`,
		},
		{
			name:    "self failure target",
			def:     definition(step("a", "", "a")),
			problem: `step "a" lists itself as its own failure target`,
		},
		{
			name:    "duplicate id",
			def:     definition(step("a", "", ""), step("a", "", "")),
			problem: `duplicate step id "a"`,
		},
		{
			name:    "required node in cycle",
			def:     definition(step("a", "b", ""), optional(step("b", "", "a"))),
			problem: `cycle [a b] contains required step "a"`,
		},
		{
			name: "negative retries",
			def: definition(&models.StepSpec{
				ID: "a", Kind: models.StepKindLog, TimeoutSeconds: 1, MaxRetries: -1,
			}),
			problem: `step "a": max retries must be >= 0, got -1`,
		},
		{
			name:    "zero timeout",
			def:     definition(&models.StepSpec{ID: "a", Kind: models.StepKindLog}),
			problem: `step "a": timeout must be > 0, got 0`,
		},
		{
			name: "unknown condition operator",
			def: definition(&models.StepSpec{
				ID: "a", Kind: models.StepKindLog, TimeoutSeconds: 1,
				Condition: &models.Condition{Field: "x", Operator: "like"},
			}),
			problem: `step "a": unknown condition operator: "like"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g, err := Build(tt.def)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, IsGraphValidation(err))

			var verr *GraphValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Problems, tt.problem)
		})
	}
}

func TestBuild_OptionalCycleIsLegal(t *testing.T) {
	t.Parallel()

	g, err := Build(definition(
		step("start", "retry-a", ""),
		optional(step("retry-a", "retry-b", "")),
		optional(step("retry-b", "", "retry-a")),
	))
	require.NoError(t, err)

	back := g.BackEdges()
	require.Len(t, back, 1)
	assert.Equal(t, Edge{From: "retry-b", To: "retry-a", Outcome: OutcomeFailure, Back: true}, back[0])
	assert.Len(t, g.Incoming("retry-a"), 1, "back edge never gates readiness")
	assert.Equal(t, []string{"start"}, g.Roots())
}

func TestDownstreamOf(t *testing.T) {
	t.Parallel()

	g, err := Build(definition(step("a", "b", "c"), step("b", "", ""), step("c", "", "")))
	require.NoError(t, err)

	next, ok := g.DownstreamOf("a", OutcomeSuccess)
	assert.True(t, ok)
	assert.Equal(t, "b", next)

	next, ok = g.DownstreamOf("a", OutcomeFailure)
	assert.True(t, ok)
	assert.Equal(t, "c", next)

	_, ok = g.DownstreamOf("b", OutcomeSuccess)
	assert.False(t, ok)

	_, ok = g.DownstreamOf("missing", OutcomeSuccess)
	assert.False(t, ok)

	assert.Equal(t, []string{"b", "c"}, g.Descendants("a"))
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []string{"a", "b", "c"}, g.Order())
}

func TestEdgeStateOf(t *testing.T) {
	t.Parallel()

	g, err := Build(definition(
		step("req", "s1", "f1"),
		optional(step("opt", "s2", "f2")),
		step("s1", "", ""), step("f1", "", ""), step("s2", "", ""), step("f2", "", ""),
	))
	require.NoError(t, err)

	reqSuccess := Edge{From: "req", To: "s1", Outcome: OutcomeSuccess}
	reqFailure := Edge{From: "req", To: "f1", Outcome: OutcomeFailure}
	optSuccess := Edge{From: "opt", To: "s2", Outcome: OutcomeSuccess}
	optFailure := Edge{From: "opt", To: "f2", Outcome: OutcomeFailure}

	tests := []struct {
		name    string
		state   *models.NodeState
		edge    Edge
		outcome EdgeState
	}{
		{"pending", &models.NodeState{Status: models.NodeStatusPending}, reqSuccess, EdgePending},
		{"running", &models.NodeState{Status: models.NodeStatusRunning}, reqSuccess, EdgePending},
		{"completed success", &models.NodeState{Status: models.NodeStatusCompleted}, reqSuccess, EdgeFired},
		{"completed failure", &models.NodeState{Status: models.NodeStatusCompleted}, reqFailure, EdgeNotTaken},
		{"required failed success", &models.NodeState{Status: models.NodeStatusFailed}, reqSuccess, EdgeBlocked},
		{"required failed failure", &models.NodeState{Status: models.NodeStatusFailed}, reqFailure, EdgeFired},
		{"optional failed success", &models.NodeState{Status: models.NodeStatusFailed}, optSuccess, EdgeFired},
		{"optional failed failure", &models.NodeState{Status: models.NodeStatusFailed}, optFailure, EdgeNotTaken},
		{"blocked success", &models.NodeState{Status: models.NodeStatusBlocked}, reqSuccess, EdgeBlocked},
		{"blocked failure", &models.NodeState{Status: models.NodeStatusBlocked}, reqFailure, EdgeBlocked},
		{"branch skip", &models.NodeState{Status: models.NodeStatusSkipped, SkipKind: models.SkipKindBranch}, reqSuccess, EdgeNotTaken},
		{"condition skip success", &models.NodeState{Status: models.NodeStatusSkipped, SkipKind: models.SkipKindCondition}, reqSuccess, EdgeFired},
		{"condition skip failure", &models.NodeState{Status: models.NodeStatusSkipped, SkipKind: models.SkipKindCondition}, reqFailure, EdgeNotTaken},
		{"operator skip success", &models.NodeState{Status: models.NodeStatusSkipped, SkipKind: models.SkipKindOperator}, reqSuccess, EdgeBlocked},
		{"operator skip failure", &models.NodeState{Status: models.NodeStatusSkipped, SkipKind: models.SkipKindOperator}, reqFailure, EdgeNotTaken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := states(tt.edge.From, tt.state)
			assert.Equal(t, tt.outcome, g.EdgeStateOf(tt.edge, s), tt.outcome.String())
		})
	}
}

func TestReadyNodes(t *testing.T) {
	t.Parallel()

	// a -> b -> d, a -failure-> c -> d
	g, err := Build(definition(
		step("a", "b", "c"),
		step("b", "d", ""),
		step("c", "d", ""),
		step("d", "", ""),
		step("e", "", ""),
	))
	require.NoError(t, err)

	s := states(
		"a", models.NodeStatusPending,
		"b", models.NodeStatusPending,
		"c", models.NodeStatusPending,
		"d", models.NodeStatusPending,
		"e", models.NodeStatusPending,
	)
	assert.Equal(t, []string{"a", "e"}, g.ReadyNodes(s))

	s["a"].Status = models.NodeStatusCompleted
	assert.Equal(t, []string{"b", "e"}, g.ReadyNodes(s))
	assert.Equal(t, NotTaken, g.Resolve("c", s))
	assert.Equal(t, Waiting, g.Resolve("d", s))

	s["b"].Status = models.NodeStatusCompleted
	s["c"].Status = models.NodeStatusSkipped
	s["c"].SkipKind = models.SkipKindBranch
	assert.Equal(t, Ready, g.Resolve("d", s))

	s["b"].Status = models.NodeStatusFailed
	assert.Equal(t, Blocked, g.Resolve("d", s))
	assert.Equal(t, []string{"b"}, g.BlockedBy("d", s))

	s["d"].Forced = true
	assert.Equal(t, Ready, g.Resolve("d", s))
}

func TestResolve_SharedSuccessAndFailureTarget(t *testing.T) {
	t.Parallel()

	// a always continues to cleanup; x feeds cleanup through its success edge only.
	g, err := Build(definition(
		step("a", "cleanup", "cleanup"),
		step("x", "cleanup", ""),
		step("cleanup", "", ""),
	))
	require.NoError(t, err)
	require.Len(t, g.Incoming("cleanup"), 3)

	s := states(
		"a", models.NodeStatusFailed,
		"x", models.NodeStatusCompleted,
		"cleanup", models.NodeStatusPending,
	)
	assert.Equal(t, Ready, g.Resolve("cleanup", s))
	assert.Empty(t, g.BlockedBy("cleanup", s))
	assert.Equal(t, []string{"cleanup"}, g.ReadyNodes(s))

	s["a"].Status = models.NodeStatusCompleted
	assert.Equal(t, Ready, g.Resolve("cleanup", s))

	s["a"].Status = models.NodeStatusRunning
	assert.Equal(t, Waiting, g.Resolve("cleanup", s))

	// A blocked predecessor has no edge that fires, so it still blocks.
	s["a"].Status = models.NodeStatusBlocked
	assert.Equal(t, Blocked, g.Resolve("cleanup", s))
	assert.Equal(t, []string{"a"}, g.BlockedBy("cleanup", s))

	s["a"].Status = models.NodeStatusFailed
	s["x"].Status = models.NodeStatusFailed
	assert.Equal(t, Blocked, g.Resolve("cleanup", s))
	assert.Equal(t, []string{"x"}, g.BlockedBy("cleanup", s))
}
