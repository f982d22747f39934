package inference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

func newTestService() *Service {
	return NewService(config.DefaultInferenceConfig(), "gpt-4o", nil)
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestPhaseDefaults(t *testing.T) {
	s := newTestService()

	tests := []struct {
		phase       models.Phase
		maxTemp     float64
		reasoning   bool
		description string
	}{
		{models.PhaseObservation, 0.3, false, "accuracy bound"},
		{models.PhaseReasoning, 1.0, true, "exploration"},
		{models.PhasePlanning, 0.5, true, "strategy"},
		{models.PhaseAction, 0.2, false, "reliability"},
		{models.PhaseReflection, 0.6, true, "evaluation"},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			p := s.Resolve("a1", "ops", tt.phase)
			assert.Equal(t, "gpt-4o", p.Model)
			assert.LessOrEqual(t, p.Temperature, tt.maxTemp, tt.description)
			if tt.reasoning {
				assert.Greater(t, p.ReasoningTokens, 0)
			} else {
				assert.Zero(t, p.ReasoningTokens)
			}
		})
	}
}

func TestOverridePrecedence(t *testing.T) {
	s := newTestService()

	// Session-scoped override, then a next_call on top of it.
	_, err := s.RequestOverride(Request{
		AgentID: "a1", ChannelID: "ops", Phase: models.PhaseAction,
		Scope: ScopeSession, Reason: "long run",
		Suggested: Patch{Temperature: floatPtr(0.8)},
	})
	require.NoError(t, err)

	_, err = s.RequestOverride(Request{
		AgentID: "a1", ChannelID: "ops", Phase: models.PhaseAction,
		Scope: ScopeNextCall, Reason: "one careful call",
		Suggested: Patch{Temperature: floatPtr(0.6)},
	})
	require.NoError(t, err)

	// First call sees the next_call value and consumes it.
	p := s.ResolveForCall("a1", "ops", models.PhaseAction)
	assert.InDelta(t, 0.6, p.Temperature, 1e-9)

	// Subsequent call falls back to the session override.
	p = s.ResolveForCall("a1", "ops", models.PhaseAction)
	assert.InDelta(t, 0.8, p.Temperature, 1e-9)

	// After a session reset the phase default applies.
	n, err := s.Reset("a1", string(ScopeSession))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	p = s.Resolve("a1", "ops", models.PhaseAction)
	assert.InDelta(t, 0.1, p.Temperature, 1e-9)
}

func TestEmptyReasonRejected(t *testing.T) {
	s := newTestService()
	_, err := s.RequestOverride(Request{
		AgentID: "a1", Scope: ScopeSession, Reason: "  ",
		Suggested: Patch{Temperature: floatPtr(0.5)},
	})
	require.Error(t, err)
	assert.True(t, mxerr.IsCode(err, mxerr.CodeValidationError))
}

func TestClampingMarksModified(t *testing.T) {
	s := newTestService()

	d, err := s.RequestOverride(Request{
		AgentID: "a1", ChannelID: "ops", Scope: ScopeSession, Reason: "push limits",
		Suggested: Patch{
			Temperature:     floatPtr(3.5),
			MaxOutputTokens: intPtr(10),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusModified, d.Status)
	assert.InDelta(t, 2.0, d.ActiveParams.Temperature, 1e-9)
	assert.Equal(t, 100, d.ActiveParams.MaxOutputTokens)
}

func TestUnknownModelSubstituted(t *testing.T) {
	cfg := config.DefaultInferenceConfig()
	cfg.KnownModels = []string{"gpt-4o", "claude-sonnet-4-5"}
	s := NewService(cfg, "gpt-4o", nil)

	d, err := s.RequestOverride(Request{
		AgentID: "a1", Scope: ScopeSession, Reason: "try new model",
		Suggested: Patch{Model: "gpt-9000"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusModified, d.Status)
	assert.Equal(t, "gpt-4o", d.ActiveParams.Model)
}

func TestCurrentPhaseExpiresOnExit(t *testing.T) {
	s := newTestService()

	_, err := s.RequestOverride(Request{
		AgentID: "a1", Phase: models.PhaseReasoning, Scope: ScopeCurrentPhase,
		Reason: "deep dive", Suggested: Patch{ReasoningTokens: intPtr(4096)},
	})
	require.NoError(t, err)

	p := s.Resolve("a1", "ops", models.PhaseReasoning)
	assert.Equal(t, 4096, p.ReasoningTokens)
	// Does not leak into other phases.
	p = s.Resolve("a1", "ops", models.PhaseAction)
	assert.Zero(t, p.ReasoningTokens)

	s.ExitPhase("a1", models.PhaseReasoning)
	p = s.Resolve("a1", "ops", models.PhaseReasoning)
	assert.Equal(t, 2048, p.ReasoningTokens)
}

func TestTaskScopeExpiresOnTaskEnd(t *testing.T) {
	s := newTestService()

	_, err := s.RequestOverride(Request{
		AgentID: "a1", Scope: ScopeTask, TaskID: "t-42", Reason: "task tuning",
		Suggested: Patch{Temperature: floatPtr(0.9)},
	})
	require.NoError(t, err)
	assert.Len(t, s.ActiveOverrides("a1"), 1)

	s.EndTask("t-42")
	assert.Empty(t, s.ActiveOverrides("a1"))
}

func TestEndSessionDropsEverything(t *testing.T) {
	s := newTestService()
	for _, scope := range []OverrideScope{ScopeSession, ScopeTask, ScopeNextCall} {
		_, err := s.RequestOverride(Request{
			AgentID: "a1", Scope: scope, Reason: "r", TaskID: "t1",
			Suggested: Patch{Temperature: floatPtr(0.5)},
		})
		require.NoError(t, err)
	}
	s.EndSession("a1")
	assert.Empty(t, s.ActiveOverrides("a1"))
}

func TestResetAll(t *testing.T) {
	s := newTestService()
	for _, scope := range []OverrideScope{ScopeSession, ScopeNextCall} {
		_, err := s.RequestOverride(Request{
			AgentID: "a1", Scope: scope, Reason: "r",
			Suggested: Patch{Temperature: floatPtr(0.5)},
		})
		require.NoError(t, err)
	}

	n, err := s.Reset("a1", ResetAll)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCostAnalyticsGrouping(t *testing.T) {
	s := newTestService()
	s.RecordUsage("a1", models.PhaseAction, "gpt-4o",
		models.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150})
	s.RecordUsage("a1", models.PhaseReasoning, "gpt-4o",
		models.TokenUsage{PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300})

	report, err := s.CostAnalytics(time.Now().Add(-time.Hour), time.Time{}, GroupByPhase)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total.Calls)
	assert.Len(t, report.Groups, 2)
	assert.Equal(t, 1, report.Groups["action"].Calls)

	_, err = s.CostAnalytics(time.Time{}, time.Time{}, GroupBy("week"))
	assert.Error(t, err)
}
