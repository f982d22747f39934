// Package inference maintains per-phase parameter profiles and agent-scoped
// overrides with governance: clamping to tier ceilings, scope lifetimes,
// and cost tracking.
package inference

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

// OverrideScope classifies the lifetime of an override.
type OverrideScope string

const (
	ScopeNextCall     OverrideScope = "next_call"
	ScopeCurrentPhase OverrideScope = "current_phase"
	ScopeTask         OverrideScope = "task"
	ScopeSession      OverrideScope = "session"
)

// IsValid reports whether the scope is one of the defined values.
func (s OverrideScope) IsValid() bool {
	switch s {
	case ScopeNextCall, ScopeCurrentPhase, ScopeTask, ScopeSession:
		return true
	}
	return false
}

// precedence orders scopes for resolution. Lower wins.
func (s OverrideScope) precedence() int {
	switch s {
	case ScopeNextCall:
		return 0
	case ScopeCurrentPhase:
		return 1
	case ScopeTask:
		return 2
	case ScopeSession:
		return 3
	}
	return 4
}

// Patch is a partial parameter set. Nil fields leave the base value intact.
type Patch struct {
	Model           string   `json:"model,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	ReasoningTokens *int     `json:"reasoningTokens,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

func (p Patch) apply(base models.InferenceParams) models.InferenceParams {
	if p.Model != "" {
		base.Model = p.Model
	}
	if p.Temperature != nil {
		base.Temperature = *p.Temperature
	}
	if p.ReasoningTokens != nil {
		base.ReasoningTokens = *p.ReasoningTokens
	}
	if p.MaxOutputTokens != nil {
		base.MaxOutputTokens = *p.MaxOutputTokens
	}
	return base
}

// Override is one active parameter override for an agent.
type Override struct {
	ID      string        `json:"id"`
	AgentID string        `json:"agentId"`
	Phase   models.Phase  `json:"phase,omitempty"`
	Scope   OverrideScope `json:"scope"`
	Params  Patch         `json:"params"`
	Reason  string        `json:"reason"`
	TaskID  string        `json:"taskId,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Service resolves inference parameters and governs override requests.
// Safe for concurrent use.
type Service struct {
	cfg          *config.InferenceConfig
	defaultModel string
	log          *slog.Logger

	mu        sync.Mutex
	overrides map[string][]*Override // keyed by agent id
	samples   []usageSample
}

// NewService creates the parameter service. defaultModel is the system
// fallback when neither a phase profile nor an override names a model.
func NewService(cfg *config.InferenceConfig, defaultModel string, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultInferenceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:          cfg,
		defaultModel: defaultModel,
		log:          logger.With("component", "inference"),
		overrides:    make(map[string][]*Override),
	}
}

// phaseDefault returns the system profile for a phase. Low temperature for
// accuracy-bound phases, reasoning budget where the phase explores.
func (s *Service) phaseDefault(phase models.Phase) models.InferenceParams {
	p := models.InferenceParams{
		Model:           s.defaultModel,
		MaxOutputTokens: 4096,
	}
	switch phase {
	case models.PhaseObservation:
		p.Temperature = 0.2
	case models.PhaseReasoning:
		p.Temperature = 0.5
		p.ReasoningTokens = 2048
	case models.PhasePlanning:
		p.Temperature = 0.3
		p.ReasoningTokens = 1024
	case models.PhaseAction:
		p.Temperature = 0.1
	case models.PhaseReflection:
		p.Temperature = 0.4
		p.ReasoningTokens = 1024
	default:
		p.Temperature = 0.3
	}
	return p
}

// Resolve returns the effective parameters for an agent in a phase without
// consuming anything: system default, overlaid by the channel default,
// overlaid by the highest-precedence active override.
func (s *Service) Resolve(agentID, channelID string, phase models.Phase) models.InferenceParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(agentID, channelID, phase)
}

// ResolveForCall resolves parameters for one inference call and consumes any
// next_call override atomically. Exactly one call sees a next_call override.
func (s *Service) ResolveForCall(agentID, channelID string, phase models.Phase) models.InferenceParams {
	s.mu.Lock()
	defer s.mu.Unlock()

	params := s.resolveLocked(agentID, channelID, phase)
	s.removeLocked(agentID, func(o *Override) bool { return o.Scope == ScopeNextCall })
	return params
}

func (s *Service) resolveLocked(agentID, channelID string, phase models.Phase) models.InferenceParams {
	s.pruneExpiredLocked(agentID)

	params := s.phaseDefault(phase)
	if ch, ok := s.cfg.ChannelDefaults[channelID]; ok {
		if raw, ok := ch[string(phase)]; ok {
			params = Patch{
				Model:           raw.Model,
				Temperature:     raw.Temperature,
				ReasoningTokens: raw.ReasoningTokens,
				MaxOutputTokens: raw.MaxOutputTokens,
			}.apply(params)
		}
	}

	var best *Override
	for _, o := range s.overrides[agentID] {
		if o.Scope == ScopeCurrentPhase && o.Phase != phase {
			continue
		}
		if best == nil || o.Scope.precedence() < best.Scope.precedence() {
			best = o
		}
	}
	if best != nil {
		params = best.Params.apply(params)
	}
	return params
}

// Request is an agent's override proposal.
type Request struct {
	AgentID   string        `json:"agentId"`
	ChannelID string        `json:"channelId"`
	Phase     models.Phase  `json:"phase,omitempty"`
	Scope     OverrideScope `json:"scope,omitempty"`
	TaskID    string        `json:"taskId,omitempty"`
	Reason    string        `json:"reason"`
	Suggested Patch         `json:"suggested"`
}

// DecisionStatus is the governance outcome of an override request.
type DecisionStatus string

const (
	StatusApproved DecisionStatus = "approved"
	StatusModified DecisionStatus = "modified"
	StatusDenied   DecisionStatus = "denied"
)

// Decision is the governance response to an override request.
type Decision struct {
	Status         DecisionStatus          `json:"status"`
	ActiveParams   models.InferenceParams  `json:"activeParams"`
	PreviousParams *models.InferenceParams `json:"previousParams,omitempty"`
	OverrideID     string                  `json:"overrideId,omitempty"`
	ExpiresAt      *time.Time              `json:"expiresAt,omitempty"`
	CostDelta      float64                 `json:"costDelta"`
}

// rough per-token cost used for the advisory delta, not billing.
const tokenCostEstimate = 0.000002

// RequestOverride applies governance to a proposal and installs the
// resulting override.
func (s *Service) RequestOverride(req Request) (*Decision, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, mxerr.New(mxerr.CodeValidationError, "override reason must not be empty")
	}
	scope := req.Scope
	if scope == "" {
		scope = ScopeNextCall
	}
	if !scope.IsValid() {
		return nil, mxerr.Newf(mxerr.CodeValidationError, "unknown override scope %q", scope)
	}
	if scope == ScopeCurrentPhase && !req.Phase.IsValid() {
		return nil, mxerr.New(mxerr.CodeMissingRequired, "current_phase scope requires a phase")
	}

	patch, modified, err := s.govern(req.Suggested)
	if err != nil {
		return &Decision{Status: StatusDenied}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.resolveLocked(req.AgentID, req.ChannelID, req.Phase)

	o := &Override{
		ID:        uuid.NewString(),
		AgentID:   req.AgentID,
		Phase:     req.Phase,
		Scope:     scope,
		Params:    patch,
		Reason:    req.Reason,
		TaskID:    req.TaskID,
		CreatedAt: time.Now(),
	}
	if scope == ScopeSession {
		t := time.Now().Add(24 * time.Hour)
		o.ExpiresAt = &t
	}
	s.overrides[req.AgentID] = append(s.overrides[req.AgentID], o)

	active := s.resolveLocked(req.AgentID, req.ChannelID, req.Phase)

	status := StatusApproved
	if modified {
		status = StatusModified
	}
	s.log.Info("Inference override installed",
		"agent_id", req.AgentID, "scope", scope, "status", status)

	return &Decision{
		Status:         status,
		ActiveParams:   active,
		PreviousParams: &previous,
		OverrideID:     o.ID,
		ExpiresAt:      o.ExpiresAt,
		CostDelta: tokenCostEstimate * float64(
			(active.MaxOutputTokens+active.ReasoningTokens)-
				(previous.MaxOutputTokens+previous.ReasoningTokens)),
	}, nil
}

// govern clamps a suggested patch to tier ceilings and substitutes unknown
// models. Returns the clamped patch and whether anything changed.
func (s *Service) govern(p Patch) (Patch, bool, error) {
	modified := false

	if p.Model != "" && len(s.cfg.KnownModels) > 0 && !slices.Contains(s.cfg.KnownModels, p.Model) {
		if s.defaultModel == "" {
			return Patch{}, false, mxerr.Newf(mxerr.CodeValidationError,
				"unknown model %q and no substitute available", p.Model)
		}
		p.Model = s.defaultModel
		modified = true
	}
	if p.Temperature != nil {
		t := clampFloat(*p.Temperature, 0, min(2.0, s.cfg.MaxTemperature))
		if t != *p.Temperature {
			modified = true
		}
		p.Temperature = &t
	}
	if p.MaxOutputTokens != nil {
		v := clampInt(*p.MaxOutputTokens, 100, s.cfg.MaxOutputTokens)
		if v != *p.MaxOutputTokens {
			modified = true
		}
		p.MaxOutputTokens = &v
	}
	if p.ReasoningTokens != nil {
		v := clampInt(*p.ReasoningTokens, 0, s.cfg.MaxReasoningTokens)
		if v != *p.ReasoningTokens {
			modified = true
		}
		p.ReasoningTokens = &v
	}
	return p, modified, nil
}

// ResetScope is the argument domain of Reset.
const ResetAll = "all"

// Reset removes an agent's overrides matching scope ("all" removes every
// scope). Returns the number removed.
func (s *Service) Reset(agentID string, scope string) (int, error) {
	if scope != ResetAll && !OverrideScope(scope).IsValid() {
		return 0, mxerr.Newf(mxerr.CodeValidationError, "unknown reset scope %q", scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(agentID, func(o *Override) bool {
		return scope == ResetAll || o.Scope == OverrideScope(scope)
	}), nil
}

// ExitPhase expires current_phase overrides for the phase being left.
func (s *Service) ExitPhase(agentID string, phase models.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(agentID, func(o *Override) bool {
		return o.Scope == ScopeCurrentPhase && o.Phase == phase
	})
}

// EndTask expires task-scoped overrides when a task completes or is
// cancelled.
func (s *Service) EndTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for agentID := range s.overrides {
		s.removeLocked(agentID, func(o *Override) bool {
			return o.Scope == ScopeTask && o.TaskID == taskID
		})
	}
}

// EndSession expires every override for a disconnecting agent.
func (s *Service) EndSession(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, agentID)
}

// ActiveOverrides returns a snapshot of an agent's live overrides.
func (s *Service) ActiveOverrides(agentID string) []Override {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneExpiredLocked(agentID)

	out := make([]Override, 0, len(s.overrides[agentID]))
	for _, o := range s.overrides[agentID] {
		out = append(out, *o)
	}
	return out
}

func (s *Service) removeLocked(agentID string, match func(*Override) bool) int {
	list := s.overrides[agentID]
	kept := list[:0]
	removed := 0
	for _, o := range list {
		if match(o) {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	if len(kept) == 0 {
		delete(s.overrides, agentID)
	} else {
		s.overrides[agentID] = kept
	}
	return removed
}

func (s *Service) pruneExpiredLocked(agentID string) {
	now := time.Now()
	s.removeLocked(agentID, func(o *Override) bool {
		return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
	})
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// KnownModels returns the models overrides may request, or a one-element
// list with the system default when no allow-list is configured.
func (s *Service) KnownModels() []string {
	if len(s.cfg.KnownModels) > 0 {
		return slices.Clone(s.cfg.KnownModels)
	}
	if s.defaultModel != "" {
		return []string{s.defaultModel}
	}
	return nil
}

// String implements fmt.Stringer for logging.
func (o *Override) String() string {
	return fmt.Sprintf("override %s scope=%s agent=%s", o.ID, o.Scope, o.AgentID)
}
