package models

// Phase is one step of the ORPAR cognitive cycle.
type Phase string

const (
	PhaseObservation Phase = "observation"
	PhaseReasoning   Phase = "reasoning"
	PhasePlanning    Phase = "planning"
	PhaseAction      Phase = "action"
	PhaseReflection  Phase = "reflection"
)

// Phases lists the cycle in execution order.
var Phases = []Phase{
	PhaseObservation, PhaseReasoning, PhasePlanning, PhaseAction, PhaseReflection,
}

// IsValid reports whether the phase is one of the defined values.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseObservation, PhaseReasoning, PhasePlanning, PhaseAction, PhaseReflection:
		return true
	}
	return false
}

// Next returns the phase that follows p in the cycle; reflection wraps back
// to observation.
func (p Phase) Next() Phase {
	for i, ph := range Phases {
		if ph == p {
			return Phases[(i+1)%len(Phases)]
		}
	}
	return PhaseObservation
}

// InferenceParams is a fully resolved parameter set for one inference call.
type InferenceParams struct {
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	ReasoningTokens int     `json:"reasoningTokens"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// TokenUsage reports token consumption for one inference call.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}
