package inference

import (
	"fmt"
	"time"

	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
)

// usageSample is one recorded inference call.
type usageSample struct {
	at      time.Time
	agentID string
	phase   models.Phase
	model   string
	usage   models.TokenUsage
}

// RecordUsage notes token consumption for one inference call.
func (s *Service) RecordUsage(agentID string, phase models.Phase, model string, usage models.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, usageSample{
		at: time.Now(), agentID: agentID, phase: phase, model: model, usage: usage,
	})
}

// GroupBy selects the aggregation key for cost analytics.
type GroupBy string

const (
	GroupByPhase GroupBy = "phase"
	GroupByModel GroupBy = "model"
	GroupByHour  GroupBy = "hour"
)

// GroupTotals aggregates one analytics bucket.
type GroupTotals struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	EstimatedCost    float64 `json:"estimatedCost"`
}

// CostReport is the analytics response.
type CostReport struct {
	From   time.Time              `json:"from"`
	To     time.Time              `json:"to"`
	Groups map[string]GroupTotals `json:"groups"`
	Total  GroupTotals            `json:"total"`
	Tips   []string               `json:"tips,omitempty"`
}

// CostAnalytics aggregates recorded usage over a time range.
func (s *Service) CostAnalytics(from, to time.Time, groupBy GroupBy) (*CostReport, error) {
	switch groupBy {
	case GroupByPhase, GroupByModel, GroupByHour:
	default:
		return nil, mxerr.Newf(mxerr.CodeValidationError, "unknown grouping %q", groupBy)
	}
	if to.IsZero() {
		to = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report := &CostReport{From: from, To: to, Groups: make(map[string]GroupTotals)}
	for _, sample := range s.samples {
		if sample.at.Before(from) || sample.at.After(to) {
			continue
		}
		var key string
		switch groupBy {
		case GroupByPhase:
			key = string(sample.phase)
		case GroupByModel:
			key = sample.model
		case GroupByHour:
			key = sample.at.Truncate(time.Hour).Format(time.RFC3339)
		}

		g := report.Groups[key]
		g.Calls++
		g.PromptTokens += sample.usage.PromptTokens
		g.CompletionTokens += sample.usage.CompletionTokens
		g.EstimatedCost += tokenCostEstimate * float64(sample.usage.TotalTokens)
		report.Groups[key] = g

		report.Total.Calls++
		report.Total.PromptTokens += sample.usage.PromptTokens
		report.Total.CompletionTokens += sample.usage.CompletionTokens
		report.Total.EstimatedCost += tokenCostEstimate * float64(sample.usage.TotalTokens)
	}

	report.Tips = costTips(report)
	return report, nil
}

// costTips derives optimization hints from the aggregate shape.
func costTips(r *CostReport) []string {
	var tips []string
	if r.Total.Calls == 0 {
		return nil
	}
	avgCompletion := r.Total.CompletionTokens / r.Total.Calls
	if avgCompletion > 2048 {
		tips = append(tips, fmt.Sprintf(
			"average completion is %d tokens; consider lowering maxOutputTokens for routine phases", avgCompletion))
	}
	if r.Total.PromptTokens > 10*r.Total.CompletionTokens && r.Total.PromptTokens > 100000 {
		tips = append(tips, "prompt tokens dominate; conversation compaction may be overdue")
	}
	return tips
}
