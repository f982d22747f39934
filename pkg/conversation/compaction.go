package conversation

import (
	"context"
	"fmt"

	"github.com/modelexchange/mxf/pkg/models"
)

// Summarizer produces a summary of messages being compacted away. The
// system LLM backs this in production; a counting fallback is used when no
// summarizer is configured or the call fails.
type Summarizer func(ctx context.Context, msgs []models.ConversationMessage) (string, error)

// Compact replaces older messages with a single summary block, keeping the
// last CompactionKeep messages uncompressed. Tool-call/tool-result pairs
// are compacted together or not at all: the kept region never starts with
// an orphaned tool message.
//
// No-op while the history is at or below CompactionThreshold.
func (h *History) Compact(ctx context.Context, summarize Summarizer) error {
	h.mu.Lock()
	msgs := h.msgs
	keep := h.cfg.CompactionKeep
	threshold := h.cfg.CompactionThreshold
	h.mu.Unlock()

	if threshold <= 0 || len(msgs) <= threshold || keep <= 0 {
		return nil
	}

	cut := len(msgs) - keep
	// Pull the boundary left until the kept region does not begin with a
	// tool message, so a pair is never split across the summary.
	for cut > 0 && msgs[cut].IsToolResult() {
		cut--
	}
	if cut <= 0 {
		return nil
	}

	head := msgs[:cut]
	summary := fallbackSummary(head)
	if summarize != nil {
		if s, err := summarize(ctx, head); err == nil && s != "" {
			summary = s
		}
	}

	compacted := make([]models.ConversationMessage, 0, 1+len(msgs)-cut)
	compacted = append(compacted, models.ConversationMessage{
		Role:     models.RoleSystem,
		Content:  summary,
		Metadata: models.MessageMetadata{ContextSummary: true},
	})
	compacted = append(compacted, msgs[cut:]...)

	h.replace(compacted)
	return nil
}

func fallbackSummary(msgs []models.ConversationMessage) string {
	var toolCalls int
	for _, m := range msgs {
		toolCalls += len(m.ToolCalls)
	}
	return fmt.Sprintf("[Earlier context compacted: %d message(s), %d tool call(s)]",
		len(msgs), toolCalls)
}
