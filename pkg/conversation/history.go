// Package conversation maintains per-agent conversation histories: append
// with duplicate suppression, the tool-call pairing enforcer, and context
// compaction. Tool results are never dropped, whatever their content.
package conversation

import (
	"strings"
	"sync"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
)

// History is one agent's ordered conversation. All methods are safe for
// concurrent use; writes for a single agent are serialized by the internal
// lock.
type History struct {
	agentID   string
	channelID string
	cfg       *config.ConversationConfig

	mu   sync.Mutex
	msgs []models.ConversationMessage
}

// NewHistory creates an empty history for an agent.
func NewHistory(agentID, channelID string, cfg *config.ConversationConfig) *History {
	if cfg == nil {
		cfg = config.DefaultConversationConfig()
	}
	return &History{
		agentID:   agentID,
		channelID: channelID,
		cfg:       cfg,
	}
}

// AgentID returns the owning agent.
func (h *History) AgentID() string { return h.agentID }

// Append adds a message, applying the duplicate rules:
//
//  1. Tool results and messages carrying tool calls are appended
//     unconditionally: dropping either side would orphan a
//     tool-call/tool-result pair.
//  2. Otherwise the message is dropped when a non-tool message with the
//     same role and normalized content appears within the similarity
//     window at the tail.
//
// Returns true when the message was appended, false when dropped.
func (h *History) Append(m models.ConversationMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m.IsToolResult() || len(m.ToolCalls) > 0 {
		h.msgs = append(h.msgs, m)
		return true
	}

	if h.isDuplicateLocked(m) {
		return false
	}
	h.msgs = append(h.msgs, m)
	return true
}

func (h *History) isDuplicateLocked(m models.ConversationMessage) bool {
	window := h.cfg.DedupWindow
	if window <= 0 {
		return false
	}

	norm := NormalizeContent(m.Content)
	examined := 0
	for i := len(h.msgs) - 1; i >= 0 && examined < window; i-- {
		prev := h.msgs[i]
		examined++
		// Tool traffic is invisible to the similarity check: a tool-call
		// turn's text is not its semantic payload.
		if prev.IsToolResult() || len(prev.ToolCalls) > 0 {
			continue
		}
		if prev.Role == m.Role && NormalizeContent(prev.Content) == norm {
			return true
		}
	}
	return false
}

// Messages returns a snapshot of the conversation.
func (h *History) Messages() []models.ConversationMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.ConversationMessage, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// replace swaps the full message slice. Used by compaction.
func (h *History) replace(msgs []models.ConversationMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = msgs
}

// NormalizeContent lowercases and collapses whitespace for duplicate
// comparison. Exact match on the normalized form is the whole similarity
// contract; nothing fuzzier.
func NormalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
