package prompt

import (
	"fmt"
	"log/slog"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/modelexchange/mxf/pkg/models"
)

// tokenPattern matches {{TOKEN}} placeholders. Replacement happens on every
// request; templates are never cached with values baked in.
var tokenPattern = regexp.MustCompile(`\{\{([A-Z_]+)\}\}`)

// TokenValues carries the per-request context a template may reference.
type TokenValues struct {
	AgentID          string
	ChannelID        string
	ChannelName      string
	ActiveAgents     []string
	Provider         string
	Model            string
	SystemLLMEnabled bool
	Phase            models.Phase

	// Now is the render time. Zero means time.Now.
	Now time.Time
}

// ReplaceTokens substitutes every recognized {{TOKEN}} in text. Unknown
// tokens are left intact and logged once per render.
func ReplaceTokens(text string, vals TokenValues, log *slog.Logger) string {
	now := vals.Now
	if now.IsZero() {
		now = time.Now()
	}
	zone, _ := now.Zone()

	systemLLM := "disabled"
	if vals.SystemLLMEnabled {
		systemLLM = "enabled"
	}

	known := map[string]string{
		"DATE_TIME":           now.Format("2006-01-02 15:04:05"),
		"DAY_OF_WEEK":         now.Weekday().String(),
		"CURRENT_YEAR":        fmt.Sprintf("%d", now.Year()),
		"CURRENT_MONTH":       now.Month().String(),
		"CURRENT_DAY":         fmt.Sprintf("%d", now.Day()),
		"TIME_ZONE":           zone,
		"ISO_TIMESTAMP":       now.Format(time.RFC3339),
		"OS_PLATFORM":         runtime.GOOS,
		"AGENT_ID":            vals.AgentID,
		"CHANNEL_ID":          vals.ChannelID,
		"CHANNEL_NAME":        vals.ChannelName,
		"ACTIVE_AGENTS_COUNT": fmt.Sprintf("%d", len(vals.ActiveAgents)),
		"ACTIVE_AGENTS_LIST":  strings.Join(vals.ActiveAgents, ", "),
		"LLM_PROVIDER":        vals.Provider,
		"LLM_MODEL":           vals.Model,
		"SYSTEM_LLM_STATUS":   systemLLM,
		"CURRENT_ORPAR_PHASE": string(vals.Phase),
	}

	var unknown []string
	out := tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		if value, found := known[name]; found {
			return value
		}
		unknown = append(unknown, name)
		return match
	})

	if len(unknown) > 0 && log != nil {
		log.Warn("Unknown prompt template tokens left intact", "tokens", unknown)
	}
	return out
}
