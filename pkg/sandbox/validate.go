// Package sandbox runs agent-submitted JavaScript/TypeScript in short-lived
// Docker containers with static pre-validation, bounded concurrency, and an
// immutable audit trail.
package sandbox

import (
	"regexp"

	"github.com/modelexchange/mxf/pkg/mxerr"
)

// Validation is the outcome of the static safety check. Any error-typed
// issue blocks execution.
type Validation struct {
	Safe   bool          `json:"safe"`
	Issues []mxerr.Issue `json:"issues,omitempty"`
}

type checkRule struct {
	pattern *regexp.Regexp
	typ     string
	message string
}

// Dynamic evaluation, subprocess spawning, and host imports are rejected
// before the code ever reaches a container. The container is the real
// boundary; this check exists to fail fast with a readable message.
var checkRules = []checkRule{
	{regexp.MustCompile(`\beval\s*\(`), "error", "eval() is not allowed"},
	{regexp.MustCompile(`\bnew\s+Function\s*\(|\bFunction\s*\(`), "error", "dynamic Function() construction is not allowed"},
	{regexp.MustCompile(`\brequire\s*\(`), "error", "require() is not allowed; the sandbox has no module system"},
	{regexp.MustCompile(`\bimport\s*\(`), "error", "dynamic import() is not allowed"},
	{regexp.MustCompile(`(?m)^\s*import\b`), "error", "module imports are not allowed"},
	{regexp.MustCompile(`\bBun\.(spawn|spawnSync|file|write|serve|listen|connect)\b`), "error", "Bun host APIs are not allowed"},
	{regexp.MustCompile(`\bchild_process\b`), "error", "child process access is not allowed"},
	{regexp.MustCompile(`\bprocess\.(exit|kill|binding)\b`), "error", "process control is not allowed"},
	{regexp.MustCompile(`\bnode:(fs|net|http|https|child_process|os|worker_threads)\b`), "error", "host module access is not allowed"},
	{regexp.MustCompile(`\bfetch\s*\(|\bXMLHttpRequest\b|\bWebSocket\b`), "error", "network access is not allowed"},
	{regexp.MustCompile(`\bwhile\s*\(\s*true\s*\)`), "warning", "unbounded loop; execution will be cut off at the timeout"},
}

// Validate runs the static blocklist over the submitted code.
func Validate(code string) Validation {
	v := Validation{Safe: true}
	for _, rule := range checkRules {
		if rule.pattern.MatchString(code) {
			v.Issues = append(v.Issues, mxerr.Issue{Type: rule.typ, Message: rule.message})
			if rule.typ == "error" {
				v.Safe = false
			}
		}
	}
	return v
}
