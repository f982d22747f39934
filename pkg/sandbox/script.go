package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// resultMarker prefixes the single stdout line carrying the structured
// outcome. Everything else on stdout/stderr is runtime noise.
const resultMarker = "__MXF_RESULT__"

// CodeHash returns the audit digest for a piece of code: the first 16 hex
// characters of its SHA-256.
func CodeHash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])[:16]
}

// scriptOutcome is the JSON payload the wrapper writes after the marker.
type scriptOutcome struct {
	Success bool     `json:"success"`
	Output  any      `json:"output"`
	Logs    []string `json:"logs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// buildScript wraps user code in the harness: a frozen context object,
// optional console capture, and a marker line carrying the outcome. The
// user code runs inside an async function so `return` yields the output and
// top-level await works.
func buildScript(code string, contextValues map[string]any, captureConsole bool) (string, error) {
	ctxJSON, err := json.Marshal(contextValues)
	if err != nil {
		return "", fmt.Errorf("failed to encode context values: %w", err)
	}
	if contextValues == nil {
		ctxJSON = []byte("{}")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "const context = Object.freeze(%s);\n", ctxJSON)
	b.WriteString("const __logs = [];\n")
	if captureConsole {
		b.WriteString("console.log = (...a) => { __logs.push(a.map(x => typeof x === 'string' ? x : JSON.stringify(x)).join(' ')); };\n")
	}
	b.WriteString("(async () => {\n")
	b.WriteString("  let __outcome;\n")
	b.WriteString("  try {\n")
	b.WriteString("    const __output = await (async () => {\n")
	b.WriteString(code)
	b.WriteString("\n    })();\n")
	b.WriteString("    __outcome = { success: true, output: __output === undefined ? null : __output, logs: __logs };\n")
	b.WriteString("  } catch (err) {\n")
	b.WriteString("    __outcome = { success: false, error: String(err && err.message || err), logs: __logs };\n")
	b.WriteString("  }\n")
	fmt.Fprintf(&b, "  process.stdout.write(%q + JSON.stringify(__outcome) + \"\\n\");\n", resultMarker)
	b.WriteString("})();\n")
	return b.String(), nil
}

// parseOutcome finds the marker line in the runtime's stdout and decodes the
// outcome. Returns false when the runtime died before reporting.
func parseOutcome(stdout string) (scriptOutcome, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		rest, found := strings.CutPrefix(strings.TrimSpace(line), resultMarker)
		if !found {
			continue
		}
		var out scriptOutcome
		if err := json.Unmarshal([]byte(rest), &out); err != nil {
			continue
		}
		return out, true
	}
	return scriptOutcome{}, false
}
