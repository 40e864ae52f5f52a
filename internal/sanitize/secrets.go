package sanitize

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/ppiankov/agentgate/internal/model"
)

const redactPlaceholder = "[REDACTED]"

// secretPatterns match credential values in free text.
var secretPatterns = []*regexp.Regexp{
	// Anthropic keys: sk-ant-...
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-_]{20,}`),
	// OpenAI style keys: sk-...
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	// Groq keys: gsk_...
	regexp.MustCompile(`gsk_[a-zA-Z0-9]{20,}`),
	// GitHub tokens
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	// AWS access key ids
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	// Slack bot and user tokens
	regexp.MustCompile(`xox[bp]-[A-Za-z0-9\-]{10,}`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.]{20,}`),
}

// credAssignRe keeps the key name and redacts the value.
var credAssignRe = regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api_key|apikey|access_token)([ \t]*[=:][ \t]*)([^\s"',;]+)`)

// RedactSecrets replaces secret-shaped substrings and returns the count.
func RedactSecrets(text string) (string, int) {
	count := 0
	out := text
	for _, re := range secretPatterns {
		if n := len(re.FindAllStringIndex(out, -1)); n > 0 {
			count += n
			out = re.ReplaceAllString(out, redactPlaceholder)
		}
	}
	for _, m := range credAssignRe.FindAllStringSubmatch(out, -1) {
		if m[3] != redactPlaceholder {
			count++
		}
	}
	out = credAssignRe.ReplaceAllString(out, "${1}${2}"+redactPlaceholder)
	return out, count
}

// ContainsSecret reports whether text holds anything RedactSecrets would replace.
func ContainsSecret(text string) bool {
	_, n := RedactSecrets(text)
	return n > 0
}

// secretRedactRule redacts secrets from every string in log and output
// payloads, including strings nested in maps and lists. Redaction is
// always safe, so no confirmation is needed.
func secretRedactRule() Rule {
	return Rule{
		Name:      "secret-redact",
		EventType: Pattern(`^(log|output|message|response)([:.]|$)`),
		Check: func(payload map[string]any) bool {
			return containsSecretValue(payload)
		},
		Sanitize: func(payload map[string]any) Result {
			res := Result{Rule: "secret-redact", OriginalAction: model.ActionSummary("", payload)}
			res.Changes = redactMap(payload, "")
			if len(res.Changes) == 0 {
				return res
			}
			res.SanitizedAction = model.ActionSummary("", payload)
			res.CanSanitize = true
			res.Reason = "secret values redacted from output"
			res.Payload = payload
			return res
		},
	}
}

func containsSecretValue(v any) bool {
	switch t := v.(type) {
	case string:
		return ContainsSecret(t)
	case map[string]any:
		for _, e := range t {
			if containsSecretValue(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if containsSecretValue(e) {
				return true
			}
		}
	case []string:
		for _, e := range t {
			if ContainsSecret(e) {
				return true
			}
		}
	}
	return false
}

// redactMap rewrites m in place and returns one change per redacted
// field, named by its dotted path.
func redactMap(m map[string]any, prefix string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var changes []string
	for _, k := range keys {
		var c []string
		m[k], c = redactValue(m[k], prefix+k)
		changes = append(changes, c...)
	}
	return changes
}

func redactValue(v any, path string) (any, []string) {
	switch t := v.(type) {
	case string:
		out, n := RedactSecrets(t)
		if n == 0 {
			return t, nil
		}
		return out, []string{fmt.Sprintf("redacted %d secret(s) in %s", n, path)}
	case map[string]any:
		return t, redactMap(t, path+".")
	case []any:
		var changes []string
		for i := range t {
			var c []string
			t[i], c = redactValue(t[i], fmt.Sprintf("%s[%d]", path, i))
			changes = append(changes, c...)
		}
		return t, changes
	case []string:
		var changes []string
		for i := range t {
			out, n := RedactSecrets(t[i])
			if n > 0 {
				t[i] = out
				changes = append(changes, fmt.Sprintf("redacted %d secret(s) in %s[%d]", n, path, i))
			}
		}
		return t, changes
	}
	return v, nil
}
