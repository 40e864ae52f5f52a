package sanitize

import (
	"strings"
)

var shellKeys = []string{"command", "cmd", "script"}

// shellRmRule replaces recursive force deletes with interactive mode.
func shellRmRule() Rule {
	return Rule{
		Name:      "shell-rm-interactive",
		EventType: Pattern(`^(shell|exec|command|bash)[:.]`),
		Check: func(payload map[string]any) bool {
			_, cmd := firstString(payload, shellKeys...)
			_, changed := rewriteRm(cmd)
			return changed
		},
		Sanitize: func(payload map[string]any) Result {
			key, cmd := firstString(payload, shellKeys...)
			out, changed := rewriteRm(cmd)
			res := Result{Rule: "shell-rm-interactive", OriginalAction: cmd}
			if !changed {
				return res
			}
			payload[key] = out
			res.CanSanitize = true
			res.SanitizedAction = out
			res.RequiresConfirmation = true
			res.Reason = "recursive force delete switched to interactive mode"
			res.Changes = []string{"replaced recursive force flags with -i"}
			res.Payload = payload
			return res
		},
	}
}

// rewriteRm rewrites every rm invocation carrying both a recursive and a
// force flag. Tokens are split on whitespace and rejoined with single spaces.
func rewriteRm(cmd string) (string, bool) {
	tokens := strings.Fields(cmd)
	changed := false
	for i := 0; i < len(tokens); i++ {
		if !isRm(tokens[i]) {
			continue
		}
		j := i + 1
		for j < len(tokens) && strings.HasPrefix(tokens[j], "-") && tokens[j] != "--" {
			j++
		}
		flags, ok := interactiveFlags(tokens[i+1 : j])
		if !ok {
			continue
		}
		rest := append([]string(nil), tokens[j:]...)
		tokens = append(append(tokens[:i+1], flags...), rest...)
		i += len(flags)
		changed = true
	}
	if !changed {
		return cmd, false
	}
	return strings.Join(tokens, " "), true
}

func isRm(tok string) bool {
	return tok == "rm" || strings.HasSuffix(tok, "/rm")
}

// interactiveFlags drops force flags and adds -i when flags are both
// recursive and forced.
func interactiveFlags(flags []string) ([]string, bool) {
	recursive, force := false, false
	for _, f := range flags {
		switch {
		case f == "--recursive":
			recursive = true
		case f == "--force":
			force = true
		case !strings.HasPrefix(f, "--"):
			if strings.ContainsAny(f, "rR") {
				recursive = true
			}
			if strings.ContainsRune(f, 'f') {
				force = true
			}
		}
	}
	if !recursive || !force {
		return flags, false
	}

	var out []string
	interactive := false
	for _, f := range flags {
		if f == "--force" {
			continue
		}
		if strings.HasPrefix(f, "--") {
			out = append(out, f)
			continue
		}
		letters := strings.ReplaceAll(f[1:], "f", "")
		if letters == "" {
			continue
		}
		if !interactive && strings.ContainsAny(letters, "rR") {
			if !strings.ContainsRune(letters, 'i') {
				letters += "i"
			}
			interactive = true
		}
		out = append(out, "-"+letters)
	}
	if !interactive {
		out = append([]string{"-i"}, out...)
	}
	return out, true
}
