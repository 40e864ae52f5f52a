package sanitize

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	destructiveLimit = 1
	selectLimit      = 100
)

var (
	sqlDestructiveRe = regexp.MustCompile(`(?is)^\s*(DELETE|UPDATE)\b`)
	sqlSelectRe      = regexp.MustCompile(`(?is)^\s*SELECT\b`)
	sqlLimitRe       = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	sqlWhereRe       = regexp.MustCompile(`(?i)\bWHERE\b`)
)

var sqlKeys = []string{"query", "sql", "statement"}

// sqlLimitRule bounds unscoped DELETE/UPDATE (no WHERE) to one row with
// confirmation required, and SELECT to 100 rows, when no LIMIT is present.
// Scoped destructive statements fall through to policy.
func sqlLimitRule() Rule {
	return Rule{
		Name:      "sql-limit",
		EventType: Pattern(`^(db|sql|database)[:.]`),
		Check: func(payload map[string]any) bool {
			_, q := firstString(payload, sqlKeys...)
			if q == "" || sqlLimitRe.MatchString(q) {
				return false
			}
			return unscopedDestructive(q) || sqlSelectRe.MatchString(q)
		},
		Sanitize: func(payload map[string]any) Result {
			key, q := firstString(payload, sqlKeys...)
			res := Result{Rule: "sql-limit", OriginalAction: q}

			limit := 0
			switch {
			case unscopedDestructive(q):
				limit = destructiveLimit
				res.RequiresConfirmation = true
				res.Reason = "unbounded destructive statement limited to a single row"
			case sqlSelectRe.MatchString(q):
				limit = selectLimit
				res.Reason = "unbounded SELECT limited to 100 rows"
			default:
				return res
			}

			out := appendLimit(q, limit)
			payload[key] = out
			res.CanSanitize = true
			res.SanitizedAction = out
			res.Changes = []string{"added LIMIT " + strconv.Itoa(limit)}
			res.Payload = payload
			return res
		},
	}
}

// appendLimit adds a LIMIT clause before any trailing semicolon.
func appendLimit(q string, limit int) string {
	body := strings.TrimRight(q, " \t\r\n")
	semi := strings.HasSuffix(body, ";")
	body = strings.TrimRight(strings.TrimSuffix(body, ";"), " \t\r\n")
	out := body + " LIMIT " + strconv.Itoa(limit)
	if semi {
		out += ";"
	}
	return out
}

func unscopedDestructive(q string) bool {
	return sqlDestructiveRe.MatchString(q) && !sqlWhereRe.MatchString(q)
}
