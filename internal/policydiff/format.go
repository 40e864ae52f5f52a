package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// group is a heading in the text report. Changes whose field starts with
// prefix are listed under it with the prefix stripped.
type group struct {
	title  string
	prefix string
}

var scalarGroups = []group{
	{title: "Thresholds", prefix: "thresholds."},
	{title: "Risk Weights", prefix: "risk_weights."},
}

// keyedSections are list or map sections reported as added/removed entries.
var keyedSections = []string{"agents", "required_checks", "denylist."}

var ruleMarks = map[string]string{"added": "+", "removed": "-", "changed": "~"}

// FormatText renders the diff for a terminal.
func FormatText(r *DiffResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)
	if !r.HasChanges {
		b.WriteString("\nNo changes detected.\n")
		return b.String()
	}

	var top, keyed []Change
	grouped := make(map[string][]Change)
	for _, c := range r.Changes {
		switch {
		case isKeyed(c.Field):
			keyed = append(keyed, c)
		case groupOf(c.Field) != nil:
			g := groupOf(c.Field)
			grouped[g.prefix] = append(grouped[g.prefix], c)
		default:
			top = append(top, c)
		}
	}

	if len(top) > 0 {
		b.WriteString("\n")
		for _, c := range top {
			writeScalar(&b, "  ", 24, c.Field, c)
		}
	}
	for _, g := range scalarGroups {
		changes := grouped[g.prefix]
		if len(changes) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n  %s:\n", g.title)
		for _, c := range changes {
			writeScalar(&b, "    ", 18, strings.TrimPrefix(c.Field, g.prefix), c)
		}
	}

	if len(r.RuleChanges) > 0 {
		b.WriteString("\n  Rules:\n")
		for _, rc := range r.RuleChanges {
			fmt.Fprintf(&b, "    %s %s\n", ruleMarks[rc.Type], rc.Rule)
		}
	}

	if len(keyed) > 0 {
		b.WriteString("\n")
		for _, c := range keyed {
			if c.Comment == "added" {
				fmt.Fprintf(&b, "  %s: + %s\n", c.Field, c.New)
			} else {
				fmt.Fprintf(&b, "  %s: - %s\n", c.Field, c.Old)
			}
		}
	}

	if d := direction(r.Changes); d != "" {
		fmt.Fprintf(&b, "\nOverall: %s\n", d)
	}
	return b.String()
}

func writeScalar(b *strings.Builder, indent string, width int, name string, c Change) {
	fmt.Fprintf(b, "%s%-*s %s → %s", indent, width, name+":", orDash(c.Old), orDash(c.New))
	if c.Comment != "" {
		fmt.Fprintf(b, "  (%s)", c.Comment)
	}
	b.WriteString("\n")
}

// direction reports whether the ranked changes all tighten, all loosen,
// or pull both ways. Unranked changes do not count.
func direction(changes []Change) string {
	var stricter, looser int
	for _, c := range changes {
		switch c.Comment {
		case "stricter":
			stricter++
		case "looser":
			looser++
		}
	}
	switch {
	case stricter > 0 && looser > 0:
		return "mixed"
	case stricter > 0:
		return "stricter"
	case looser > 0:
		return "looser"
	}
	return ""
}

func groupOf(field string) *group {
	for i := range scalarGroups {
		if strings.HasPrefix(field, scalarGroups[i].prefix) {
			return &scalarGroups[i]
		}
	}
	return nil
}

func isKeyed(field string) bool {
	for _, k := range keyedSections {
		if field == k || (strings.HasSuffix(k, ".") && strings.HasPrefix(field, k)) {
			return true
		}
	}
	return false
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// FormatJSON renders the diff as indented JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}
