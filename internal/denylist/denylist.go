// Package denylist holds hard-block patterns for actions that are never
// allowed regardless of risk score.
package denylist

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Patterns holds the raw pattern strings organized by category.
type Patterns struct {
	URLs     []string `yaml:"urls" json:"urls"`
	Files    []string `yaml:"files" json:"files"`
	Commands []string `yaml:"commands" json:"commands"`
	SQL      []string `yaml:"sql" json:"sql"`
}

// Merge returns p with extra appended per category.
func (p Patterns) Merge(extra Patterns) Patterns {
	return Patterns{
		URLs:     append(append([]string(nil), p.URLs...), extra.URLs...),
		Files:    append(append([]string(nil), p.Files...), extra.Files...),
		Commands: append(append([]string(nil), p.Commands...), extra.Commands...),
		SQL:      append(append([]string(nil), p.SQL...), extra.SQL...),
	}
}

// Category is the kind of action an event type carries.
type Category string

const (
	CategoryURL     Category = "url"
	CategoryFile    Category = "file"
	CategoryCommand Category = "command"
	CategorySQL     Category = "sql"
	CategoryOther   Category = "other"
)

// CategoryOf maps an event type ("http:request", "file:read") to a category
// by its prefix before the first colon or dot.
func CategoryOf(eventType string) Category {
	prefix := strings.ToLower(eventType)
	if i := strings.IndexAny(prefix, ":."); i >= 0 {
		prefix = prefix[:i]
	}
	switch prefix {
	case "http", "https", "web", "browser", "fetch":
		return CategoryURL
	case "file", "fs":
		return CategoryFile
	case "shell", "exec", "command", "bash":
		return CategoryCommand
	case "db", "sql", "database":
		return CategorySQL
	default:
		return CategoryOther
	}
}

// Denylist holds compiled patterns for fast matching.
type Denylist struct {
	urlPatterns     []*regexp.Regexp
	filePatterns    []string // glob-style, matched via containment
	commandPatterns []string // substring matching (case-insensitive)
	sqlPatterns     []*regexp.Regexp
	raw             Patterns
}

// New creates a Denylist from raw patterns, compiling regexes.
// Patterns that do not compile are skipped.
func New(p Patterns) *Denylist {
	d := &Denylist{raw: p, filePatterns: p.Files, commandPatterns: p.Commands}
	for _, u := range p.URLs {
		if re, err := regexp.Compile("(?i)" + patternToRegex(u)); err == nil {
			d.urlPatterns = append(d.urlPatterns, re)
		}
	}
	for _, s := range p.SQL {
		if re, err := regexp.Compile(`(?i)\b` + sqlPatternToRegex(s) + `\b`); err == nil {
			d.sqlPatterns = append(d.sqlPatterns, re)
		}
	}
	return d
}

// NewDefault creates a Denylist with the built-in patterns.
func NewDefault() *Denylist {
	return New(DefaultPatterns)
}

// IsBlocked checks the requested action against the patterns for the
// event type's category. Returns (blocked, reason).
func (d *Denylist) IsBlocked(eventType, action string) (bool, string) {
	lowerAction := strings.ToLower(action)
	cat := CategoryOf(eventType)

	if cat == CategoryURL || isURL(lowerAction) {
		for _, re := range d.urlPatterns {
			if re.MatchString(lowerAction) {
				return true, "URL pattern blocked: " + re.String()
			}
		}
	}

	if cat == CategoryFile || cat == CategoryOther {
		for _, pattern := range d.filePatterns {
			if matchFilePattern(lowerAction, strings.ToLower(pattern)) {
				return true, "file pattern blocked: " + pattern
			}
		}
	}

	if cat == CategoryCommand {
		for _, pattern := range d.commandPatterns {
			if matchCommand(lowerAction, strings.ToLower(pattern)) {
				return true, "command pattern blocked: " + pattern
			}
		}
		if isPipeToShell(lowerAction) {
			return true, "pipe-to-shell execution detected"
		}
	}

	if cat == CategorySQL {
		for _, re := range d.sqlPatterns {
			if re.MatchString(action) {
				return true, "SQL pattern blocked: " + re.String()
			}
		}
	}

	return false, ""
}

// Patterns returns a copy of the raw patterns.
func (d *Denylist) Patterns() Patterns {
	return Patterns{}.Merge(d.raw)
}

// patternToRegex converts a simple glob-like pattern to a regex.
func patternToRegex(pattern string) string {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\*`, "[^/]*")
	return escaped
}

// sqlPatternToRegex lets any run of whitespace separate pattern words.
func sqlPatternToRegex(pattern string) string {
	words := strings.Fields(pattern)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

func matchFilePattern(resource, pattern string) bool {
	expanded := pattern
	if strings.HasPrefix(expanded, "~/") {
		suffix := expanded[2:]
		if strings.Contains(resource, suffix) {
			return true
		}
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(strings.ToLower(home), suffix)
		}
	}

	// ** matches anything: reduce to the literal tail.
	if strings.Contains(expanded, "**") {
		suffix := strings.ReplaceAll(expanded, "**/", "")
		suffix = strings.ReplaceAll(suffix, "**", "")
		if i := strings.LastIndex(suffix, "*"); i >= 0 {
			suffix = suffix[i+1:]
		}
		return suffix != "" && strings.Contains(resource, suffix)
	}

	return strings.Contains(resource, expanded)
}

// matchCommand is substring matching, except that patterns ending in a
// path root ("rm -rf /", "rm -rf ~") must end the argument there.
func matchCommand(cmd, pattern string) bool {
	if !strings.HasSuffix(pattern, "/") && !strings.HasSuffix(pattern, "~") {
		return strings.Contains(cmd, pattern)
	}
	for from := 0; ; {
		i := strings.Index(cmd[from:], pattern)
		if i < 0 {
			return false
		}
		end := from + i + len(pattern)
		if end == len(cmd) || strings.ContainsRune(" \t;&|*", rune(cmd[end])) {
			return true
		}
		from += i + 1
	}
}

func isURL(resource string) bool {
	return strings.HasPrefix(resource, "http://") || strings.HasPrefix(resource, "https://")
}

// isPipeToShell detects piped-to-shell patterns like "curl ... | sh".
func isPipeToShell(cmd string) bool {
	if !strings.Contains(cmd, "|") {
		return false
	}
	if !strings.Contains(cmd, "curl") && !strings.Contains(cmd, "wget") {
		return false
	}
	parts := strings.Split(cmd, "|")
	for i := 1; i < len(parts); i++ {
		trimmed := strings.TrimSpace(parts[i])
		for _, s := range []string{"sh", "bash", "zsh", "fish"} {
			if trimmed == s || strings.HasPrefix(trimmed, s+" ") {
				return true
			}
		}
	}
	return false
}
