// Package redact scrubs credentials from command text and log lines.
package redact

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Marker replaces every scrubbed value.
const Marker = "[REDACTED]"

var defaultKeys = []string{
	"token",
	"api_key",
	"apikey",
	"botToken",
	"bot_token",
	"telegram_token",
	"password",
	"anthropic_api_key",
	"openai_api_key",
	"gemini_api_key",
	"private_key",
}

type pattern struct {
	re   *regexp.Regexp
	repl string
}

// Redactor scrubs sensitive key/value pairs and registered literal secrets.
// A nil Redactor returns input unchanged. The zero value scrubs only
// what is registered through AddKeys and AddValues.
type Redactor struct {
	mu       sync.RWMutex
	keySet   map[string]struct{}
	keys     []string
	valSet   map[string]struct{}
	values   []string
	patterns []pattern
}

// New builds a redactor with the default keys plus extraKeys.
func New(extraKeys ...string) *Redactor {
	r := &Redactor{
		keySet: make(map[string]struct{}),
		valSet: make(map[string]struct{}),
	}
	r.AddKeys(defaultKeys...)
	r.AddKeys(extraKeys...)
	return r
}

// AddKeys registers additional sensitive keys.
func (r *Redactor) AddKeys(keys ...string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keySet == nil {
		r.keySet = make(map[string]struct{})
	}
	changed := false
	for _, key := range keys {
		normalized := strings.ToLower(strings.TrimSpace(key))
		if normalized == "" {
			continue
		}
		if _, ok := r.keySet[normalized]; ok {
			continue
		}
		r.keySet[normalized] = struct{}{}
		r.keys = append(r.keys, normalized)
		changed = true
	}
	if changed {
		r.patterns = buildPatterns(r.keys)
	}
}

// AddValues registers literal secrets. Values shorter than six characters
// are ignored so common words are not mangled.
func (r *Redactor) AddValues(values ...string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.valSet == nil {
		r.valSet = make(map[string]struct{})
	}
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if len(trimmed) < 6 {
			continue
		}
		if _, ok := r.valSet[trimmed]; ok {
			continue
		}
		r.valSet[trimmed] = struct{}{}
		r.values = append(r.values, trimmed)
	}
	// Longest first, so a secret containing another is replaced whole.
	sort.SliceStable(r.values, func(i, j int) bool { return len(r.values[i]) > len(r.values[j]) })
}

// Redact returns a scrubbed copy of input.
func (r *Redactor) Redact(input string) string {
	if r == nil || input == "" {
		return input
	}
	r.mu.RLock()
	values := append([]string(nil), r.values...)
	patterns := append([]pattern(nil), r.patterns...)
	r.mu.RUnlock()

	output := input
	for _, value := range values {
		output = strings.ReplaceAll(output, value, Marker)
	}
	for _, p := range patterns {
		output = p.re.ReplaceAllString(output, p.repl)
	}
	return output
}

func buildPatterns(keys []string) []pattern {
	var patterns []pattern
	for _, key := range keys {
		escaped := regexp.QuoteMeta(key)
		patterns = append(patterns,
			pattern{
				re:   regexp.MustCompile(`(?i)("` + escaped + `"\s*:\s*")([^"]*)(")`),
				repl: `$1` + Marker + `$3`,
			},
			pattern{
				re:   regexp.MustCompile(`(?i)(\b` + escaped + `\b\s*=\s*")([^"]*)(")`),
				repl: `$1` + Marker + `$3`,
			},
			pattern{
				re:   regexp.MustCompile(`(?i)(\b` + escaped + `\b\s*=\s*')([^']*)(')`),
				repl: `$1` + Marker + `$3`,
			},
			pattern{
				re:   regexp.MustCompile(`(?i)(\b` + escaped + `\b\s*=\s*)([^\s"']+)`),
				repl: `$1` + Marker,
			},
			pattern{
				re:   regexp.MustCompile(`(?i)(\b` + escaped + `\b\s*:\s*)([^\s"'\[]+)`),
				repl: `$1` + Marker,
			},
		)
	}
	return patterns
}
