package proxy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/santa-tracker/santa-gateway/internal/configstore"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Substitute replaces every {{NAME}} token in template. A token resolves
// from vars[NAME], else from the lower-cased name without a _CONTEXT suffix
// ({{DISTANCE_CONTEXT}} reads vars["distance"]), else it becomes "".
func Substitute(template string, vars map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		if v, ok := vars[name]; ok {
			return stringify(v)
		}
		short := strings.ToLower(strings.TrimSuffix(name, "_CONTEXT"))
		if v, ok := vars[short]; ok {
			return stringify(v)
		}
		return ""
	})
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

var quotePairs = [][2]string{
	{`"`, `"`},
	{"“", "”"},
}

// StripQuotes removes one pair of quotation marks wrapping the whole of s.
// Quotes that only appear inside the text are kept.
func StripQuotes(s string) string {
	for _, q := range quotePairs {
		if len(s) < len(q[0])+len(q[1]) {
			continue
		}
		if !strings.HasPrefix(s, q[0]) || !strings.HasSuffix(s, q[1]) {
			continue
		}
		inner := s[len(q[0]) : len(s)-len(q[1])]
		if strings.Contains(inner, q[0]) || strings.Contains(inner, q[1]) {
			continue
		}
		return inner
	}
	return s
}

// InferPromptKind picks the prompt kind a free-form chat message asks for
func InferPromptKind(message string) configstore.PromptKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, string(configstore.PromptPreparing)):
		return configstore.PromptPreparing
	case strings.Contains(lower, string(configstore.PromptFinished)):
		return configstore.PromptFinished
	default:
		return configstore.PromptDelivering
	}
}
