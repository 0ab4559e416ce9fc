package backend

import (
	"encoding/json"
	"strconv"
)

// Canonical generation parameter keys
const (
	ParamTemperature     = "temperature"
	ParamMaxOutputTokens = "maxOutputTokens"
	ParamTopP            = "top_p"
)

var paramAliases = map[string]string{
	"num_predict": ParamMaxOutputTokens,
	"max_tokens":  ParamMaxOutputTokens,
	"maxTokens":   ParamMaxOutputTokens,
	"topP":        ParamTopP,
}

// Params are the generation parameters sent to the backend. Zero values
// leave the backend default in place.
type Params struct {
	Temperature *float64
	MaxTokens   int
	TopP        *float64
	// Extra holds backend specific options passed through untouched
	Extra map[string]interface{}
}

// NormalizeParams rewrites alias keys to their canonical names. The
// canonical key wins when both are present.
func NormalizeParams(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if canonical, ok := paramAliases[k]; ok {
			if _, exists := in[canonical]; exists {
				continue
			}
			k = canonical
		}
		out[k] = v
	}
	return out
}

// MergeParams layers overrides on top of base after normalizing both
func MergeParams(base, overrides map[string]interface{}) map[string]interface{} {
	merged := NormalizeParams(base)
	for k, v := range NormalizeParams(overrides) {
		merged[k] = v
	}
	return merged
}

// ParamsFromMap extracts typed parameters from a document parameter map
func ParamsFromMap(m map[string]interface{}) Params {
	var p Params
	for k, v := range NormalizeParams(m) {
		switch k {
		case ParamTemperature:
			if f, ok := toFloat(v); ok {
				p.Temperature = &f
			}
		case ParamMaxOutputTokens:
			if f, ok := toFloat(v); ok && f > 0 {
				p.MaxTokens = int(f)
			}
		case ParamTopP:
			if f, ok := toFloat(v); ok {
				p.TopP = &f
			}
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]interface{})
			}
			p.Extra[k] = v
		}
	}
	return p
}

// CapMaxTokens limits the output budget to a model's context limit. A
// non-positive limit leaves the parameters unchanged.
func (p *Params) CapMaxTokens(limit int) {
	if limit > 0 && p.MaxTokens > limit {
		p.MaxTokens = limit
	}
}

// ollamaOptions renders the parameters as an Ollama options object
func (p Params) ollamaOptions() map[string]interface{} {
	opts := make(map[string]interface{}, len(p.Extra)+3)
	for k, v := range p.Extra {
		opts[k] = v
	}
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.MaxTokens > 0 {
		opts["num_predict"] = p.MaxTokens
	}
	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	return opts
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
