package configstore

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// RequiredSections must be present at the top level of every document
var RequiredSections = []string{"aiProvider", "prompts", "server"}

// Validate checks a raw document and collects every violation. Nested
// checks only run for sections that are present, so each missing element
// yields exactly one message.
func Validate(data []byte) (bool, []string) {
	if !gjson.ValidBytes(data) {
		return false, []string{"Configuration is not valid JSON"}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return false, []string{"Configuration must be a JSON object"}
	}

	var errs []string
	for _, section := range RequiredSections {
		if !root.Get(section).Exists() {
			errs = append(errs, "Missing required section: "+section)
		}
	}

	if p := root.Get("aiProvider"); p.Exists() {
		errs = append(errs, validateProvider(p)...)
	}
	if p := root.Get("prompts"); p.Exists() {
		errs = append(errs, validatePrompts(p)...)
	}
	if s := root.Get("server"); s.Exists() {
		errs = append(errs, validateServer(s)...)
	}

	return len(errs) == 0, errs
}

// ValidateDocument validates a typed document
func ValidateDocument(doc *Configuration) (bool, []string) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, []string{fmt.Sprintf("Configuration cannot be encoded: %v", err)}
	}
	return Validate(data)
}

func validateProvider(p gjson.Result) []string {
	if !p.IsObject() {
		return []string{"aiProvider must be an object"}
	}

	var errs []string
	if nonEmptyString(p.Get("url")) == "" {
		errs = append(errs, "Missing aiProvider.url")
	}
	defaultModel := nonEmptyString(p.Get("defaultModel"))
	if defaultModel == "" {
		errs = append(errs, "Missing aiProvider.defaultModel")
	}
	if t := p.Get("type"); t.Exists() {
		if _, ok := ProviderType(t.String()).Normalize(); !ok || t.Type != gjson.String {
			errs = append(errs, fmt.Sprintf("Unknown aiProvider.type: %s", t.String()))
		}
	}

	models := p.Get("availableModels")
	if !models.Exists() {
		errs = append(errs, "Missing aiProvider.availableModels")
		return errs
	}
	if !models.IsArray() {
		errs = append(errs, "aiProvider.availableModels must be an array")
		return errs
	}

	seen := make(map[string]bool)
	for i, m := range models.Array() {
		prefix := fmt.Sprintf("aiProvider.availableModels[%d]", i)
		if !m.IsObject() {
			errs = append(errs, prefix+" must be an object")
			continue
		}
		name := nonEmptyString(m.Get("name"))
		if name == "" {
			errs = append(errs, prefix+".name is required")
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("Duplicate model name: %s", name))
		}
		seen[name] = true
		errs = append(errs, validateModelParams(prefix, m)...)
	}

	if defaultModel != "" && !seen[defaultModel] {
		errs = append(errs, fmt.Sprintf("aiProvider.defaultModel %q is not in availableModels", defaultModel))
	}
	return errs
}

func validateModelParams(prefix string, m gjson.Result) []string {
	var errs []string
	if mt := m.Get("maxTokens"); mt.Exists() && !positiveInt(mt) {
		errs = append(errs, prefix+".maxTokens must be a positive integer")
	}

	params := m.Get("parameters")
	if !params.Exists() {
		return errs
	}
	if !params.IsObject() {
		return append(errs, prefix+".parameters must be an object")
	}
	if t := params.Get("temperature"); t.Exists() {
		if t.Type != gjson.Number || t.Float() < 0 || t.Float() > 2 {
			errs = append(errs, prefix+".parameters.temperature must be between 0 and 2")
		}
	}
	for _, key := range []string{"maxOutputTokens", "num_predict", "max_tokens"} {
		if v := params.Get(key); v.Exists() && !positiveInt(v) {
			errs = append(errs, fmt.Sprintf("%s.parameters.%s must be a positive integer", prefix, key))
		}
	}
	if tp := params.Get("top_p"); tp.Exists() {
		if tp.Type != gjson.Number || tp.Float() < 0 || tp.Float() > 1 {
			errs = append(errs, prefix+".parameters.top_p must be between 0 and 1")
		}
	}
	return errs
}

func validatePrompts(p gjson.Result) []string {
	if !p.IsObject() {
		return []string{"prompts must be an object"}
	}
	var errs []string
	for _, kind := range PromptKinds {
		v := p.Get(string(kind))
		if !v.Exists() {
			errs = append(errs, "Missing prompt: "+string(kind))
			continue
		}
		if v.Type != gjson.String {
			errs = append(errs, fmt.Sprintf("prompts.%s must be a string", kind))
		}
	}
	return errs
}

func validateServer(s gjson.Result) []string {
	if !s.IsObject() {
		return []string{"server must be an object"}
	}
	var errs []string
	if port := s.Get("port"); port.Exists() {
		if !positiveInt(port) || port.Int() > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	}
	if cors := s.Get("corsEnabled"); cors.Exists() && !cors.IsBool() {
		errs = append(errs, "server.corsEnabled must be a boolean")
	}
	return errs
}

func nonEmptyString(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

func positiveInt(r gjson.Result) bool {
	if r.Type != gjson.Number {
		return false
	}
	return r.Float() == float64(r.Int()) && r.Int() > 0
}
