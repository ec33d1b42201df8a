// Package catalog holds the static model registry and the prompt templates.
// Both are loaded once at process start; entries are immutable afterwards.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Provider identifies the upstream wire format a model is served through.
type Provider string

const (
	// ProviderOpenRouter is the generic chat-completions API.
	ProviderOpenRouter Provider = "openrouter"
	// ProviderWorkersAI is the Cloudflare edge-inference API.
	ProviderWorkersAI Provider = "cloudflare"
)

// Model is one selectable model variant.
type Model struct {
	ID             string   `yaml:"model"`
	DisplayName    string   `yaml:"name"`
	SupportsImages bool     `yaml:"image"`
	IsPremium      bool     `yaml:"premium"`
	Provider       Provider `yaml:"provider"`
}

// Prompt is a named system prompt template.
type Prompt struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// Registry is the ordered model catalog. Index positions are stable and are
// what selection callbacks reference.
type Registry struct {
	Models  []Model
	Prompts []Prompt
}

// Default returns the built-in catalog.
func Default() Registry {
	return Registry{
		Models: []Model{
			{ID: "google/gemini-2.0-pro-exp-02-05:free", DisplayName: "Gemini Pro 2.0 Experimental", SupportsImages: true, Provider: ProviderOpenRouter},
			{ID: "qwen/qwen2.5-vl-72b-instruct:free", DisplayName: "Qwen2.5 VL 72B Instruct", SupportsImages: true, Provider: ProviderOpenRouter},
			{ID: "deepseek/deepseek-r1-distill-llama-70b:free", DisplayName: "DeepSeek: R1 Distill Llama 70B", Provider: ProviderOpenRouter},
			{ID: "deepseek/deepseek-r1:free", DisplayName: "DeepSeek: R1", Provider: ProviderOpenRouter},
			{ID: "google/gemini-2.0-flash-thinking-exp:free", DisplayName: "Gemini 2.0 Flash Thinking Experimental 01-21", SupportsImages: true, Provider: ProviderOpenRouter},
			{ID: "openai/gpt-4o", DisplayName: "GPT-4o", SupportsImages: true, IsPremium: true, Provider: ProviderOpenRouter},
			{ID: "anthropic/claude-3.5-sonnet", DisplayName: "Claude 3.5 Sonnet", SupportsImages: true, IsPremium: true, Provider: ProviderOpenRouter},
			{ID: "@cf/meta/llama-3.3-70b-instruct-fp8-fast", DisplayName: "Llama 3.3 70B (Workers AI)", IsPremium: true, Provider: ProviderWorkersAI},
		},
		Prompts: []Prompt{
			{Name: "Assistant", Text: "You are a helpful assistant."},
			{Name: "Concise", Text: "You are a helpful assistant. Answer as briefly as possible."},
			{Name: "Translator", Text: "You are a translator. Translate everything the user sends between Spanish and English."},
			{Name: "Developer", Text: "You are an expert software developer. Prefer concrete examples and code over prose."},
		},
	}
}

// Load reads a YAML catalog file, falling back to Default when path is
// empty. Prompts may be omitted in the file; the defaults are kept then.
func Load(path string) (Registry, error) {
	reg := Default()
	if path == "" {
		return reg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var file struct {
		Models  []Model  `yaml:"models"`
		Prompts []Prompt `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Registry{}, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	if len(file.Models) > 0 {
		for i := range file.Models {
			if file.Models[i].Provider == "" {
				file.Models[i].Provider = ProviderOpenRouter
			}
		}
		reg.Models = file.Models
	}
	if len(file.Prompts) > 0 {
		reg.Prompts = file.Prompts
	}
	if err := reg.Validate(); err != nil {
		return Registry{}, err
	}
	return reg, nil
}

// Validate checks the registry is usable: at least one model, at least one
// free model (the fallback pool), known providers, no duplicate ids.
func (r Registry) Validate() error {
	if len(r.Models) == 0 {
		return fmt.Errorf("catalog: no models configured")
	}
	if len(r.Prompts) == 0 {
		return fmt.Errorf("catalog: no prompts configured")
	}
	seen := make(map[string]bool, len(r.Models))
	hasFree := false
	for _, m := range r.Models {
		if m.ID == "" {
			return fmt.Errorf("catalog: model with empty id")
		}
		if seen[m.ID] {
			return fmt.Errorf("catalog: duplicate model id %s", m.ID)
		}
		seen[m.ID] = true
		if m.Provider != ProviderOpenRouter && m.Provider != ProviderWorkersAI {
			return fmt.Errorf("catalog: model %s has unknown provider %q", m.ID, m.Provider)
		}
		if !m.IsPremium {
			hasFree = true
		}
	}
	if !hasFree {
		return fmt.Errorf("catalog: no free model configured")
	}
	return nil
}

// ByID returns the model with the given id.
func (r Registry) ByID(id string) (Model, bool) {
	for _, m := range r.Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// At returns the model at index i.
func (r Registry) At(i int) (Model, bool) {
	if i < 0 || i >= len(r.Models) {
		return Model{}, false
	}
	return r.Models[i], true
}

// First returns the registry's first entry, the default model.
func (r Registry) First() Model {
	return r.Models[0]
}

// FirstFree returns the first non-premium model, optionally required to
// support images.
func (r Registry) FirstFree(needsImages bool) (Model, bool) {
	for _, m := range r.Models {
		if m.IsPremium {
			continue
		}
		if needsImages && !m.SupportsImages {
			continue
		}
		return m, true
	}
	return Model{}, false
}

// FirstImageCapable returns the first image-capable model, premium entries
// included when includePremium is set.
func (r Registry) FirstImageCapable(includePremium bool) (Model, bool) {
	for _, m := range r.Models {
		if !m.SupportsImages {
			continue
		}
		if m.IsPremium && !includePremium {
			continue
		}
		return m, true
	}
	return Model{}, false
}

// FirstPrompt returns the default system prompt template.
func (r Registry) FirstPrompt() Prompt {
	return r.Prompts[0]
}

// PromptAt returns the prompt template at index i.
func (r Registry) PromptAt(i int) (Prompt, bool) {
	if i < 0 || i >= len(r.Prompts) {
		return Prompt{}, false
	}
	return r.Prompts[i], true
}
