// Package settings persists endpoint configurations for the LLM client.
package settings

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/hession/convscope/internal/llm"
)

var (
	// ErrUnknownEndpoint is returned for ids that are neither built in nor saved.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrNoActiveEndpoint means no endpoint is both active and keyed.
	ErrNoActiveEndpoint = errors.New("no active endpoint with an API key; run `convscope endpoints activate <id>` and set a key")
)

// Repository loads and saves endpoint settings
type Repository interface {
	Load() ([]llm.Endpoint, error)
	Save(endpoints []llm.Endpoint) error
	Reset() error
}

// KeyLookup returns an API key for an endpoint id from outside the
// repository, e.g. the .secrets file. It may return "".
type KeyLookup func(endpointID string) string

// DefaultEndpoints returns the built-in endpoints, none active.
func DefaultEndpoints() []llm.Endpoint {
	return []llm.Endpoint{
		{
			ID:       "anthropic",
			Name:     "Anthropic",
			Provider: llm.ProviderAnthropic,
			URL:      "https://api.anthropic.com/v1/messages",
			Model:    llm.Models[0].ID,
		},
		{
			ID:       "openai",
			Name:     "OpenAI",
			Provider: llm.ProviderOpenAI,
			URL:      "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4",
		},
		{
			ID:       "mistral",
			Name:     "Mistral",
			Provider: llm.ProviderMistral,
			URL:      "https://api.mistral.ai/v1/chat/completions",
			Model:    "mistral-large",
		},
		{
			ID:       "grok",
			Name:     "Grok",
			Provider: llm.ProviderGrok,
			URL:      "https://api.x.ai/v1/chat/completions",
			Model:    "grok-1",
		},
	}
}

// Merge overlays saved endpoints on the defaults. Saved fields replace
// default ones when set; saved endpoints without a default are appended in
// id order. Missing keys are filled from lookup when it is not nil.
func Merge(defaults, saved []llm.Endpoint, lookup KeyLookup) []llm.Endpoint {
	byID := make(map[string]llm.Endpoint, len(saved))
	for _, ep := range saved {
		byID[ep.ID] = ep
	}

	out := make([]llm.Endpoint, 0, len(defaults)+len(saved))
	known := make(map[string]bool, len(defaults))
	for _, def := range defaults {
		known[def.ID] = true
		if s, ok := byID[def.ID]; ok {
			def = overlay(def, s)
		}
		out = append(out, def)
	}

	var extra []llm.Endpoint
	for _, s := range saved {
		if !known[s.ID] {
			if s.Provider == "" {
				s.Provider = llm.ProviderCustom
			}
			extra = append(extra, s)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].ID < extra[j].ID })
	out = append(out, extra...)

	if lookup != nil {
		for i := range out {
			if out[i].APIKey == "" {
				out[i].APIKey = lookup(out[i].ID)
			}
		}
	}
	return out
}

func overlay(def, s llm.Endpoint) llm.Endpoint {
	if s.Name != "" {
		def.Name = s.Name
	}
	if s.Provider != "" {
		def.Provider = s.Provider
	}
	if s.URL != "" {
		def.URL = s.URL
	}
	if s.APIKey != "" {
		def.APIKey = s.APIKey
	}
	if s.Model != "" {
		def.Model = s.Model
	}
	if len(s.CustomHeaders) > 0 {
		def.CustomHeaders = s.CustomHeaders
	}
	if len(s.CustomBody) > 0 {
		def.CustomBody = s.CustomBody
	}
	def.IsActive = s.IsActive
	return def
}

// Find returns the endpoint with id.
func Find(endpoints []llm.Endpoint, id string) (llm.Endpoint, error) {
	for _, ep := range endpoints {
		if ep.ID == id {
			return ep, nil
		}
	}
	return llm.Endpoint{}, errors.Wrapf(ErrUnknownEndpoint, "%q", id)
}

// ActiveEndpoint picks the endpoint to call. A non-empty preferred id wins;
// otherwise the first endpoint that is active and has a key.
func ActiveEndpoint(endpoints []llm.Endpoint, preferred string) (llm.Endpoint, error) {
	if preferred != "" {
		return Find(endpoints, preferred)
	}
	for _, ep := range endpoints {
		if ep.IsActive && ep.APIKey != "" {
			return ep, nil
		}
	}
	return llm.Endpoint{}, ErrNoActiveEndpoint
}

// Update loads the endpoints from repo, applies fn to the endpoint with id
// and saves the result. An id that is not known yet creates a custom
// endpoint.
func Update(repo Repository, id string, fn func(*llm.Endpoint)) (llm.Endpoint, error) {
	endpoints, err := repo.Load()
	if err != nil {
		return llm.Endpoint{}, err
	}
	idx := -1
	for i := range endpoints {
		if endpoints[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		endpoints = append(endpoints, llm.Endpoint{ID: id, Name: id, Provider: llm.ProviderCustom})
		idx = len(endpoints) - 1
	}
	fn(&endpoints[idx])
	if !endpoints[idx].Provider.Valid() {
		return llm.Endpoint{}, errors.Errorf("invalid provider %q", endpoints[idx].Provider)
	}
	if err := repo.Save(endpoints); err != nil {
		return llm.Endpoint{}, err
	}
	return endpoints[idx], nil
}

// Activate marks id as the only active endpoint.
func Activate(repo Repository, id string) (llm.Endpoint, error) {
	endpoints, err := repo.Load()
	if err != nil {
		return llm.Endpoint{}, err
	}
	if _, err := Find(endpoints, id); err != nil {
		return llm.Endpoint{}, err
	}
	var active llm.Endpoint
	for i := range endpoints {
		endpoints[i].IsActive = endpoints[i].ID == id
		if endpoints[i].IsActive {
			active = endpoints[i]
		}
	}
	if err := repo.Save(endpoints); err != nil {
		return llm.Endpoint{}, err
	}
	return active, nil
}
