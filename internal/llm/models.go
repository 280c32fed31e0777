package llm

// Provider selects the wire format used for an endpoint.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderMistral   Provider = "mistral"
	ProviderGrok      Provider = "grok"
	ProviderCustom    Provider = "custom"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderMistral, ProviderGrok, ProviderCustom:
		return true
	}
	return false
}

// DefaultMaxTokens is sent for models missing from the catalog.
const DefaultMaxTokens = 4096

// ModelConfig describes a catalog model
type ModelConfig struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Provider      Provider `json:"provider"`
	Model         string   `json:"model"`
	MaxTokens     int      `json:"maxTokens"`
	ContextWindow int      `json:"contextWindow"`
	Description   string   `json:"description"`
}

// Models is the built-in model catalog.
var Models = []ModelConfig{
	{
		ID:            "claude-3-7-sonnet",
		Name:          "Claude 3.7 Sonnet",
		Provider:      ProviderAnthropic,
		Model:         "claude-3-7-sonnet",
		MaxTokens:     4096,
		ContextWindow: 200000,
		Description:   "Balanced performance and efficiency",
	},
	{
		ID:            "claude-3-5-haiku",
		Name:          "Claude 3.5 Haiku",
		Provider:      ProviderAnthropic,
		Model:         "claude-3-5-haiku",
		MaxTokens:     4096,
		ContextWindow: 200000,
		Description:   "Fastest Claude model, optimized for quick responses",
	},
	{
		ID:            "gpt-4",
		Name:          "GPT-4",
		Provider:      ProviderOpenAI,
		Model:         "gpt-4-turbo-preview",
		MaxTokens:     4096,
		ContextWindow: 128000,
		Description:   "Most capable OpenAI model",
	},
	{
		ID:            "mistral-large",
		Name:          "Mistral Large",
		Provider:      ProviderMistral,
		Model:         "mistral-large-latest",
		MaxTokens:     4096,
		ContextWindow: 32000,
		Description:   "Mistral's most capable model",
	},
}

// ModelByID looks a model up in the catalog.
func ModelByID(id string) (ModelConfig, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// ResolveModel returns the catalog entry for an endpoint's model id. Ids not
// in the catalog are sent verbatim with DefaultMaxTokens under the endpoint's
// own provider.
func ResolveModel(ep Endpoint) ModelConfig {
	if m, ok := ModelByID(ep.Model); ok {
		return m
	}
	return ModelConfig{
		ID:        ep.Model,
		Name:      ep.Model,
		Provider:  ep.Provider,
		Model:     ep.Model,
		MaxTokens: DefaultMaxTokens,
	}
}

// Endpoint is one configured remote model endpoint. It is passed to the
// client per call.
type Endpoint struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Provider      Provider          `json:"provider"`
	URL           string            `json:"url"`
	APIKey        string            `json:"apiKey,omitempty"`
	Model         string            `json:"model,omitempty"`
	IsActive      bool              `json:"isActive"`
	CustomHeaders map[string]string `json:"customHeaders,omitempty"`
	CustomBody    map[string]any    `json:"customBody,omitempty"`
}

// Redacted returns a copy safe to print or serve.
func (e Endpoint) Redacted() Endpoint {
	if e.APIKey != "" {
		if len(e.APIKey) <= 8 {
			e.APIKey = "****"
		} else {
			e.APIKey = e.APIKey[:4] + "****" + e.APIKey[len(e.APIKey)-4:]
		}
	}
	return e
}
