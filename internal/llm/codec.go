package llm

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// AnthropicVersion is sent as the anthropic-version header.
const AnthropicVersion = "2023-06-01"

// DefaultTemperature is added to non-Anthropic request bodies.
const DefaultTemperature = 0.7

// codec shapes requests and responses for one provider family
type codec interface {
	encode(model ModelConfig, messages []Message, customBody map[string]any) map[string]any
	headers(h http.Header, apiKey string)
	decode(body []byte) (string, error)
}

func codecFor(p Provider) codec {
	switch p {
	case ProviderAnthropic:
		return anthropicCodec{}
	case ProviderOpenAI, ProviderMistral, ProviderGrok:
		return openAICodec{}
	default:
		return customCodec{}
	}
}

func baseBody(model ModelConfig, messages []Message, customBody map[string]any) map[string]any {
	body := map[string]any{
		"model":      model.Model,
		"messages":   messages,
		"max_tokens": model.MaxTokens,
	}
	for k, v := range customBody {
		body[k] = v
	}
	return body
}

type anthropicCodec struct{}

// encode moves system messages into the top-level system field.
func (anthropicCodec) encode(model ModelConfig, messages []Message, customBody map[string]any) map[string]any {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	body := baseBody(model, turns, customBody)
	if len(system) > 0 {
		if _, set := body["system"]; !set {
			body["system"] = strings.Join(system, "\n\n")
		}
	}
	return body
}

func (anthropicCodec) headers(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", AnthropicVersion)
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (anthropicCodec) decode(body []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "failed to parse Anthropic response")
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return "", errors.New("invalid Anthropic API response format")
	}
	return resp.Content[0].Text, nil
}

type openAICodec struct{}

func (openAICodec) encode(model ModelConfig, messages []Message, customBody map[string]any) map[string]any {
	body := baseBody(model, messages, customBody)
	body["temperature"] = DefaultTemperature
	return body
}

func (openAICodec) headers(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

type openAIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (openAICodec) decode(body []byte) (string, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "failed to parse chat completion response")
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("invalid chat completion response format")
	}
	return resp.Choices[0].Message.Content, nil
}

// customCodec sends an OpenAI-style body and accepts any of the common
// response shapes.
type customCodec struct{}

func (customCodec) encode(model ModelConfig, messages []Message, customBody map[string]any) map[string]any {
	return openAICodec{}.encode(model, messages, customBody)
}

func (customCodec) headers(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

func (customCodec) decode(body []byte) (string, error) {
	if text, err := (openAICodec{}).decode(body); err == nil {
		return text, nil
	}
	if text, err := (anthropicCodec{}).decode(body); err == nil {
		return text, nil
	}

	var flat map[string]any
	if err := json.Unmarshal(body, &flat); err != nil {
		return "", errors.Wrap(err, "failed to parse response")
	}
	for _, key := range []string{"output", "text", "response", "content"} {
		if s, ok := flat[key].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", errors.New("unrecognised response format")
}
