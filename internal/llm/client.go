package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 60 * time.Second

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message message structure
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client sends chat and summarization requests to a configured endpoint.
// Endpoint settings are passed per call; the client itself holds none.
type Client struct {
	httpClient    *http.Client
	timeout       time.Duration
	contextHeader string
}

// Option configures a Client
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithContextHeader replaces the line placed between the instruction prompt
// and the conversation transcripts.
func WithContextHeader(header string) Option {
	return func(c *Client) {
		if strings.TrimSpace(header) != "" {
			c.contextHeader = header
		}
	}
}

// New creates a new LLM client
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{},
		timeout:       DefaultTimeout,
		contextHeader: DefaultContextHeader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-call deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Summarize renders transcripts under prompt and sends them as one user
// message.
func (c *Client) Summarize(ctx context.Context, ep Endpoint, prompt string, transcripts []Transcript) (string, error) {
	full := BuildSummaryPrompt(prompt, c.contextHeader, transcripts)
	return c.Chat(ctx, ep, []Message{{Role: RoleUser, Content: full}})
}

// Chat sends messages to ep and returns the reply text. Failures are always
// *SummarizationError. There is no retry.
func (c *Client) Chat(ctx context.Context, ep Endpoint, messages []Message) (string, error) {
	if err := checkEndpoint(ep); err != nil {
		return "", err
	}
	model := ResolveModel(ep)
	cd := codecFor(model.Provider)

	payload, err := json.Marshal(cd.encode(model, messages, ep.CustomBody))
	if err != nil {
		return "", newError(KindMalformedResponse, "failed to serialize request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return "", newError(KindNetwork, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	cd.headers(req.Header, ep.APIKey)
	for k, v := range ep.CustomHeaders {
		req.Header.Set(k, v)
	}

	started := time.Now()
	log.Debug().
		Str("endpoint", ep.ID).
		Str("provider", string(model.Provider)).
		Str("model", model.Model).
		Int("messages", len(messages)).
		Msg("sending LLM request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err, c.timeout)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportError(ctx, err, c.timeout)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := statusError(resp.StatusCode, body)
		log.Warn().Str("endpoint", ep.ID).Int("status", resp.StatusCode).Msg("LLM request rejected")
		return "", se
	}

	text, err := cd.decode(body)
	if err != nil {
		return "", newError(KindMalformedResponse, err.Error(), err)
	}

	log.Debug().
		Str("endpoint", ep.ID).
		Dur("elapsed", time.Since(started)).
		Int("chars", len(text)).
		Msg("LLM request completed")
	return text, nil
}

func checkEndpoint(ep Endpoint) error {
	switch {
	case strings.TrimSpace(ep.URL) == "":
		return newError(KindUnauthorized, "API endpoint URL is not configured", nil)
	case strings.TrimSpace(ep.APIKey) == "":
		return newError(KindUnauthorized, "API key is not configured", nil)
	case strings.TrimSpace(ep.Model) == "":
		return newError(KindUnauthorized, "no model selected", nil)
	}
	return nil
}

func classifyTransportError(ctx context.Context, err error, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, fmt.Sprintf("request timed out after %s", timeout), err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(KindTimeout, "request timed out", err)
	}
	return newError(KindNetwork, "unable to connect to the API endpoint", err)
}

func statusError(status int, body []byte) *SummarizationError {
	msg := fmt.Sprintf("API request failed (%d): %s.", status, http.StatusText(status))
	if detail := errorDetail(body); detail != "" {
		msg += " " + detail
	}
	kind := KindNetwork
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = KindUnauthorized
	}
	return &SummarizationError{Kind: kind, StatusCode: status, Message: msg}
}

// errorDetail extracts error/message from a JSON error body, else returns
// the trimmed raw body.
func errorDetail(body []byte) string {
	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Error) > 0 {
			var s string
			if json.Unmarshal(parsed.Error, &s) == nil && s != "" {
				return s
			}
			var obj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(parsed.Error, &obj) == nil && obj.Message != "" {
				return obj.Message
			}
			return string(parsed.Error)
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}
