package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	defaultTransportTimeout = 60 * time.Second
	transportTemperature    = 0.1
	errorBodyExcerptLen     = 240
)

// ChatMessage is one role-tagged turn sent to the model endpoint.
type ChatMessage struct {
	Role    string
	Content string
}

// Transport sends a message sequence to a language model endpoint and
// returns the raw assistant text.
type Transport interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// HTTPTransport talks to an OpenAI-shaped chat completions endpoint. The
// response is read tolerantly: assistant text is taken from
// choices[0].message.content, then message.content, then a top-level
// content field, each of which may be a plain string or an array of parts.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func NewHTTPTransport(endpoint, apiKey, model string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = defaultTransportTimeout
	}
	return &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	body := "{}"
	body, _ = sjson.Set(body, "model", t.model)
	body, _ = sjson.Set(body, "stream", false)
	body, _ = sjson.Set(body, "temperature", transportTemperature)
	for i, m := range messages {
		body, _ = sjson.Set(body, fmt.Sprintf("messages.%d.role", i), m.Role)
		body, _ = sjson.Set(body, fmt.Sprintf("messages.%d.content", i), m.Content)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader([]byte(body)))
	if err != nil {
		return "", fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("model endpoint returned status %d: %s", resp.StatusCode, excerpt(respBody))
	}

	text, err := extractAssistantText(respBody)
	if err != nil {
		return "", err
	}
	return text, nil
}

func extractAssistantText(body []byte) (string, error) {
	for _, path := range []string{"choices.0.message.content", "message.content", "content"} {
		v := gjson.GetBytes(body, path)
		if !v.Exists() {
			continue
		}
		if text := flattenContent(v); strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return "", fmt.Errorf("model response contains no assistant text")
}

// flattenContent accepts either a plain string or an array of parts, where
// each part is a string or an object with a text field.
func flattenContent(v gjson.Result) string {
	if !v.IsArray() {
		return v.String()
	}
	var parts []string
	for _, part := range v.Array() {
		switch {
		case part.Type == gjson.String:
			parts = append(parts, part.String())
		case part.IsObject():
			if text := part.Get("text"); text.Type == gjson.String {
				parts = append(parts, text.String())
			}
		}
	}
	return strings.Join(parts, "\n")
}

func excerpt(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= errorBodyExcerptLen {
		return text
	}
	return text[:errorBodyExcerptLen]
}
