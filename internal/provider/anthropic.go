package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const anthropicDefaultBase = "https://api.anthropic.com"

const (
	betaOAuth     = "oauth-2025-04-20"
	betaClaudeCLI = "claude-code-20250219"
)

// ForwardAnthropic sends opts to the Anthropic Messages API and returns its
// response, tracking token usage either immediately (non-streaming) or via
// a background SSE parser (streaming).
func ForwardAnthropic(opts ForwardOptions) (*Response, error) {
	targetURL := buildURL(opts.BaseURL, anthropicDefaultBase, opts.Path)
	resp, err := doRaw(opts.Method, targetURL, anthropicHeaders(opts), opts.Body)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	headers := lowercasedHeaders(resp.Header)
	if isEventStream(headers) {
		usage := &TokenUsage{}
		return teeIntoStreamingResponse(resp.StatusCode, headers, resp.Body, usage, extractAnthropicSSETokens), nil
	}
	return bufferedResponse(resp.StatusCode, headers, resp.Body, parseAnthropicUsage)
}

// anthropicHeaders builds the outbound header set, switching between OAuth
// (adds the beta flags Anthropic requires for the Claude Code OAuth flow)
// and a plain API key.
func anthropicHeaders(opts ForwardOptions) map[string]string {
	h := map[string]string{
		"Content-Type":      "application/json",
		"Anthropic-Version": "2023-06-01",
	}
	if v := opts.Headers["anthropic-version"]; v != "" {
		h["Anthropic-Version"] = v
	}

	if opts.AuthType != "oauth" {
		h["X-Api-Key"] = opts.APIKey
		if beta := opts.Headers["anthropic-beta"]; beta != "" {
			h["Anthropic-Beta"] = beta
		}
		return h
	}

	h["Authorization"] = "Bearer " + opts.APIKey
	h["Anthropic-Beta"] = withRequiredBetas(opts.Headers["anthropic-beta"], betaOAuth, betaClaudeCLI)
	h["Anthropic-Dangerous-Direct-Browser-Access"] = "true"
	if ua := opts.Headers["user-agent"]; ua != "" {
		h["User-Agent"] = ua
	}
	if xapp := opts.Headers["x-app"]; xapp != "" {
		h["X-App"] = xapp
	}
	return h
}

// withRequiredBetas ensures each of required appears in the comma-separated
// beta list, appending whichever are missing and preserving any extras the
// client already sent.
func withRequiredBetas(existing string, required ...string) string {
	parts := splitCSV(existing)
	for _, r := range required {
		if !containsStr(parts, r) {
			parts = append(parts, r)
		}
	}
	return strings.Join(parts, ",")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func containsStr(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func extractAnthropicSSETokens(r io.Reader, usage *TokenUsage) {
	scanSSEEvents(r, "anthropic", func(ev map[string]any) {
		switch ev["type"] {
		case "message_start":
			msg, _ := ev["message"].(map[string]any)
			if msg == nil {
				return
			}
			if m, ok := msg["model"].(string); ok {
				usage.Model.Store(m)
			}
			if u, ok := msg["usage"].(map[string]any); ok {
				usage.InputTokens.Store(int64(intFromAny(u["input_tokens"])))
				usage.CacheReadTokens.Store(int64(intFromAny(u["cache_read_input_tokens"])))
				usage.CacheWriteTokens.Store(int64(intFromAny(u["cache_creation_input_tokens"])))
			}
		case "message_delta":
			if u, ok := ev["usage"].(map[string]any); ok {
				usage.OutputTokens.Store(int64(intFromAny(u["output_tokens"])))
			}
		}
	})
}

func parseAnthropicUsage(body []byte) (input, output, cacheRead, cacheWrite int, model string) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return
	}
	if m, ok := parsed["model"].(string); ok {
		model = m
	}
	if u, ok := parsed["usage"].(map[string]any); ok {
		input = intFromAny(u["input_tokens"])
		output = intFromAny(u["output_tokens"])
		cacheRead = intFromAny(u["cache_read_input_tokens"])
		cacheWrite = intFromAny(u["cache_creation_input_tokens"])
	}
	return
}

func buildURL(baseURL, defaultBase, path string) string {
	base := defaultBase
	if baseURL != "" {
		base = baseURL
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return defaultBase + path
	}

	basePath := strings.TrimRight(parsed.Path, "/")
	return fmt.Sprintf("%s://%s%s%s", parsed.Scheme, parsed.Host, basePath, path)
}
