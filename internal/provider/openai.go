package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	openaiDefaultBase = "https://api.openai.com"
	codexBackendBase  = "https://chatgpt.com/backend-api/codex"
	codexUserAgent    = "codex_cli_rs/0.1.0"
)

var versionedPathRe = regexp.MustCompile(`/v\d+$`)

// ForwardOpenAI sends opts to an OpenAI-compatible Chat Completions API
// (OpenAI itself, the ChatGPT-subscription backend, or any base URL an
// account configures) and returns its response.
func ForwardOpenAI(opts ForwardOptions) (*Response, error) {
	targetURL := buildOpenAIURL(openaiBase(opts), opts.Path)
	resp, err := doRaw(opts.Method, targetURL, openAIHeaders(opts), opts.Body)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	headers := lowercasedHeaders(resp.Header)
	if isEventStream(headers) {
		usage := &TokenUsage{}
		return teeIntoStreamingResponse(resp.StatusCode, headers, resp.Body, usage, extractOpenAISSETokens), nil
	}
	return bufferedResponse(resp.StatusCode, headers, resp.Body, parseOpenAIUsage)
}

func openAIHeaders(opts ForwardOptions) map[string]string {
	h := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + opts.APIKey,
	}
	if org := opts.Headers["openai-organization"]; org != "" {
		h["OpenAI-Organization"] = org
	}
	if isChatGPTSubscription(opts) {
		h["ChatGPT-Account-ID"] = opts.ExternalAccountID
		h["User-Agent"] = codexUserAgent
		h["Originator"] = "codex_cli_rs"
	}
	return h
}

// isChatGPTSubscription identifies requests routed through a ChatGPT
// consumer-subscription account rather than a plain API key: these carry an
// external account ID and no explicit base URL override.
func isChatGPTSubscription(opts ForwardOptions) bool {
	return opts.ExternalAccountID != "" && opts.BaseURL == ""
}

func openaiBase(opts ForwardOptions) string {
	switch {
	case isChatGPTSubscription(opts):
		return codexBackendBase
	case opts.BaseURL != "":
		return opts.BaseURL
	default:
		return openaiDefaultBase
	}
}

func extractOpenAISSETokens(r io.Reader, usage *TokenUsage) {
	scanSSEEvents(r, "openai", func(ev map[string]any) {
		if m, ok := ev["model"].(string); ok {
			usage.Model.Store(m)
		}
		if u, ok := ev["usage"].(map[string]any); ok {
			usage.InputTokens.Store(int64(intFromAny(u["prompt_tokens"])))
			usage.OutputTokens.Store(int64(intFromAny(u["completion_tokens"])))
		}
	})
}

func parseOpenAIUsage(body []byte) (input, output, cacheRead, cacheWrite int, model string) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return
	}
	if m, ok := parsed["model"].(string); ok {
		model = m
	}
	if u, ok := parsed["usage"].(map[string]any); ok {
		input = intFromAny(u["prompt_tokens"])
		output = intFromAny(u["completion_tokens"])
	}
	return
}

// buildOpenAIURL joins base and path, accounting for providers (Gemini's
// OpenAI-compatibility shim, any base URL that already carries a version
// segment) that need the path's own /v1 adjusted or dropped.
func buildOpenAIURL(base, path string) string {
	base = strings.TrimRight(base, "/")

	if strings.Contains(base, "generativelanguage.googleapis.com") {
		return base + "/v1beta/openai" + strings.Replace(path, "/v1/", "/", 1)
	}

	adjustedPath := path
	if versionedPathRe.MatchString(base) {
		adjustedPath = strings.Replace(path, "/v1/", "/", 1)
	}
	return base + adjustedPath
}
