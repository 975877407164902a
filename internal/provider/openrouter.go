package provider

import (
	"fmt"
	"strings"
)

const (
	openrouterDefaultBase = "https://openrouter.ai/api/v1"
	openrouterDefaultSite = "https://github.com"
)

// ForwardOpenRouter sends opts to OpenRouter, which speaks the OpenAI Chat
// Completions wire format but lives under its own base URL (/api/v1, not
// /v1) and accepts two optional attribution headers. This is a dedicated
// forwarder rather than a fallthrough to ForwardOpenAI, which would point
// every OpenRouter account at api.openai.com instead.
func ForwardOpenRouter(opts ForwardOptions) (*Response, error) {
	targetURL := buildOpenRouterURL(openrouterBase(opts), opts.Path)
	resp, err := doRaw(opts.Method, targetURL, openRouterHeaders(opts), opts.Body)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	headers := lowercasedHeaders(resp.Header)
	if isEventStream(headers) {
		usage := &TokenUsage{}
		// Usage extraction is identical to the OpenAI-compatible shape.
		return teeIntoStreamingResponse(resp.StatusCode, headers, resp.Body, usage, extractOpenAISSETokens), nil
	}
	return bufferedResponse(resp.StatusCode, headers, resp.Body, parseOpenAIUsage)
}

func openRouterHeaders(opts ForwardOptions) map[string]string {
	h := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + opts.APIKey,
		"HTTP-Referer":  openrouterDefaultSite,
	}
	if referer := opts.Headers["http-referer"]; referer != "" {
		h["HTTP-Referer"] = referer
	}
	if title := opts.Headers["x-title"]; title != "" {
		h["X-Title"] = title
	}
	return h
}

func openrouterBase(opts ForwardOptions) string {
	if opts.BaseURL != "" {
		return opts.BaseURL
	}
	return openrouterDefaultBase
}

// buildOpenRouterURL joins base (already including /api/v1) with the
// incoming Anthropic/OpenAI-style path, stripping a leading /v1 segment
// since OpenRouter's own base already carries the version.
func buildOpenRouterURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	adjustedPath := path
	if strings.HasSuffix(base, "/v1") {
		adjustedPath = strings.Replace(path, "/v1/", "/", 1)
	}
	return base + adjustedPath
}
