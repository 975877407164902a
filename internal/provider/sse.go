package provider

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"proxygate/internal/obs"
)

const sseScanBufferSize = 256 * 1024

// lowercasedHeaders copies an http.Header into a plain map keyed by
// lowercase header name, the shape every forwarder's Response carries.
func lowercasedHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

// isEventStream reports whether a response's content-type marks it as SSE.
func isEventStream(headers map[string]string) bool {
	return strings.Contains(headers["content-type"], "text/event-stream")
}

// bufferedResponse reads body fully and runs extractUsage over it, for the
// non-streaming branch every forwarder shares.
func bufferedResponse(status int, headers map[string]string, body io.ReadCloser, extractUsage func([]byte) (input, output, cacheRead, cacheWrite int, model string)) (*Response, error) {
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	input, output, cacheRead, cacheWrite, model := extractUsage(raw)
	return &Response{
		Status:           status,
		Headers:          headers,
		Body:             io.NopCloser(strings.NewReader(string(raw))),
		InputTokens:      input,
		OutputTokens:     output,
		CacheReadTokens:  cacheRead,
		CacheWriteTokens: cacheWrite,
		Model:            model,
		IsStream:         false,
	}, nil
}

// scanSSEEvents reads r line by line, parses each "data: {...}" line as
// JSON, and invokes handle with the decoded event. "[DONE]" sentinels and
// non-data lines are skipped silently; malformed JSON is skipped too, since
// a provider occasionally interleaves comment/keepalive lines.
func scanSSEEvents(r io.Reader, who string, handle func(event map[string]any)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, sseScanBufferSize), sseScanBufferSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		handle(event)
	}

	if err := scanner.Err(); err != nil {
		obs.L().Warn("SSE parse error", zap.String("provider", who), zap.Error(err))
	}
}

// intFromAny coerces a decoded JSON number (always float64) or a plain int
// to int, defaulting to 0 for anything else (missing field, null, ...).
func intFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

// teeIntoStreamingResponse starts a background goroutine that tees body
// through an io.Pipe while feeding the tee to parse, and returns a
// *Response wired up to read from the pipe side. Used by every forwarder's
// SSE branch so the usage-extraction plumbing isn't duplicated per provider.
func teeIntoStreamingResponse(status int, headers map[string]string, body io.ReadCloser, usage *TokenUsage, parse func(io.Reader, *TokenUsage)) *Response {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		tee := io.TeeReader(body, pw)
		parse(tee, usage)
		body.Close()
	}()

	return &Response{
		Status:   status,
		Headers:  headers,
		Body:     pr,
		IsStream: true,
		Usage:    usage,
	}
}
