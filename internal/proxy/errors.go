package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ─── Error format helpers ───────────────────────────────────────────────────

func toOpenAIError(rawBody string, status int, providerName string) string {
	msg := errorMessageFrom(rawBody, providerName, status)
	b, _ := json.Marshal(map[string]any{
		"error": map[string]any{"message": msg, "type": "server_error", "code": status},
	})
	return string(b)
}

func toAnthropicError(rawBody string, status int, providerName string) string {
	b, _ := json.Marshal(map[string]any{
		"type":  "error",
		"error": map[string]any{"type": anthropicErrorType(status), "message": errorMessageFrom(rawBody, providerName, status)},
	})
	return string(b)
}

func anthropicErrorType(status int) string {
	switch {
	case status == 401:
		return "authentication_error"
	case status == 404:
		return "not_found_error"
	case status == 429:
		return "rate_limit_error"
	case status >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}

func errorMessageFrom(rawBody string, providerName string, status int) string {
	var parsed map[string]any
	if json.Unmarshal([]byte(rawBody), &parsed) == nil {
		return extractErrorMessage(parsed, providerName, status)
	}
	return providerHTTPError(providerName, status)
}

func extractErrorMessage(parsed map[string]any, providerName string, status int) string {
	if errObj, ok := parsed["error"].(map[string]any); ok {
		if msg, ok := errObj["message"].(string); ok {
			return msg
		}
	}
	if msg, ok := parsed["message"].(string); ok {
		return msg
	}
	if detail, ok := parsed["detail"].(string); ok {
		return detail
	}
	return providerHTTPError(providerName, status)
}

func providerHTTPError(providerName string, status int) string {
	return fmt.Sprintf("Provider %s returned HTTP %d", providerName, status)
}

func writeError(w http.ResponseWriter, r *http.Request, inboundFormat string, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)

	if inboundFormat == "openai" {
		fmt.Fprintf(w, `{"error":{"message":%q,"type":%q,"code":%d}}`, message, errType, status)
	} else {
		fmt.Fprintf(w, `{"type":"error","error":{"type":%q,"message":%q}}`, errType, message)
	}
}
