package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"proxygate/internal/auth"
	"proxygate/internal/convert"
	"proxygate/internal/cooldown"
	"proxygate/internal/db"
	"proxygate/internal/guardrails"
	"proxygate/internal/models"
	"proxygate/internal/provider"
	"proxygate/internal/tenant"
)

// serveStreaming writes an SSE response to the client, converting between
// Anthropic and OpenAI stream formats when the candidate provider's format
// doesn't match what the client asked for, and running the response through
// the guardrail deanonymizer as it flows through.
func (a *attempt) serveStreaming(provResp *provider.Response) {
	pc := a.pc

	if provResp.Status >= 200 && provResp.Status < 300 {
		db.RecordAccountSuccess(a.account.ID)
		cooldown.Clear(a.account.ID)
	}

	responseStream := provResp.Body
	switch {
	case pc.inboundFormat == "anthropic" && !a.targetIsAnthropic:
		responseStream = convert.ConvertSSEStream(provResp.Body, pc.originalModel)
	case pc.inboundFormat == "openai" && a.targetIsAnthropic:
		responseStream = convert.ConvertAnthropicSSEToOpenAI(provResp.Body, a.targetModel)
	}
	if pc.guardrailsActive {
		responseStream = guardrails.CreateDeanonymizeStream(responseStream)
	}

	pc.w.Header().Set("Content-Type", "text/event-stream")
	pc.w.Header().Set("Cache-Control", "no-cache")
	pc.w.Header().Set("Connection", "keep-alive")
	setProxyHeaders(pc.w, a.account.Name, tenantName(pc.tenant), a.strategyLabel())
	pc.w.WriteHeader(provResp.Status)
	streamBody(pc.w, responseStream)

	a.recordUsageAsync(provResp, true, "")
}

func streamBody(w http.ResponseWriter, body io.ReadCloser) {
	defer body.Close()
	flusher, hasFlusher := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if hasFlusher {
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}
}

// serveBuffered writes a non-streaming response, retrying once on an OAuth
// 401 with a freshly synced token, converting wire formats as needed, and
// running guardrail deanonymization over the buffered body.
func (a *attempt) serveBuffered(provResp *provider.Response) {
	pc := a.pc

	responseBodyBytes, err := io.ReadAll(provResp.Body)
	provResp.Body.Close()
	if err != nil {
		writeError(pc.w, pc.r, pc.inboundFormat, 502, "api_error", "Failed to read provider response")
		return
	}
	responseBodyStr := string(responseBodyBytes)

	if provResp.Status == 401 && a.account.AuthType == "oauth" && !a.isFailover {
		if retried, body, ok := a.retryWithRefreshedToken(); ok {
			provResp = retried
			responseBodyBytes = body
			responseBodyStr = string(body)
		}
	}

	responseBodyStr = a.convertResponseFormat(provResp.Status, responseBodyBytes, responseBodyStr)
	if pc.guardrailsActive {
		responseBodyStr = guardrails.Deanonymize(responseBodyStr)
	}
	a.updateAccountStatus(provResp.Status)

	contentType := provResp.Headers["content-type"]
	if contentType == "" {
		contentType = "application/json"
	}
	pc.w.Header().Set("Content-Type", contentType)
	setProxyHeaders(pc.w, a.account.Name, tenantName(pc.tenant), a.strategyLabel())
	pc.w.WriteHeader(provResp.Status)
	pc.w.Write([]byte(responseBodyStr))

	a.recordUsageAsync(provResp, false, responseBodyStr)
}

func (a *attempt) retryWithRefreshedToken() (*provider.Response, []byte, bool) {
	updated := auth.ForceSyncFromFile(&a.account)
	if updated == nil {
		return nil, nil, false
	}
	provResp, err := a.forward(*updated)
	if err != nil {
		return nil, nil, false
	}
	body, _ := io.ReadAll(provResp.Body)
	provResp.Body.Close()
	return provResp, body, true
}

func (a *attempt) convertResponseFormat(status int, rawBody []byte, fallback string) string {
	pc := a.pc
	if status < 200 || status >= 300 {
		switch {
		case pc.inboundFormat == "openai":
			return toOpenAIError(fallback, status, a.account.Provider)
		case !a.targetIsAnthropic:
			return toAnthropicError(fallback, status, a.account.Provider)
		default:
			return fallback
		}
	}

	switch {
	case pc.inboundFormat == "anthropic" && !a.targetIsAnthropic:
		var openaiResp map[string]any
		if json.Unmarshal(rawBody, &openaiResp) != nil {
			return fallback
		}
		b, err := json.Marshal(convert.OpenAIToAnthropic(openaiResp, pc.originalModel))
		if err != nil {
			return fallback
		}
		return string(b)

	case pc.inboundFormat == "openai" && a.targetIsAnthropic:
		var anthropicResp map[string]any
		if json.Unmarshal(rawBody, &anthropicResp) != nil {
			return fallback
		}
		b, err := json.Marshal(convert.AnthropicToOpenAIResponse(anthropicResp, a.targetModel))
		if err != nil {
			return fallback
		}
		return string(b)

	default:
		return fallback
	}
}

func (a *attempt) updateAccountStatus(status int) {
	switch {
	case status >= 200 && status < 300:
		db.RecordAccountSuccess(a.account.ID)
		cooldown.Clear(a.account.ID)
	case status == 401:
		db.UpdateAccountStatus(a.account.ID, "expired", "Authentication failed (401)")
		db.RecordAccountError(a.account.ID, "Authentication failed (401)")
	case status == 429:
		db.UpdateAccountStatus(a.account.ID, "rate_limited", "Rate limited (429)")
		db.RecordAccountError(a.account.ID, "Rate limited (429)")
	case status >= 400:
		db.RecordAccountError(a.account.ID, httpStatusMsg(status))
		db.UpdateAccountStatus(a.account.ID, "error", httpStatusMsg(status))
	}
}

// recordUsageAsync persists usage/cost and (optionally) a request log entry
// off the response goroutine. FinalUsage reads the streaming-usage atomic
// snapshot for SSE responses (populated by the provider's background tee)
// and the plain response fields otherwise, so cost and token counts are
// recorded correctly for both response shapes.
func (a *attempt) recordUsageAsync(provResp *provider.Response, isStream bool, responseBodyStr string) {
	pc := a.pc
	latencyMs := int(time.Since(pc.startTime).Milliseconds())
	tid := tenantID(pc.tenant)
	status := provResp.Status

	go func() {
		input, output, cacheRead, cacheWrite, _ := provResp.FinalUsage()
		costUSD := models.EstimateCost(a.targetModel, input, output)
		db.RecordUsage(a.account.ID, pc.route.ConfigID, string(pc.tier), pc.originalModel, a.targetModel,
			input, output, cacheRead, cacheWrite, costUSD, tid)

		if pc.getSetting("request_logging") == "true" {
			db.InsertRequestLog(pc.method, pc.path, pc.inboundFormat, a.account.ID, a.account.Name, a.account.Provider,
				pc.originalModel, a.targetModel, status, input, output, latencyMs, isStream, a.isFailover,
				truncatedError(responseBodyStr, status), tid)
		}
	}()
}

func truncatedError(responseBodyStr string, status int) string {
	if status < 400 || responseBodyStr == "" {
		return ""
	}
	if len(responseBodyStr) > 1000 {
		return responseBodyStr[:1000]
	}
	return responseBodyStr
}

func setProxyHeaders(w http.ResponseWriter, accountName, tenantName, strategyLabel string) {
	w.Header().Set("X-Proxy-Account", accountName)
	if tenantName != "" {
		w.Header().Set("X-Proxy-Tenant", tenantName)
	}
	w.Header().Set("X-Proxy-Strategy", strategyLabel)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.Header().Set("Access-Control-Expose-Headers", "x-proxy-account, x-proxy-strategy, x-proxy-tenant")
}

func tenantName(t *tenant.Tenant) string {
	if t == nil {
		return ""
	}
	return t.Name
}

func tenantID(t *tenant.Tenant) string {
	if t == nil {
		return ""
	}
	return t.ID
}
