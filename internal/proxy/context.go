package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"proxygate/internal/convert"
	"proxygate/internal/db"
	"proxygate/internal/guardrails"
	"proxygate/internal/limits"
	"proxygate/internal/models"
	"proxygate/internal/ratelimit"
	"proxygate/internal/tenant"
)

// proxyContext carries everything handleProxy derives from the inbound
// request before a route is resolved: authentication result, the detected
// wire format, the parsed (and guardrail-anonymized) body in both its
// original and Anthropic-normalized shapes, and the per-tenant settings
// lookup the rest of the request uses.
type proxyContext struct {
	w      http.ResponseWriter
	r      *http.Request
	path   string
	method string

	startTime time.Time
	tenant    *tenant.Tenant
	getSetting func(string) string

	inboundFormat string
	bodyJSON      map[string]any
	anthropicBody map[string]any
	originalModel string

	guardrailsActive bool
	tier             models.Tier
	reqHeaders       map[string]string

	autoSwitchOnError     bool
	autoSwitchOnRateLimit bool
	strategy              string
}

// buildProxyContext runs the non-routing part of request handling: tenant
// auth, per-tenant rate limiting, body parsing, guardrail anonymization and
// max_tokens clamping. It writes an error response and returns ok=false if
// the request should stop here.
func buildProxyContext(w http.ResponseWriter, r *http.Request) (*proxyContext, bool) {
	pc := &proxyContext{
		w: w, r: r,
		startTime: time.Now(),
		path:      r.URL.Path,
		method:    r.Method,
	}

	if !pc.authenticate() {
		return nil, false
	}
	if !pc.enforceTenantRateLimit() {
		return nil, false
	}

	pc.detectInboundFormat()
	pc.resolveSettingLookup()

	if !pc.readAndParseBody() {
		return nil, false
	}
	pc.buildAnthropicBody()
	pc.applyGuardrails()
	pc.clampMaxTokens()
	pc.tier = models.DetectTier(pc.originalModel)
	pc.captureRequestHeaders()

	return pc, true
}

func (pc *proxyContext) authenticate() bool {
	apiKey := extractAPIKey(pc.r)

	globalKey := envOr("PROXY_API_KEY", "")
	switch {
	case globalKey != "" && apiKey == globalKey:
		// Global key matched; no tenant context, preserves pre-tenant behavior.
	case tenant.HasTenants():
		pc.tenant = tenant.Resolve(apiKey)
		if pc.tenant == nil {
			writeError(pc.w, pc.r, "anthropic", 401, "authentication_error", "Invalid API key")
			return false
		}
	case globalKey != "":
		writeError(pc.w, pc.r, "anthropic", 401, "authentication_error", "Invalid or missing proxy API key")
		return false
	}
	// else: no global key and no tenants configured -- open proxy.
	return true
}

func (pc *proxyContext) enforceTenantRateLimit() bool {
	if pc.tenant == nil || pc.tenant.RateLimit <= 0 {
		return true
	}
	if ratelimit.CheckAndRecord("tenant:"+pc.tenant.ID, pc.tenant.RateLimit) {
		writeError(pc.w, pc.r, "anthropic", 429, "rate_limit_error", "Rate limit exceeded")
		return false
	}
	return true
}

func (pc *proxyContext) detectInboundFormat() {
	pc.inboundFormat = "anthropic"
	if strings.Contains(pc.path, "/chat/completions") {
		pc.inboundFormat = "openai"
	}
}

func (pc *proxyContext) resolveSettingLookup() {
	if pc.tenant == nil {
		pc.getSetting = db.GetSetting
		return
	}
	t := pc.tenant
	pc.getSetting = func(key string) string { return tenant.GetSetting(t, key) }
}

func (pc *proxyContext) readAndParseBody() bool {
	bodyBytes, err := io.ReadAll(pc.r.Body)
	pc.r.Body.Close()
	if err != nil {
		writeError(pc.w, pc.r, pc.inboundFormat, 400, "invalid_request_error", "Failed to read request body")
		return false
	}

	pc.originalModel = "claude-sonnet-4-20250514"
	if len(bodyBytes) == 0 {
		return true
	}

	if err := json.Unmarshal(bodyBytes, &pc.bodyJSON); err != nil {
		writeError(pc.w, pc.r, pc.inboundFormat, 400, "invalid_request_error", "Invalid JSON in request body")
		return false
	}
	if m, ok := pc.bodyJSON["model"].(string); ok {
		pc.originalModel = m
	}
	return true
}

// buildAnthropicBody normalizes the inbound request into Anthropic's wire
// shape for routing and guardrail purposes, regardless of which format the
// client actually sent.
func (pc *proxyContext) buildAnthropicBody() {
	pc.anthropicBody = pc.bodyJSON
	if pc.inboundFormat != "openai" || len(pc.bodyJSON) == 0 {
		return
	}

	converted := convert.OpenAIToAnthropicRequest(pc.bodyJSON)
	if converted == nil {
		return
	}
	pc.anthropicBody = converted
	if m, ok := pc.bodyJSON["model"].(string); ok {
		pc.anthropicBody["model"] = m
	}
}

func (pc *proxyContext) applyGuardrails() {
	pc.guardrailsActive = guardrails.IsGuardrailsEnabledWith(pc.getSetting)
	if pc.guardrailsActive && len(pc.bodyJSON) > 0 {
		pc.anthropicBody = guardrails.RunGuardrailsOnRequestBody(pc.anthropicBody)
	}
}

func (pc *proxyContext) clampMaxTokens() {
	model, ok := pc.anthropicBody["model"].(string)
	if !ok {
		return
	}
	for _, field := range []string{"max_tokens", "max_completion_tokens"} {
		if v, ok := pc.anthropicBody[field].(float64); ok {
			iv := int(v)
			if clamped := limits.ClampMaxTokens(&iv, model); clamped != nil {
				pc.anthropicBody[field] = float64(*clamped)
			}
		}
	}
}

func (pc *proxyContext) captureRequestHeaders() {
	pc.reqHeaders = make(map[string]string, len(pc.r.Header))
	for k := range pc.r.Header {
		pc.reqHeaders[strings.ToLower(k)] = pc.r.Header.Get(k)
	}
}
