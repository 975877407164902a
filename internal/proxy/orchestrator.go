package proxy

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"proxygate/internal/auth"
	"proxygate/internal/convert"
	"proxygate/internal/cooldown"
	"proxygate/internal/db"
	"proxygate/internal/obs"
	"proxygate/internal/provider"
	"proxygate/internal/ratelimit"
	"proxygate/internal/routing"
)

func handleProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.WriteHeader(204)
		return
	}

	pc, ok := buildProxyContext(w, r)
	if !ok {
		return
	}

	route, err := routing.ResolveForTenant(pc.originalModel, pc.tenant)
	if err != nil {
		log.Printf("[proxy] Route resolution error: %v", err)
		writeError(w, r, pc.inboundFormat, 503, "overloaded_error", "Route resolution failed")
		return
	}
	if route == nil {
		writeError(w, r, pc.inboundFormat, 503, "overloaded_error",
			"No available accounts to handle this request. Configure accounts and an active routing config.")
		return
	}
	pc.strategy = "config"
	if route.ConfigID == "" {
		pc.strategy = "direct"
	}
	obs.RouteSelections.WithLabelValues(pc.strategy).Inc()
	pc.autoSwitchOnError = pc.getSetting("auto_switch_on_error") != "false"
	pc.autoSwitchOnRateLimit = pc.getSetting("auto_switch_on_rate_limit") != "false"

	candidates := make([]routing.Candidate, 0, 1+len(route.Fallbacks))
	candidates = append(candidates, routing.Candidate{Account: route.Account, TargetModel: route.TargetModel})
	candidates = append(candidates, route.Fallbacks...)
	candidates = routing.SortByCooldown(candidates)

	pc.serveCandidates(route, candidates)
}

// serveCandidates tries each candidate account in order (primary, then
// fallbacks) until one serves the request, falls through every candidate
// without success, or a non-recoverable error is written directly.
func (pc *proxyContext) serveCandidates(route *routing.ResolvedRoute, candidates []routing.Candidate) {
	for i, cand := range candidates {
		a := &attempt{
			pc:                pc,
			route:             route,
			account:           cand.Account,
			targetModel:       cand.TargetModel,
			index:             i,
			total:             len(candidates),
			isFailover:        i > 0,
			isLast:            i == len(candidates)-1,
			targetIsAnthropic: cand.Account.Provider == "anthropic",
		}
		if a.targetModel == "" {
			a.targetModel = pc.originalModel
		}

		switch a.run() {
		case outcomeServed:
			obs.ProxyRequests.WithLabelValues("success").Inc()
			return
		case outcomeFatal:
			obs.ProxyRequests.WithLabelValues("upstream_exhausted").Inc()
			return
		case outcomeFailover:
			continue
		}
	}
	obs.ProxyRequests.WithLabelValues("upstream_exhausted").Inc()
	writeError(pc.w, pc.r, pc.inboundFormat, 502, "api_error", "No accounts available after exhausting all candidates")
}

type candidateOutcome int

const (
	outcomeServed candidateOutcome = iota
	outcomeFailover
	outcomeFatal
)

// attempt holds the state of one candidate-account try within the failover
// loop: which account, which converted body to forward, and whether this is
// the last candidate (so errors must be surfaced instead of triggering
// another failover).
type attempt struct {
	pc    *proxyContext
	route *routing.ResolvedRoute

	account           db.Account
	targetModel       string
	index             int
	total             int
	isFailover        bool
	isLast            bool
	targetIsAnthropic bool

	forwardPath string
	forwardBody string
}

func (a *attempt) run() candidateOutcome {
	pc := a.pc

	if !a.isLast && cooldown.IsOnCooldown(a.account.ID) {
		log.Printf("[proxy] Skipping %q (on cooldown), %d candidates left", a.account.Name, a.remaining())
		return outcomeFailover
	}
	if ratelimit.CheckAndRecord(a.account.ID, a.account.RateLimit) {
		if !a.isLast {
			log.Printf("[proxy] Skipping %q (rate limited), %d candidates left", a.account.Name, a.remaining())
			return outcomeFailover
		}
		writeError(pc.w, pc.r, pc.inboundFormat, 429, "rate_limit_error",
			fmt.Sprintf("Rate limit exceeded for account %q (%d req/min)", a.account.Name, a.account.RateLimit))
		return outcomeFatal
	}

	a.forwardPath, a.forwardBody = a.buildForwardRequest()
	a.logAttempt()

	if a.account.AuthType == "oauth" {
		if err := auth.EnsureValidToken(&a.account); err != nil {
			log.Printf("[proxy] Token refresh failed for %q: %v", a.account.Name, err)
		}
	}

	provResp, err := a.forward(a.account)
	if err != nil {
		errMsg := err.Error()
		obs.UpstreamAttempts.WithLabelValues(a.account.Provider, "transport_error").Inc()
		log.Printf("[proxy] Error forwarding to %q: %s", a.account.Name, errMsg)
		db.RecordAccountError(a.account.ID, errMsg)
		db.UpdateAccountStatus(a.account.ID, "error", errMsg)
		cooldown.Set(a.account.ID, "connection_error", 0)

		if pc.autoSwitchOnError && !a.isLast {
			log.Printf("[proxy] Attempting failover (%d accounts left)...", a.remaining())
			return outcomeFailover
		}
		writeError(pc.w, pc.r, pc.inboundFormat, 502, "api_error",
			fmt.Sprintf("All provider accounts failed. Last error: %s", errMsg))
		return outcomeFatal
	}
	obs.UpstreamAttempts.WithLabelValues(a.account.Provider, upstreamResultLabel(provResp.Status)).Inc()

	if a.handleRetryableStatus(provResp) {
		return outcomeFailover
	}

	if provResp.IsStream {
		a.serveStreaming(provResp)
	} else {
		a.serveBuffered(provResp)
	}
	return outcomeServed
}

func (a *attempt) remaining() int {
	return a.total - a.index - 1
}

func (a *attempt) forward(account db.Account) (*provider.Response, error) {
	return provider.Forward(account, provider.ForwardOptions{
		Path:              a.forwardPath,
		Method:            a.pc.method,
		Headers:           a.pc.reqHeaders,
		Body:              a.forwardBody,
		APIKey:            account.APIKey,
		BaseURL:           account.BaseURL,
		AuthType:          account.AuthType,
		ExternalAccountID: account.ExternalAccountID,
	})
}

// handleRetryableStatus records account-health state for a 429 or 5xx
// response and reports whether the caller should fail over to the next
// candidate instead of returning this response to the client.
func (a *attempt) handleRetryableStatus(provResp *provider.Response) bool {
	pc := a.pc
	switch {
	case provResp.Status == 429:
		db.UpdateAccountStatus(a.account.ID, "rate_limited", "Rate limited (429)")
		db.RecordAccountError(a.account.ID, "Rate limited (429)")
		retryAfter := cooldown.ParseRetryAfter(provResp.Headers["retry-after"])
		cooldown.Set(a.account.ID, "rate_limit", retryAfter)
		if pc.autoSwitchOnRateLimit && !a.isLast {
			log.Printf("[proxy] Got 429 from %q, trying failover...", a.account.Name)
			provResp.Body.Close()
			return true
		}
	case provResp.Status >= 500:
		db.RecordAccountError(a.account.ID, fmt.Sprintf("Server error (%d)", provResp.Status))
		cooldown.Set(a.account.ID, "server_error", 0)
		if pc.autoSwitchOnError && !a.isLast {
			log.Printf("[proxy] Got %d from %q, trying failover...", provResp.Status, a.account.Name)
			provResp.Body.Close()
			return true
		}
	}
	return false
}

func (a *attempt) logAttempt() {
	action := "Routing"
	if a.isFailover {
		action = "Failover"
	}
	log.Printf("[proxy] %s [%s] to %q (%s/%s) model=%s",
		action, a.pc.inboundFormat, a.account.Name, a.account.Provider, a.account.AuthType, a.targetModel)
}

func (a *attempt) strategyLabel() string {
	if a.isFailover {
		return a.pc.strategy + "+failover"
	}
	return a.pc.strategy
}

// buildForwardRequest decides the outbound wire format and path for this
// candidate: a same-format passthrough, or a conversion through
// internal/convert when the client's format doesn't match the candidate
// provider's.
func (a *attempt) buildForwardRequest() (path, body string) {
	pc := a.pc
	switch {
	case pc.inboundFormat == "openai" && !a.targetIsAnthropic:
		forwardJSON := deepCopy(pc.bodyJSON)
		forwardJSON["model"] = a.targetModel
		return "/v1/chat/completions", marshalOrEmpty(forwardJSON)

	case pc.inboundFormat == "openai" && a.targetIsAnthropic:
		forwardJSON := deepCopy(pc.anthropicBody)
		forwardJSON["model"] = a.targetModel
		return "/v1/messages", marshalOrEmpty(forwardJSON)

	case pc.inboundFormat == "anthropic" && !a.targetIsAnthropic:
		openaiBody := convert.AnthropicToOpenAI(pc.anthropicBody, a.targetModel)
		return "/v1/chat/completions", marshalOrEmpty(openaiBody)

	default:
		forwardJSON := deepCopy(pc.anthropicBody)
		forwardJSON["model"] = a.targetModel
		path := "/v1/messages"
		if strings.HasPrefix(pc.path, "/v1/messages") {
			path = pc.path
		}
		return path, marshalOrEmpty(forwardJSON)
	}
}

func upstreamResultLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "success"
	case status == 429:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}

func marshalOrEmpty(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
