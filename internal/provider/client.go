package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// httpClient is the shared outbound HTTP client for every provider forwarder.
// One resty.Client (rather than one per call) reuses connections across
// anthropic.go, openai.go and openrouter.go.
var httpClient = resty.New().SetTimeout(5 * time.Minute)

// outboundLimiter caps the aggregate outbound request rate across every
// provider and account. This is independent of the per-account sliding-window
// limiter in internal/ratelimit, which tracks usage budgets, not raw request
// rate, and must stay process-local rather than move behind this guard.
var outboundLimiter = rate.NewLimiter(rate.Limit(50), 100)

// waitForOutboundSlot blocks until the process-wide outbound rate guard
// admits the next request.
func waitForOutboundSlot() {
	_ = outboundLimiter.Wait(context.Background())
}

// doRaw issues method/targetURL with the given headers and body, returning
// the raw *http.Response so SSE bodies can be piped without resty buffering
// them into memory first.
func doRaw(method, targetURL string, headers map[string]string, body string) (*http.Response, error) {
	waitForOutboundSlot()

	req := httpClient.R().SetDoNotParseResponse(true).SetBody(body)
	for k, v := range headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Execute(strings.ToUpper(method), targetURL)
	if err != nil {
		return nil, err
	}
	return resp.RawResponse, nil
}
