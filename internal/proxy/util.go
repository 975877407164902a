package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Handler returns the HTTP handler for the proxy.
func Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("/v1/", handleProxy)

	return withCORS(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","timestamp":"%s","version":"2.0.0-go"}`, time.Now().UTC().Format(time.RFC3339))
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"object":"list","data":[
		{"id":"claude-sonnet-4-20250514","object":"model","created":1700000000,"owned_by":"anthropic"},
		{"id":"claude-opus-4-20250514","object":"model","created":1700000000,"owned_by":"anthropic"},
		{"id":"claude-haiku-4-20250514","object":"model","created":1700000000,"owned_by":"anthropic"}
	]}`))
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return bearer
	}
	return ""
}

// validateAPIKey checks a request's credentials against the global proxy
// key, for callers (e.g. the admin surface) that sit outside tenant auth.
func validateAPIKey(r *http.Request) bool {
	proxyKey := envOr("PROXY_API_KEY", "")
	if proxyKey == "" {
		return true
	}
	return extractAPIKey(r) == proxyKey
}

func deepCopy(m map[string]any) map[string]any {
	b, err := json.Marshal(m)
	if err != nil {
		return map[string]any{}
	}
	var result map[string]any
	json.Unmarshal(b, &result)
	return result
}

func httpStatusMsg(status int) string {
	return fmt.Sprintf("HTTP %d", status)
}
