package provider

import (
	"io"
	"sync/atomic"
)

// TokenUsage accumulates token counts for a response still being streamed.
// Fields are atomic because the SSE tee goroutine writes to them while the
// orchestrator may read them concurrently once the stream finishes.
type TokenUsage struct {
	InputTokens      atomic.Int64
	OutputTokens     atomic.Int64
	CacheReadTokens  atomic.Int64
	CacheWriteTokens atomic.Int64
	Model            atomic.Value // string
}

// Snapshot reads every counter in one pass, for recording usage once a
// stream has finished and its background parser is done writing.
func (u *TokenUsage) Snapshot() (input, output, cacheRead, cacheWrite int, model string) {
	if u == nil {
		return 0, 0, 0, 0, ""
	}
	if m, ok := u.Model.Load().(string); ok {
		model = m
	}
	return int(u.InputTokens.Load()), int(u.OutputTokens.Load()),
		int(u.CacheReadTokens.Load()), int(u.CacheWriteTokens.Load()), model
}

// Response is what a provider forwarder returns for one upstream call.
type Response struct {
	Status   int
	Headers  map[string]string
	Body     io.ReadCloser
	IsStream bool

	// For non-streaming responses these are populated directly. For
	// streaming responses they start at zero; call Usage.Snapshot() once
	// the stream is fully drained to get the real counts.
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	Model            string

	// Usage backs streaming responses, filled in asynchronously by the SSE
	// tee goroutine as events arrive.
	Usage *TokenUsage
}

// FinalUsage returns the response's token counts and model, preferring the
// live Usage snapshot for streaming responses and falling back to the
// fields set directly on non-streaming ones.
func (r *Response) FinalUsage() (input, output, cacheRead, cacheWrite int, model string) {
	if r.IsStream && r.Usage != nil {
		return r.Usage.Snapshot()
	}
	return r.InputTokens, r.OutputTokens, r.CacheReadTokens, r.CacheWriteTokens, r.Model
}

// ForwardOptions carries everything a provider forwarder needs to make one
// upstream call on behalf of the orchestrator.
type ForwardOptions struct {
	Path              string
	Method            string
	Headers           map[string]string
	Body              string
	APIKey            string
	BaseURL           string
	AuthType          string
	ExternalAccountID string
}
