package provider

import (
	"fmt"

	"proxygate/internal/db"
)

// openAICompatibleProviders lists account providers that speak the OpenAI
// Chat Completions wire format directly, besides OpenAI itself.
var openAICompatibleProviders = map[string]bool{
	"openai_sub": true, "glm": true, "cerebras": true,
	"deepseek": true, "gemini": true, "minimax": true,
}

// Forward routes a request to whichever provider forwarder matches
// account's configured provider.
func Forward(account db.Account, opts ForwardOptions) (*Response, error) {
	if isChatGPTCodexSubscription(account) {
		return ForwardOpenAI(opts)
	}

	switch {
	case account.Provider == "anthropic":
		return ForwardAnthropic(opts)
	case account.Provider == "openai" || openAICompatibleProviders[account.Provider]:
		return ForwardOpenAI(opts)
	case account.Provider == "openrouter":
		return ForwardOpenRouter(opts)
	case account.BaseURL != "":
		return ForwardOpenAI(opts) // custom provider, treated as OpenAI-compatible
	default:
		return nil, fmt.Errorf("unknown provider %q with no base_url configured", account.Provider)
	}
}

// isChatGPTCodexSubscription identifies an OpenAI account authenticated via
// a ChatGPT consumer subscription (OAuth + external account ID) rather than
// a plain API key, which needs the Codex backend headers ForwardOpenAI adds.
func isChatGPTCodexSubscription(account db.Account) bool {
	return (account.Provider == "openai" || account.Provider == "openai_sub") &&
		account.ExternalAccountID != "" && account.AuthType == "oauth"
}
