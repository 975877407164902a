package convert

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// deepSeekReasonerRe matches DeepSeek reasoner model names, which require a
// reasoning_content field alongside tool calls in assistant messages.
var deepSeekReasonerRe = regexp.MustCompile(`(?i)deepseek-reasoner|deepseek-r1`)

// dataURIRe parses a base64 data URI into media type and data components.
var dataURIRe = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

// AnthropicToOpenAI converts an Anthropic Messages API request body to an
// OpenAI Chat Completions API request body.
func AnthropicToOpenAI(body map[string]any, targetModel string) map[string]any {
	reasoner := deepSeekReasonerRe.MatchString(targetModel)

	messages := systemMessages(body["system"])
	if msgs, ok := getSlice(body, "messages"); ok {
		for _, raw := range msgs {
			messages = append(messages, convertAnthropicMessage(toMap(raw), reasoner))
		}
	}

	result := map[string]any{
		"model":    targetModel,
		"messages": messages,
	}
	copyFields(body, result, "max_tokens", "temperature", "top_p", "stream")
	if v, ok := body["stop_sequences"]; ok {
		result["stop"] = v
	}
	if stream, ok := getBool(body, "stream"); ok && stream {
		result["stream_options"] = map[string]any{"include_usage": true}
	}

	if tools, ok := getSlice(body, "tools"); ok && len(tools) > 0 {
		result["tools"] = anthropicToolsToOpenAI(tools)
	}
	if tc, ok := getMap(body, "tool_choice"); ok {
		if v, ok := anthropicToolChoiceToOpenAI(tc); ok {
			result["tool_choice"] = v
		}
	}

	// Anthropic-only fields (thinking, metadata, context_management, ...) have
	// no OpenAI equivalent and are dropped rather than forwarded verbatim.
	return result
}

// systemMessages normalizes Anthropic's body.system (string or block array)
// into the leading "system" message OpenAI expects.
func systemMessages(sys any) []any {
	switch s := sys.(type) {
	case string:
		return []any{map[string]any{"role": "system", "content": s}}
	case []any:
		parts := make([]string, 0, len(s))
		for _, block := range s {
			switch b := block.(type) {
			case string:
				parts = append(parts, b)
			case map[string]any:
				parts = append(parts, getStr(b, "text"))
			default:
				parts = append(parts, "")
			}
		}
		return []any{map[string]any{"role": "system", "content": strings.Join(parts, "\n")}}
	default:
		return []any{}
	}
}

func copyFields(src, dst map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := src[k]; ok {
			dst[k] = v
		}
	}
}

func anthropicToolsToOpenAI(tools []any) []any {
	out := make([]any, 0, len(tools))
	for _, raw := range tools {
		tool := toMap(raw)
		schema := tool["input_schema"]
		if schema == nil {
			schema = map[string]any{}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        getStr(tool, "name"),
				"description": getStr(tool, "description"),
				"parameters":  schema,
			},
		})
	}
	return out
}

func anthropicToolChoiceToOpenAI(tc map[string]any) (any, bool) {
	switch getStr(tc, "type") {
	case "auto":
		return "auto", true
	case "any":
		return "required", true
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": getStr(tc, "name")},
		}, true
	default:
		return nil, false
	}
}

// convertAnthropicMessage converts a single Anthropic message to OpenAI format.
func convertAnthropicMessage(msg map[string]any, reasoner bool) map[string]any {
	role := getStr(msg, "role")

	if content, ok := msg["content"].(string); ok {
		return map[string]any{"role": role, "content": content}
	}

	blocks, ok := msg["content"].([]any)
	if !ok {
		content := msg["content"]
		if content == nil {
			content = ""
		}
		return map[string]any{"role": role, "content": content}
	}

	var parts []any
	var toolCalls []any
	for _, raw := range blocks {
		block := toMap(raw)
		switch getStr(block, "type") {
		case "text":
			parts = append(parts, map[string]any{"type": "text", "text": getStr(block, "text")})
		case "image":
			parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": imageURLFromSource(toMap(block["source"]))}})
		case "tool_use":
			toolCalls = append(toolCalls, anthropicToolUseToCall(block))
		case "tool_result":
			// A tool_result block always stands alone as its own tool message.
			return map[string]any{
				"role":         "tool",
				"tool_call_id": getStr(block, "tool_use_id"),
				"content":      toolResultContent(block["content"]),
			}
		case "thinking":
			// No OpenAI equivalent; dropped.
		default:
			if text := getStr(block, "text"); text != "" {
				parts = append(parts, map[string]any{"type": "text", "text": text})
			}
		}
	}

	return assembleOpenAIMessage(role, parts, toolCalls, reasoner)
}

func imageURLFromSource(source map[string]any) string {
	if getStr(source, "type") == "base64" {
		return fmt.Sprintf("data:%s;base64,%s", getStr(source, "media_type"), getStr(source, "data"))
	}
	return getStr(source, "url")
}

func anthropicToolUseToCall(block map[string]any) map[string]any {
	input := block["input"]
	if input == nil {
		input = map[string]any{}
	}
	return map[string]any{
		"id":   getStr(block, "id"),
		"type": "function",
		"function": map[string]any{
			"name":      getStr(block, "name"),
			"arguments": toJSONString(input),
		},
	}
}

func toolResultContent(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		parts := make([]string, 0, len(c))
		for _, item := range c {
			im := toMap(item)
			if getStr(im, "type") == "text" {
				parts = append(parts, getStr(im, "text"))
			} else {
				parts = append(parts, toJSONString(item))
			}
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		return toJSONString(c)
	}
}

func assembleOpenAIMessage(role string, parts, toolCalls []any, reasoner bool) map[string]any {
	result := map[string]any{"role": role}

	switch {
	case len(toolCalls) > 0:
		if len(parts) > 0 {
			texts := make([]string, 0, len(parts))
			for _, p := range parts {
				texts = append(texts, getStr(toMap(p), "text"))
			}
			result["content"] = strings.Join(texts, "")
		} else {
			result["content"] = nil
		}
		result["tool_calls"] = toolCalls
		if reasoner && role == "assistant" {
			result["reasoning_content"] = ""
		}
	case len(parts) == 1 && getStr(toMap(parts[0]), "type") == "text":
		result["content"] = getStr(toMap(parts[0]), "text")
	case len(parts) == 0:
		result["content"] = ""
	default:
		result["content"] = parts
	}
	return result
}

// OpenAIToAnthropicRequest converts an OpenAI Chat Completions request body
// to an Anthropic Messages API request body.
func OpenAIToAnthropicRequest(body map[string]any) map[string]any {
	result := map[string]any{}
	var messages []any

	if msgs, ok := getSlice(body, "messages"); ok {
		for _, raw := range msgs {
			msg := toMap(raw)
			switch getStr(msg, "role") {
			case "system":
				result["system"] = appendSystemText(result["system"], msg["content"])
			case "tool":
				messages = append(messages, map[string]any{
					"role": "user",
					"content": []any{
						map[string]any{
							"type":        "tool_result",
							"tool_use_id": getStr(msg, "tool_call_id"),
							"content":     msg["content"],
						},
					},
				})
			default:
				messages = append(messages, convertOpenAIMessage(msg))
			}
		}
	}
	result["messages"] = messages

	copyFields(body, result, "max_tokens", "temperature", "top_p", "stream")
	if v, ok := body["max_completion_tokens"]; ok {
		result["max_tokens"] = v
	}
	if stopVal, ok := body["stop"]; ok {
		if stopSlice, ok := stopVal.([]any); ok {
			result["stop_sequences"] = stopSlice
		} else {
			result["stop_sequences"] = []any{stopVal}
		}
	}

	if tools, ok := getSlice(body, "tools"); ok && len(tools) > 0 {
		result["tools"] = openAIToolsToAnthropic(tools)
	}
	if tc, ok := body["tool_choice"]; ok {
		if v, ok := openAIToolChoiceToAnthropic(tc); ok {
			result["tool_choice"] = v
		}
	}

	if result["max_tokens"] == nil {
		result["max_tokens"] = float64(4096) // Anthropic requires max_tokens
	}
	return result
}

func appendSystemText(existing any, content any) []any {
	sysSlice, ok := existing.([]any)
	if !ok {
		if s, ok := existing.(string); ok {
			sysSlice = []any{map[string]any{"type": "text", "text": s}}
		} else {
			sysSlice = []any{}
		}
	}
	text, ok := content.(string)
	if !ok {
		text = toJSONString(content)
	}
	return append(sysSlice, map[string]any{"type": "text", "text": text})
}

func convertOpenAIMessage(msg map[string]any) map[string]any {
	converted := map[string]any{"role": getStr(msg, "role")}

	switch {
	case hasToolCalls(msg):
		converted["content"] = openAIToolCallsToAnthropicBlocks(msg)
	case isMultiPart(msg):
		converted["content"] = openAIPartsToAnthropicBlocks(msg["content"].([]any))
	default:
		content := msg["content"]
		if content == nil {
			content = ""
		}
		converted["content"] = content
	}
	return converted
}

func hasToolCalls(msg map[string]any) bool {
	tcs, ok := getSlice(msg, "tool_calls")
	return ok && len(tcs) > 0
}

func isMultiPart(msg map[string]any) bool {
	_, ok := msg["content"].([]any)
	return ok
}

func openAIToolCallsToAnthropicBlocks(msg map[string]any) []any {
	var blocks []any
	if content, ok := msg["content"].(string); ok && content != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": content})
	}

	tcs, _ := getSlice(msg, "tool_calls")
	for _, raw := range tcs {
		tc := toMap(raw)
		fn := toMap(tc["function"])

		id := getStr(tc, "id")
		if id == "" {
			id = fmt.Sprintf("toolu_%d_%s", nowMillis(), generateID())
		}
		name := getStr(fn, "name")
		if name == "" {
			name = getStr(tc, "name")
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    id,
			"name":  name,
			"input": toolCallInput(fn),
		})
	}
	return blocks
}

func toolCallInput(fn map[string]any) any {
	if argsStr := getStr(fn, "arguments"); argsStr != "" {
		var input any
		if err := json.Unmarshal([]byte(argsStr), &input); err != nil {
			return map[string]any{}
		}
		return input
	}
	if args := fn["arguments"]; args != nil {
		return args
	}
	return map[string]any{}
}

func openAIPartsToAnthropicBlocks(parts []any) []any {
	out := make([]any, 0, len(parts))
	for _, raw := range parts {
		part := toMap(raw)
		switch getStr(part, "type") {
		case "text":
			out = append(out, map[string]any{"type": "text", "text": getStr(part, "text")})
		case "image_url":
			out = append(out, imagePartToAnthropicBlock(toMap(part["image_url"])))
		default:
			out = append(out, map[string]any{"type": "text", "text": toJSONString(part)})
		}
	}
	return out
}

func imagePartToAnthropicBlock(imageURL map[string]any) map[string]any {
	url := getStr(imageURL, "url")
	if strings.HasPrefix(url, "data:") {
		if m := dataURIRe.FindStringSubmatch(url); m != nil {
			return map[string]any{
				"type":   "image",
				"source": map[string]any{"type": "base64", "media_type": m[1], "data": m[2]},
			}
		}
	}
	return map[string]any{"type": "image", "source": map[string]any{"type": "url", "url": url}}
}

func openAIToolsToAnthropic(tools []any) []any {
	out := make([]any, 0, len(tools))
	for _, raw := range tools {
		tool := toMap(raw)
		fn := toMap(tool["function"])

		name := getStr(fn, "name")
		if name == "" {
			name = getStr(tool, "name")
		}
		desc := getStr(fn, "description")
		if desc == "" {
			desc = getStr(tool, "description")
		}
		params := fn["parameters"]
		if params == nil {
			params = tool["parameters"]
		}
		if params == nil {
			params = map[string]any{}
		}
		out = append(out, map[string]any{"name": name, "description": desc, "input_schema": params})
	}
	return out
}

func openAIToolChoiceToAnthropic(tc any) (any, bool) {
	switch v := tc.(type) {
	case string:
		switch v {
		case "auto":
			return map[string]any{"type": "auto"}, true
		case "required":
			return map[string]any{"type": "any"}, true
		default:
			return nil, false // "none" has no Anthropic tool_choice
		}
	case map[string]any:
		fn := toMap(v["function"])
		if name := getStr(fn, "name"); name != "" {
			return map[string]any{"type": "tool", "name": name}, true
		}
		return nil, false
	default:
		return nil, false
	}
}
