package convert

import (
	"encoding/json"
	"fmt"
	"strings"
)

var finishReasonToStop = map[string]string{
	"stop":       "end_turn",
	"length":     "max_tokens",
	"tool_calls": "tool_use",
}

var stopReasonToFinish = map[string]string{
	"end_turn":   "stop",
	"max_tokens": "length",
	"tool_use":   "tool_calls",
}

// OpenAIToAnthropic converts an OpenAI Chat Completions response to an
// Anthropic Messages API response.
func OpenAIToAnthropic(response map[string]any, originalModel string) map[string]any {
	choices, _ := getSlice(response, "choices")
	if len(choices) == 0 {
		return map[string]any{
			"id": responseID(response), "type": "message", "role": "assistant",
			"content": []any{}, "model": originalModel,
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": float64(0), "output_tokens": float64(0)},
		}
	}

	choice := toMap(choices[0])
	message := toMap(choice["message"])

	content := openAITextBlock(message)
	if tcs, ok := getSlice(message, "tool_calls"); ok {
		for _, raw := range tcs {
			content = append(content, openAIToolCallToBlock(toMap(raw)))
		}
	}

	usage := toMap(response["usage"])
	promptTokens, _ := getFloat(usage, "prompt_tokens")
	completionTokens, _ := getFloat(usage, "completion_tokens")

	return map[string]any{
		"id": responseID(response), "type": "message", "role": "assistant",
		"content": content, "model": originalModel,
		"stop_reason": stopReasonFor(getStr(choice, "finish_reason")), "stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":                promptTokens,
			"output_tokens":               completionTokens,
			"cache_creation_input_tokens": float64(0),
			"cache_read_input_tokens":     float64(0),
		},
	}
}

func responseID(response map[string]any) string {
	if id := getStr(response, "id"); id != "" {
		return id
	}
	return fmt.Sprintf("msg_%d", nowMillis())
}

func stopReasonFor(finishReason string) string {
	if r, ok := finishReasonToStop[finishReason]; ok {
		return r
	}
	return "end_turn"
}

func openAITextBlock(message map[string]any) []any {
	if s, ok := message["content"].(string); ok && s != "" {
		return []any{map[string]any{"type": "text", "text": s}}
	}
	return nil
}

func openAIToolCallToBlock(tc map[string]any) map[string]any {
	fn := toMap(tc["function"])
	argsStr := getStr(fn, "arguments")
	if argsStr == "" {
		argsStr = "{}"
	}

	var input any
	if err := json.Unmarshal([]byte(argsStr), &input); err != nil {
		input = map[string]any{"_raw": argsStr}
	}

	id := getStr(tc, "id")
	if id == "" {
		id = fmt.Sprintf("toolu_%d_%s", nowMillis(), generateID())
	}
	return map[string]any{"type": "tool_use", "id": id, "name": getStr(fn, "name"), "input": input}
}

// AnthropicToOpenAIResponse converts an Anthropic Messages API response to an
// OpenAI Chat Completions response.
func AnthropicToOpenAIResponse(body map[string]any, model string) map[string]any {
	var texts []string
	var toolCalls []any
	if blocks, ok := getSlice(body, "content"); ok {
		for _, raw := range blocks {
			block := toMap(raw)
			switch getStr(block, "type") {
			case "text":
				texts = append(texts, getStr(block, "text"))
			case "tool_use":
				toolCalls = append(toolCalls, anthropicBlockToOpenAIToolCall(block))
			}
		}
	}

	message := map[string]any{"role": "assistant", "content": joinedOrNil(texts)}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	usage := toMap(body["usage"])
	inputTokens, _ := getFloat(usage, "input_tokens")
	outputTokens, _ := getFloat(usage, "output_tokens")

	return map[string]any{
		"id":      fmt.Sprintf("chatcmpl-%s", anthropicBodyID(body)),
		"object":  "chat.completion",
		"created": nowUnix(),
		"model":   model,
		"choices": []any{
			map[string]any{
				"index":         float64(0),
				"message":       message,
				"finish_reason": finishReasonFor(getStr(body, "stop_reason")),
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     inputTokens,
			"completion_tokens": outputTokens,
			"total_tokens":      inputTokens + outputTokens,
		},
	}
}

func anthropicBodyID(body map[string]any) string {
	if id := getStr(body, "id"); id != "" {
		return id
	}
	return fmt.Sprintf("%d", nowMillis())
}

func finishReasonFor(stopReason string) string {
	if r, ok := stopReasonToFinish[stopReason]; ok {
		return r
	}
	return "stop"
}

func joinedOrNil(texts []string) any {
	joined := strings.Join(texts, "")
	if joined == "" {
		return nil
	}
	return joined
}

func anthropicBlockToOpenAIToolCall(block map[string]any) map[string]any {
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
