package convert

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ConvertSSEStream converts an OpenAI SSE stream (io.Reader) to an Anthropic
// SSE stream. It returns an io.ReadCloser that produces the Anthropic-format
// SSE events.
func ConvertSSEStream(reader io.Reader, originalModel string) io.ReadCloser {
	pr, pw := io.Pipe()
	c := &openAIStreamConverter{
		pw:            pw,
		originalModel: originalModel,
		startedBlocks: map[int]bool{},
		toolIndexMap:  map[int]int{},
		thinkingIndex: -1,
	}
	go c.run(reader)
	return pr
}

// openAIStreamConverter accumulates the running state needed to translate a
// sequence of OpenAI chat-completion-chunk events into Anthropic content
// block events: which block indices have been opened, which OpenAI tool_call
// index maps to which Anthropic content block, and the running token counts
// Anthropic reports once at message_start and once at message_delta/stop.
type openAIStreamConverter struct {
	pw            *io.PipeWriter
	originalModel string

	sentMessageStart bool
	inputTokens      float64
	outputTokens     float64

	startedBlocks  map[int]bool
	nextBlockIndex int
	toolIndexMap   map[int]int

	lastFinishReason string
	textStarted      bool
	thinkingStarted  bool
	thinkingIndex    int
}

func (c *openAIStreamConverter) run(reader io.Reader) {
	defer c.pw.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		if payload == "[DONE]" {
			c.finish()
			continue
		}

		var parsed map[string]any
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			continue
		}
		c.handleChunk(parsed)
	}
}

func (c *openAIStreamConverter) handleChunk(parsed map[string]any) {
	if !c.sentMessageStart {
		c.emitMessageStart(parsed)
	}
	if usage, ok := getMap(parsed, "usage"); ok {
		if pt, ok := getFloat(usage, "prompt_tokens"); ok && pt > 0 {
			c.inputTokens = pt
		}
		if ct, ok := getFloat(usage, "completion_tokens"); ok && ct > 0 {
			c.outputTokens = ct
		}
	}

	choices, _ := getSlice(parsed, "choices")
	if len(choices) == 0 {
		return
	}
	choice := toMap(choices[0])
	delta, ok := getMap(choice, "delta")
	if !ok {
		return
	}

	if rc := getStr(delta, "reasoning_content"); rc != "" {
		c.emitThinkingDelta(rc)
	}
	if content := getStr(delta, "content"); content != "" {
		c.emitTextDelta(content)
	}
	if tcs, ok := getSlice(delta, "tool_calls"); ok {
		c.emitToolCallDeltas(tcs)
	}
	if fr := getStr(choice, "finish_reason"); fr != "" {
		c.lastFinishReason = fr
	}
}

func (c *openAIStreamConverter) emitMessageStart(parsed map[string]any) {
	c.sentMessageStart = true
	msgID := getStr(parsed, "id")
	if msgID == "" {
		msgID = fmt.Sprintf("msg_%d", nowMillis())
	}
	writeSSE(c.pw, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": msgID, "type": "message", "role": "assistant",
			"content": []any{}, "model": c.originalModel,
			"stop_reason": nil, "stop_sequence": nil,
			"usage": map[string]any{"input_tokens": c.inputTokens, "output_tokens": float64(0)},
		},
	})
}

func (c *openAIStreamConverter) openBlock(index int, contentBlock map[string]any) {
	c.startedBlocks[index] = true
	writeSSE(c.pw, "content_block_start", map[string]any{
		"type": "content_block_start", "index": index, "content_block": contentBlock,
	})
}

func (c *openAIStreamConverter) emitThinkingDelta(text string) {
	if !c.thinkingStarted {
		c.thinkingStarted = true
		c.thinkingIndex = c.nextBlockIndex
		c.nextBlockIndex++
		c.openBlock(c.thinkingIndex, map[string]any{"type": "thinking", "thinking": ""})
	}
	writeSSE(c.pw, "content_block_delta", map[string]any{
		"type": "content_block_delta", "index": c.thinkingIndex,
		"delta": map[string]any{"type": "thinking_delta", "thinking": text},
	})
}

func (c *openAIStreamConverter) emitTextDelta(text string) {
	if !c.textStarted {
		c.textStarted = true
		idx := c.nextBlockIndex
		c.nextBlockIndex++
		c.openBlock(idx, map[string]any{"type": "text", "text": ""})
	}
	// Text always lands immediately after an opened thinking block, if any.
	textIdx := 0
	if c.thinkingStarted {
		textIdx = c.thinkingIndex + 1
	}
	writeSSE(c.pw, "content_block_delta", map[string]any{
		"type": "content_block_delta", "index": textIdx,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

func (c *openAIStreamConverter) emitToolCallDeltas(tcs []any) {
	for _, raw := range tcs {
		tc := toMap(raw)
		openaiIndex := 0
		if idx, ok := getFloat(tc, "index"); ok {
			openaiIndex = int(idx)
		}
		fn := toMap(tc["function"])

		if name := getStr(fn, "name"); name != "" {
			c.startToolCallBlock(openaiIndex, name, getStr(tc, "id"))
		}
		if args := getStr(fn, "arguments"); args != "" {
			if blockIdx, exists := c.toolIndexMap[openaiIndex]; exists {
				writeSSE(c.pw, "content_block_delta", map[string]any{
					"type": "content_block_delta", "index": blockIdx,
					"delta": map[string]any{"type": "input_json_delta", "partial_json": args},
				})
			}
		}
	}
}

func (c *openAIStreamConverter) startToolCallBlock(openaiIndex int, name, id string) {
	if !c.textStarted {
		// Anthropic expects a text block at index 0 even if it stays empty.
		c.textStarted = true
		idx := c.nextBlockIndex
		c.nextBlockIndex++
		c.openBlock(idx, map[string]any{"type": "text", "text": ""})
	}

	blockIdx := c.nextBlockIndex
	c.nextBlockIndex++
	c.toolIndexMap[openaiIndex] = blockIdx

	if id == "" {
		// DeepSeek omits tool call IDs; Anthropic's format requires one.
		id = fmt.Sprintf("toolu_%d_%s", nowMillis(), generateID())
	}
	c.openBlock(blockIdx, map[string]any{"type": "tool_use", "id": id, "name": name, "input": map[string]any{}})
}

func (c *openAIStreamConverter) finish() {
	indices := make([]int, 0, len(c.startedBlocks))
	for idx := range c.startedBlocks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		writeSSE(c.pw, "content_block_stop", map[string]any{"type": "content_block_stop", "index": idx})
	}

	writeSSE(c.pw, "message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReasonFor(c.lastFinishReason), "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": c.outputTokens},
	})
	writeSSE(c.pw, "message_stop", map[string]any{"type": "message_stop"})
}

// ConvertAnthropicSSEToOpenAI converts an Anthropic SSE stream (io.Reader) to
// an OpenAI SSE stream. It returns an io.ReadCloser that produces the
// OpenAI-format SSE events.
func ConvertAnthropicSSEToOpenAI(reader io.Reader, model string) io.ReadCloser {
	pr, pw := io.Pipe()
	c := &anthropicStreamConverter{
		pw:        pw,
		model:     model,
		messageID: fmt.Sprintf("chatcmpl-%d", nowMillis()),
	}
	go c.run(reader)
	return pr
}

type anthropicStreamConverter struct {
	pw        *io.PipeWriter
	model     string
	messageID string
}

func (c *anthropicStreamConverter) run(reader io.Reader) {
	defer c.pw.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "event: ") {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "" {
			continue
		}

		var parsed map[string]any
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			continue
		}
		c.handleEvent(getStr(parsed, "type"), parsed)
	}
}

func (c *anthropicStreamConverter) handleEvent(eventType string, parsed map[string]any) {
	switch eventType {
	case "message_start":
		c.handleMessageStart(toMap(parsed["message"]))
	case "content_block_delta":
		c.handleContentBlockDelta(parsed)
	case "content_block_start":
		c.handleContentBlockStart(parsed)
	case "message_delta":
		c.handleMessageDelta(parsed)
	case "message_stop":
		fmt.Fprint(c.pw, "data: [DONE]\n\n")
	}
}

func (c *anthropicStreamConverter) chunk(delta map[string]any, finishReason any) map[string]any {
	return map[string]any{
		"id": c.messageID, "object": "chat.completion.chunk",
		"created": nowUnix(), "model": c.model,
		"choices": []any{
			map[string]any{"index": float64(0), "delta": delta, "finish_reason": finishReason},
		},
	}
}

func (c *anthropicStreamConverter) handleMessageStart(msg map[string]any) {
	if msgID := getStr(msg, "id"); msgID != "" {
		c.messageID = fmt.Sprintf("chatcmpl-%s", msgID)
	}
	writeDataLine(c.pw, c.chunk(map[string]any{"role": "assistant", "content": ""}, nil))
}

func (c *anthropicStreamConverter) handleContentBlockDelta(parsed map[string]any) {
	delta := toMap(parsed["delta"])
	switch getStr(delta, "type") {
	case "text_delta":
		if text := getStr(delta, "text"); text != "" {
			writeDataLine(c.pw, c.chunk(map[string]any{"content": text}, nil))
		}
	case "input_json_delta":
		if partial := getStr(delta, "partial_json"); partial != "" {
			idx := float64(0)
			if v, ok := getFloat(parsed, "index"); ok {
				idx = v
			}
			writeDataLine(c.pw, c.chunk(map[string]any{
				"tool_calls": []any{map[string]any{"index": idx, "function": map[string]any{"arguments": partial}}},
			}, nil))
		}
	}
}

func (c *anthropicStreamConverter) handleContentBlockStart(parsed map[string]any) {
	cb := toMap(parsed["content_block"])
	if getStr(cb, "type") != "tool_use" {
		return
	}
	// Anthropic's content block index is 1 past the OpenAI tool_calls index
	// once a leading text block occupies index 0.
	toolIdx := float64(0)
	if idx, ok := getFloat(parsed, "index"); ok {
		toolIdx = idx - 1
	}
	writeDataLine(c.pw, c.chunk(map[string]any{
		"tool_calls": []any{map[string]any{
			"index": toolIdx, "id": getStr(cb, "id"), "type": "function",
			"function": map[string]any{"name": getStr(cb, "name"), "arguments": ""},
		}},
	}, nil))
}

func (c *anthropicStreamConverter) handleMessageDelta(parsed map[string]any) {
	delta := toMap(parsed["delta"])
	stopReason := getStr(delta, "stop_reason")
	if stopReason == "" {
		return
	}

	out := c.chunk(map[string]any{}, finishReasonFor(stopReason))
	if usage, ok := getMap(parsed, "usage"); ok {
		outTokens, _ := getFloat(usage, "output_tokens")
		out["usage"] = map[string]any{
			"prompt_tokens":     float64(0),
			"completion_tokens": outTokens,
			"total_tokens":      outTokens,
		}
	}
	writeDataLine(c.pw, out)
}

func writeSSE(w io.Writer, event string, data map[string]any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(b))
}

func writeDataLine(w io.Writer, data map[string]any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", string(b))
}
