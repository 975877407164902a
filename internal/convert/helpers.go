package convert

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// generateID produces a short alphanumeric suffix suitable for IDs, derived
// from a UUIDv4 rather than a hand-rolled PRNG draw.
func generateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// toJSONString marshals a value to a JSON string, falling back to "{}" so
// callers building a wire payload never have to handle a marshal error.
func toJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// The get* family extracts a typed value from a decoded JSON map, returning
// the zero value (and false, where applicable) when the key is absent or of
// the wrong dynamic type -- every field in an Anthropic/OpenAI payload is
// optional from the other side's perspective.

func getStr(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func getFloat(m map[string]any, key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}

func getBool(m map[string]any, key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

func getSlice(m map[string]any, key string) ([]any, bool) {
	s, ok := m[key].([]any)
	return s, ok
}

func getMap(m map[string]any, key string) (map[string]any, bool) {
	m2, ok := m[key].(map[string]any)
	return m2, ok
}

func toMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
