package guardrails

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Token shapes a deanonymization pass recognizes, in the order passes run.
// Order matters: a token format accepted by an earlier, narrower pass must
// not be swallowed by a later, looser one (e.g. bracket tokens before the
// generic plain-IP/plain-phone catch-alls).
var (
	prefixedAPIKeyRe = regexp.MustCompile(
		`(?i)(sk-ant-|sk-proj-|sk-|ghp_|gho_|glpat-|xoxb-|xoxp-|xapp-|xoxe-|AKIA|AIza|hf_|pk_live_|sk_live_|rk_live_|whsec_|github_pat_|pypi-|npm_|FLWSECK-|sq0atp-|SG\.|key-|sk-or-|r8_|sntrys_|op_|Bearer\s+)?\[([A-Za-z0-9_-]+)\]`,
	)
	bucketedSecretRe = regexp.MustCompile(`(?i)\[SECRET-(short|med|long)-([A-Za-z0-9_-]+)\]`)
	categoryBracketRe = regexp.MustCompile(`\[([A-Z]+)(?:-[0-9.]+)?-([A-Za-z0-9_-]+)\]`)
	anonEmailRe        = regexp.MustCompile(`(?i)[a-zA-Z0-9._%+-]+@anon\.com`)
	redactedURLRe      = regexp.MustCompile(`(?i)\[redacted-([A-Za-z0-9_-]+)\]`)
	suffixedPhoneRe    = regexp.MustCompile(`\b(\d{3}-\d{3}-\d{4})-([A-Za-z0-9_-]+)\b`)
	bareIPRe           = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	barePhoneRe        = regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`)
	credExtractRe      = regexp.MustCompile(`//([^:]+):([^@]+)@`)

	ipPatternCheck    = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	phonePatternCheck = regexp.MustCompile(`^\d{3}-\d{3}-\d{4}$`)
)

// bracketCategoryMap translates a bracket prefix like "SSN" or "VISA" to the
// domain string its token was encrypted under, so decryptToken can verify it.
var bracketCategoryMap = map[string]string{
	"SSN": "ssn", "VISA": "card", "MC": "card", "AMEX": "card", "DISC": "card",
	"CARD": "card", "IBAN": "iban", "PASSPORT": "passport", "IP": "ip", "IPv6": "ip",
	"ADDR": "address", "AKIA": "aws", "AWS-SECRET": "aws", "JWT": "jwt",
	"PRIVATE-KEY": "key", "REDACTED": "password",
}

// resolveToken recovers a token's plaintext by trying decryption under each
// candidate domain in order, falling back to a reverse-map lookup keyed on
// the whole matched text.
func resolveToken(fullMatch string, token string, domains ...string) string {
	for _, domain := range domains {
		if plain := decryptToken(token, domain); plain != "" {
			return plain
		}
	}
	if orig := reverseLookup(fullMatch); orig != "" {
		return orig
	}
	return fullMatch
}

func replaceWithSubmatch(text string, re *regexp.Regexp, minGroups int, fn func(groups []string) string) string {
	return re.ReplaceAllStringFunc(text, func(fullMatch string) string {
		groups := re.FindStringSubmatch(fullMatch)
		if len(groups) < minGroups {
			return fullMatch
		}
		return fn(groups)
	})
}

func deanonAPIKeys(text string) string {
	return replaceWithSubmatch(text, prefixedAPIKeyRe, 3, func(g []string) string {
		return resolveToken(g[0], g[2], "api_key", "secret")
	})
}

func deanonBucketedSecrets(text string) string {
	return replaceWithSubmatch(text, bucketedSecretRe, 3, func(g []string) string {
		return resolveToken(g[0], g[2], "secret")
	})
}

func deanonCategoryBrackets(text string) string {
	return replaceWithSubmatch(text, categoryBracketRe, 3, func(g []string) string {
		category := strings.ToLower(g[1])
		if mapped, ok := bracketCategoryMap[g[1]]; ok {
			category = mapped
		}
		return resolveToken(g[0], g[2], category)
	})
}

// deanonByReverseLookupOnly handles formats that carry no recoverable token
// at all (plain emails, IPs, phone numbers a model echoed back verbatim) —
// the only way back to the original is the in-memory reverse map.
func deanonByReverseLookupOnly(text string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(text, func(fullMatch string) string {
		if orig := reverseLookup(fullMatch); orig != "" {
			return orig
		}
		return fullMatch
	})
}

// deanonNames restores plain fake names by scanning every reverse-map entry
// whose replacement isn't a bracket token, email, IP, or phone number, and
// whole-word-replacing any occurrence still present in the text.
func deanonNames(text string) string {
	reverseMap.Range(func(key, value any) bool {
		replacement := key.(string)
		original := value.(string)

		if strings.Contains(replacement, "@") || strings.HasPrefix(replacement, "[") {
			return true
		}
		if ipPatternCheck.MatchString(replacement) || phonePatternCheck.MatchString(replacement) {
			return true
		}
		if !strings.Contains(text, replacement) {
			return true
		}
		wholeWord := regexp.MustCompile(`\b` + regexp.QuoteMeta(replacement) + `\b`)
		text = wholeWord.ReplaceAllString(text, original)
		return true
	})
	return text
}

func deanonRedactedURLs(text string) string {
	return replaceWithSubmatch(text, redactedURLRe, 2, func(g []string) string {
		if plain := decryptToken(g[1], "url"); plain != "" {
			if creds := credExtractRe.FindStringSubmatch(plain); creds != nil {
				return fmt.Sprintf("//[%s:[REDACTED]]@", creds[1])
			}
		}
		if orig := reverseLookup(g[0]); orig != "" {
			return orig
		}
		return g[0]
	})
}

func deanonSuffixedPhones(text string) string {
	return replaceWithSubmatch(text, suffixedPhoneRe, 3, func(g []string) string {
		return resolveToken(g[0], g[2], "phone")
	})
}

// deanonPasses runs in this exact order: narrow, token-carrying formats
// first so a generic catch-all pass never swallows a match a more specific
// pass should have handled.
var deanonPasses = []func(string) string{
	deanonAPIKeys,
	deanonBucketedSecrets,
	deanonCategoryBrackets,
	func(t string) string { return deanonByReverseLookupOnly(t, anonEmailRe) },
	func(t string) string { return deanonByReverseLookupOnly(t, bareIPRe) },
	func(t string) string { return deanonByReverseLookupOnly(t, barePhoneRe) },
	deanonNames,
	deanonRedactedURLs,
	deanonSuffixedPhones,
}

// Deanonymize reverses every known replacement in text via stateless
// decryption and reverse-map lookups, restoring whatever the anonymizer
// replaced before the request went upstream.
func Deanonymize(text string) string {
	if text == "" {
		return text
	}
	for _, pass := range deanonPasses {
		text = pass(text)
	}
	return text
}

// ─── Stream deanonymization ──────────────────────────────────────────────────

// streamDeanonymizer walks an SSE byte stream event by event, buffering
// text that might still be the prefix of a growing replacement token and
// only emitting once it's safe to do so.
type streamDeanonymizer struct {
	out         *io.PipeWriter
	textBuffer  map[int]string
	jsonBuffer  map[int]string
}

// CreateDeanonymizeStream wraps an io.Reader of SSE data and returns an
// io.ReadCloser that deanonymizes text_delta content across SSE events.
//
// A replacement token can be split across multiple SSE events, since each
// event carries only a small text delta, so text is buffered per content
// block and only the portion that cannot be the start of an in-progress
// token is flushed early. content_block_stop (or stream end) flushes
// whatever remains.
func CreateDeanonymizeStream(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	sd := &streamDeanonymizer{out: pw, textBuffer: map[int]string{}, jsonBuffer: map[int]string{}}

	go func() {
		defer pw.Close()
		sd.run(r)
	}()

	return pr
}

func (sd *streamDeanonymizer) run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 256*1024)

	var event bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		event.WriteString(line)
		event.WriteByte('\n')

		if line != "" {
			continue // not yet at the blank-line event terminator
		}

		raw := event.String()
		event.Reset()
		sd.handleEvent(raw)
	}

	for idx := range sd.textBuffer {
		sd.flush(idx)
	}
	for idx := range sd.jsonBuffer {
		sd.flush(idx)
	}
	if tail := strings.TrimSpace(event.String()); tail != "" {
		fmt.Fprint(sd.out, Deanonymize(tail))
	}
}

func (sd *streamDeanonymizer) handleEvent(event string) {
	if strings.TrimSpace(event) == "" {
		fmt.Fprint(sd.out, "\n")
		return
	}

	dataLine := extractDataLine(event)
	if dataLine == "" {
		fmt.Fprint(sd.out, Deanonymize(event))
		return
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(dataLine), &parsed); err != nil {
		fmt.Fprint(sd.out, Deanonymize(event))
		return
	}

	switch parsed["type"] {
	case "content_block_delta":
		if sd.bufferDelta(parsed) {
			return
		}
	case "content_block_stop":
		idx := getIndex(parsed)
		sd.flush(idx)
		fmt.Fprint(sd.out, event)
		return
	}

	fmt.Fprint(sd.out, Deanonymize(event))
}

// bufferDelta buffers a content_block_delta's text_delta or input_json_delta
// payload and reports whether it consumed the event (true) or left it to
// fall through to the default per-event pass (false).
func (sd *streamDeanonymizer) bufferDelta(parsed map[string]any) bool {
	delta, _ := parsed["delta"].(map[string]any)
	if delta == nil {
		return false
	}

	idx := getIndex(parsed)
	switch delta["type"] {
	case "text_delta":
		text, ok := delta["text"].(string)
		if !ok {
			return false
		}
		sd.textBuffer[idx] += text
		sd.tryFlushSafe(idx)
		return true
	case "input_json_delta":
		partial, ok := delta["partial_json"].(string)
		if !ok {
			return false
		}
		sd.jsonBuffer[idx] += partial // held until content_block_stop
		return true
	default:
		return false
	}
}

func (sd *streamDeanonymizer) flush(index int) {
	if buf, ok := sd.textBuffer[index]; ok && buf != "" {
		writeTextDelta(sd.out, index, Deanonymize(buf))
		delete(sd.textBuffer, index)
	}
	if buf, ok := sd.jsonBuffer[index]; ok && buf != "" {
		writeJSONDelta(sd.out, index, Deanonymize(buf))
		delete(sd.jsonBuffer, index)
	}
}

func (sd *streamDeanonymizer) tryFlushSafe(index int) {
	buf, ok := sd.textBuffer[index]
	if !ok || buf == "" {
		return
	}

	cut := findSafeFlushPoint(buf)
	if cut <= 0 {
		return
	}
	writeTextDelta(sd.out, index, Deanonymize(buf[:cut]))
	sd.textBuffer[index] = buf[cut:]
}

// findSafeFlushPoint returns how many leading bytes of text are guaranteed
// not to be part of a still-growing replacement token, so they can be
// emitted now.
func findSafeFlushPoint(text string) int {
	if text == "" {
		return 0
	}

	if cut, found := cutBeforeUnclosedBracket(text); found {
		return cut
	}
	if overlap := longestKnownTokenPrefixOverlap(text); overlap > 0 {
		return len(text) - overlap
	}
	return len(text)
}

// cutBeforeUnclosedBracket detects a "[CATEGORY-token..." that hasn't seen
// its closing "]" yet within the tail we bother scanning.
func cutBeforeUnclosedBracket(text string) (int, bool) {
	const tailScanWindow = 200
	start := len(text) - tailScanWindow
	if start < 0 {
		start = 0
	}
	tail := text[start:]

	lastOpen := strings.LastIndex(tail, "[")
	if lastOpen == -1 || strings.Contains(tail[lastOpen:], "]") {
		return 0, false
	}
	return start + lastOpen, true
}

// longestKnownTokenPrefixOverlap returns the length of the longest known
// reverse-map replacement that text's tail is a prefix of — that overlap is
// unsafe to emit since more of the replacement could still arrive.
func longestKnownTokenPrefixOverlap(text string) int {
	best := 0
	reverseMap.Range(func(key, _ any) bool {
		replacement := key.(string)
		if strings.HasPrefix(replacement, "[") {
			return true // bracket tokens are handled by cutBeforeUnclosedBracket
		}
		limit := len(replacement) - 1
		if limit > len(text) {
			limit = len(text)
		}
		for n := limit; n > best && n >= 3; n-- {
			if strings.HasSuffix(text, replacement[:n]) {
				best = n
				break
			}
		}
		return true
	})
	return best
}

func writeTextDelta(w io.Writer, index int, text string) {
	writeDeltaEvent(w, index, map[string]any{"type": "text_delta", "text": text})
}

func writeJSONDelta(w io.Writer, index int, partialJSON string) {
	writeDeltaEvent(w, index, map[string]any{"type": "input_json_delta", "partial_json": partialJSON})
}

func writeDeltaEvent(w io.Writer, index int, delta map[string]any) {
	payload, _ := json.Marshal(map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": delta,
	})
	fmt.Fprintf(w, "event: content_block_delta\ndata: %s\n\n", payload)
}

var dataLineRe = regexp.MustCompile(`(?m)^data:\s*(.+)$`)

func extractDataLine(event string) string {
	m := dataLineRe.FindStringSubmatch(event)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func getIndex(parsed map[string]any) int {
	if v, ok := parsed["index"].(float64); ok {
		return int(v)
	}
	return 0
}
