// Package guardrails implements PII/credential anonymization for LLM requests
// and deanonymization for LLM responses. It uses deterministic AES-256-CTR
// encryption so replacements can be reversed without database lookups.
package guardrails

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/scrypt"
)

const guardrailKeyLen = 32

// scryptSalt matches the salt the original anonymization scheme used when
// deriving a key from an operator-supplied passphrase, kept fixed so tokens
// minted under either implementation stay reversible against each other.
const scryptSalt = "claude-proxy-guardrail-key-salt"

// keyVault lazily resolves and caches the 32-byte AES key used for every
// deterministic encryption in this package. Resolution order:
//  1. GUARDRAIL_KEY env var, stretched through scrypt.
//  2. a key file persisted under DATA_DIR from a previous run.
//  3. a freshly generated random key, persisted for next time.
type keyVault struct {
	mu  sync.Mutex
	key []byte
}

var vault keyVault

func (v *keyVault) get() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		return v.key
	}

	for _, resolve := range []func() []byte{fromEnvPassphrase, fromKeyFile, fromFreshlyGenerated} {
		if k := resolve(); k != nil {
			v.key = k
			return v.key
		}
	}
	panic("guardrails: exhausted all key resolution strategies")
}

func fromEnvPassphrase() []byte {
	passphrase := os.Getenv("GUARDRAIL_KEY")
	if passphrase == "" || passphrase == "auto" {
		return nil
	}
	// N=16384, r=8, p=1 matches the reference scrypt defaults this scheme
	// was ported from, so a passphrase derives the same key either way.
	derived, err := scrypt.Key([]byte(passphrase), []byte(scryptSalt), 16384, 8, 1, guardrailKeyLen)
	if err != nil {
		return nil
	}
	return derived
}

func keyFilePath() string {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	return filepath.Join(dataDir, ".guardrail-key")
}

func fromKeyFile() []byte {
	raw, err := os.ReadFile(keyFilePath())
	if err != nil {
		return nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(key) != guardrailKeyLen {
		return nil
	}
	return key
}

func fromFreshlyGenerated() []byte {
	key := make([]byte, guardrailKeyLen)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("guardrails: failed to generate key: %v", err))
	}
	path := keyFilePath()
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	_ = os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600)
	return key
}

// getGuardrailKey returns the process's guardrail encryption key.
func getGuardrailKey() []byte {
	return vault.get()
}

func hmacOf(key []byte, parts ...string) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write([]byte(p))
	}
	return mac.Sum(nil)
}

// deriveIV derives a deterministic 16-byte IV for value within domain, so
// the same (value, domain) pair always yields the same ciphertext: first a
// domain salt, then an IV keyed off that salt and the value itself.
func deriveIV(value, domain string) []byte {
	key := getGuardrailKey()
	salt := hmacOf(key, domain)
	return hmacOf(salt, value)[:16]
}

// encryptForToken deterministically encrypts value for embedding in a
// reversible replacement token. Wire format is
// base64url(IV(16) || ciphertext || checksum(4)); the IV travels with the
// token so decryption never needs the plaintext to reconstruct it.
func encryptForToken(value, domain string) string {
	key := getGuardrailKey()
	iv := deriveIV(value, domain)

	block, err := aes.NewCipher(key)
	if err != nil {
		return ""
	}

	ciphertext := make([]byte, len(value))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, []byte(value))
	checksum := hmacOf(key, value, domain)[:4]

	packed := make([]byte, 0, len(iv)+len(ciphertext)+len(checksum))
	packed = append(packed, iv...)
	packed = append(packed, ciphertext...)
	packed = append(packed, checksum...)
	return base64.RawURLEncoding.EncodeToString(packed)
}

// decryptToken reverses encryptForToken, returning "" if the token is
// malformed or its checksum doesn't match (meaning it wasn't minted under
// the current key, or domain, or has been tampered with).
func decryptToken(token, domain string) string {
	packed, ok := decodeTokenBytes(token)
	if !ok || len(packed) < 16+1+4 {
		return ""
	}

	key := getGuardrailKey()
	iv, ciphertext, checksum := packed[:16], packed[16:len(packed)-4], packed[len(packed)-4:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return ""
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	value := string(plaintext)

	if !hmac.Equal(checksum, hmacOf(key, value, domain)[:4]) {
		return ""
	}
	return value
}

// decodeTokenBytes tolerates both the raw (unpadded) base64url we emit and
// a padded variant, since tokens sometimes round-trip through systems that
// normalize base64 padding.
func decodeTokenBytes(token string) ([]byte, bool) {
	if data, err := base64.RawURLEncoding.DecodeString(token); err == nil {
		return data, true
	}
	padded := token
	if rem := len(token) % 4; rem != 0 {
		padded += strings.Repeat("=", 4-rem)
	}
	data, err := base64.URLEncoding.DecodeString(padded)
	return data, err == nil
}

// hmacHash returns the hex-encoded HMAC-SHA256 of value under the guardrail
// key, used to fingerprint values without ever storing them in the clear.
func hmacHash(value string) string {
	return hex.EncodeToString(hmacOf(getGuardrailKey(), value))
}

// shortHash truncates hmacHash(value) to length characters.
func shortHash(value string, length int) string {
	h := hmacHash(value)
	if length > len(h) {
		return h
	}
	return h[:length]
}

// shannonEntropy computes the Shannon entropy, in bits per character, of s.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, ch := range s {
		counts[ch]++
	}
	total := float64(len([]rune(s)))
	var entropy float64
	for _, n := range counts {
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// charClassCount reports how many of {lower, upper, digit, other} appear in s.
func charClassCount(s string) int {
	var lower, upper, digit, other bool
	for _, ch := range s {
		switch {
		case unicode.IsLower(ch):
			lower = true
		case unicode.IsUpper(ch):
			upper = true
		case unicode.IsDigit(ch):
			digit = true
		default:
			other = true
		}
	}
	count := 0
	for _, present := range []bool{lower, upper, digit, other} {
		if present {
			count++
		}
	}
	return count
}

var (
	kebabIdentifierRe = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+){2,}$`)
	longHexRe         = regexp.MustCompile(`^[0-9a-fA-F]{32,}$`)
	longBase64Re      = regexp.MustCompile(`^[A-Za-z0-9+/]{20,}={0,2}$`)
)

// secretHeuristic is one entropy/shape rule that, if it matches, is enough
// on its own to call a token a likely secret.
type secretHeuristic func(s string, entropy float64, classes int) bool

var secretHeuristics = []secretHeuristic{
	func(_ string, entropy float64, classes int) bool { return entropy >= 4.0 && classes >= 3 },
	func(s string, entropy float64, classes int) bool { return entropy >= 3.5 && classes >= 3 && len(s) >= 16 },
	func(s string, entropy float64, _ int) bool { return entropy >= 3.0 && len(s) >= 32 },
	func(s string, _ float64, _ int) bool { return longHexRe.MatchString(s) && len(s) >= 32 },
	func(s string, entropy float64, _ int) bool { return longBase64Re.MatchString(s) && entropy >= 3.5 },
}

// looksLikeSecret flags tokens that read like high-entropy credentials
// rather than ordinary words, using the same entropy/character-class
// thresholds the guardrail scheme has always used.
func looksLikeSecret(s string) bool {
	if len(s) < 8 || strings.Contains(s, "/") {
		return false
	}
	if kebabIdentifierRe.MatchString(s) {
		return false
	}
	if strings.HasPrefix(s, "SECRET-") || strings.HasPrefix(s, "REDACTED-") {
		return false
	}

	entropy := shannonEntropy(s)
	classes := charClassCount(s)
	for _, matches := range secretHeuristics {
		if matches(s, entropy, classes) {
			return true
		}
	}
	return false
}
