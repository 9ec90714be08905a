// Package token builds the signed per-page access tokens the reader expects
// in the Authorization header of every page request.
package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"znum/pkg/models"
)

const (
	issuer  = "ZNANIUM-JWT"
	subject = "znanium/reader"

	// FallbackSigningKey signs tokens when the document has no crypto key
	FallbackSigningKey = "a1b2c3d4e5"

	// timeSyncDelta mirrors the reader's client/server clock offset
	timeSyncDelta = 1
	lifetime      = 300
	backdate      = 120
)

// encodedHeader is the base64 of the fixed HS256 header
var encodedHeader = base64.StdEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Payload is the token body. Field order is significant to the server.
type Payload struct {
	ID        string `json:"id"`
	Subject   string `json:"sub"`
	Page      int    `json:"page"`
	Document  *int64 `json:"document"`
	Expires   int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	SecID     string `json:"secid"`
	LocalTime int64  `json:"localTime"`
	DeltaTime int64  `json:"deltaTime"`
	Log       string `json:"log"`
	Case      int    `json:"case"`
}

// Generator produces page tokens. The zero value is ready to use and
// never reuses a token.
type Generator struct {
	// Cache, when set, lets tokens be reused inside its window
	Cache *Cache

	// Refresh marks tokens issued for a retried request
	Refresh bool
}

// Generate returns a token using the default stateless generator
func Generate(documentID string, page int, key models.KeyMaterial, now time.Time) string {
	var g Generator
	return g.Generate(documentID, page, key, now)
}

// Generate returns a signed token for one page at the given instant
func (g *Generator) Generate(documentID string, page int, key models.KeyMaterial, now time.Time) string {
	if g.Cache != nil {
		if tok, ok := g.Cache.Get(documentID, page, now); ok {
			return tok
		}
	}

	tok := sign(NewPayload(documentID, page, key, now, g.Refresh), key.CryptoKey)

	if g.Cache != nil {
		g.Cache.Put(documentID, page, tok, now)
	}
	return tok
}

// NewPayload assembles the token body for the given instant
func NewPayload(documentID string, page int, key models.KeyMaterial, now time.Time, refresh bool) Payload {
	ts := now.Unix()
	t := ts - timeSyncDelta

	p := Payload{
		ID:        issuer,
		Subject:   subject,
		Page:      page,
		Document:  leadingInt(documentID),
		Expires:   t + lifetime,
		IssuedAt:  t - backdate,
		SecID:     key.CryptoKeyID,
		LocalTime: ts,
		DeltaTime: timeSyncDelta,
		Log: fmt.Sprintf("init(time:%d,serverTime:%d,key:%s,id:%s,%s:%s);",
			ts, ts, key.CryptoKey, key.CryptoKeyID, key.CryptoKey, key.CryptoKeyID),
	}
	if refresh {
		p.Case = 1
	}
	return p
}

func sign(p Payload, cryptoKey string) string {
	body := base64.StdEncoding.EncodeToString(marshal(p))
	signingInput := encodedHeader + "." + body

	signingKey := cryptoKey
	if signingKey == "" {
		signingKey = FallbackSigningKey
	}

	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// marshal encodes without HTML escaping so the log trace is byte-exact
func marshal(p Payload) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Payload contains only strings and integers; Encode cannot fail.
	_ = enc.Encode(p)
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return unescapeSeparators(out)
}

// unescapeSeparators restores the raw U+2028 and U+2029 characters that
// encoding/json always escapes and JSON.stringify leaves alone.
func unescapeSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	var out bytes.Buffer
	out.Grow(len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out.WriteByte(b[i])
			continue
		}
		switch seq := b[i:]; {
		case bytes.HasPrefix(seq, []byte(`\u2028`)):
			out.WriteString("\u2028")
			i += 5
		case bytes.HasPrefix(seq, []byte(`\u2029`)):
			out.WriteString("\u2029")
			i += 5
		default:
			out.Write(b[i : i+2])
			i++
		}
	}
	return out.Bytes()
}

// leadingInt parses an optional sign and leading decimal digits after
// leading whitespace, returning nil when there are none.
func leadingInt(s string) *int64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return nil
	}

	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// Decode splits a token and returns its payload. It does not verify the signature.
func Decode(tok string) (Payload, error) {
	var p Payload

	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return p, fmt.Errorf("token has %d parts, want 3", len(parts))
	}

	raw, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return p, fmt.Errorf("failed to decode payload: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("failed to parse payload: %w", err)
	}
	return p, nil
}

// Verify reports whether tok is signed with cryptoKey (or the fallback key when empty)
func Verify(tok, cryptoKey string) bool {
	i := strings.LastIndexByte(tok, '.')
	if i < 0 {
		return false
	}

	if cryptoKey == "" {
		cryptoKey = FallbackSigningKey
	}
	mac := hmac.New(sha256.New, []byte(cryptoKey))
	mac.Write([]byte(tok[:i]))

	got, err := base64.StdEncoding.DecodeString(tok[i+1:])
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac.Sum(nil))
}
