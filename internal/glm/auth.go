package glm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// tokenTTL is the fixed expiry window of a signed token. The platform is
// the sole enforcer; the client never checks it.
const tokenTTL = time.Hour

// The platform's token deviates from RFC 7519: no "typ" header, a vendor
// "sign_type" field, and exp/timestamp in milliseconds. The header and
// payload structs pin the exact field order the platform expects.
type tokenHeader struct {
	Alg      string `json:"alg"`
	SignType string `json:"sign_type"`
}

type tokenPayload struct {
	APIKey    string `json:"api_key"`
	Exp       int64  `json:"exp"`
	Timestamp int64  `json:"timestamp"`
}

// Signer turns the static two-part API key ("id.secret") into short-lived
// bearer credentials. Tokens are recomputed on every request.
type Signer struct {
	apiKey string
	now    func() time.Time
}

// NewSigner creates a signer for the given API key.
func NewSigner(apiKey string) *Signer {
	return &Signer{apiKey: apiKey, now: time.Now}
}

// Authorization returns the value for the Authorization header. Keys
// without the id.secret shape are passed through verbatim, a compatibility
// path for plain bearer tokens.
func (s *Signer) Authorization() string {
	id, secret, ok := strings.Cut(s.apiKey, ".")
	if !ok || id == "" || secret == "" {
		return "Bearer " + s.apiKey
	}

	nowMs := s.now().UnixMilli()
	header := encodeSegment(tokenHeader{Alg: "HS256", SignType: "SIGN"})
	payload := encodeSegment(tokenPayload{
		APIKey:    id,
		Exp:       nowMs + tokenTTL.Milliseconds(),
		Timestamp: nowMs,
	})

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return "Bearer " + header + "." + payload + "." + sig
}

// encodeSegment JSON-encodes v and base64url-encodes it without padding.
func encodeSegment(v any) string {
	data, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(data)
}
