package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Standard Webhooks header names.
const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

// DefaultTolerance is the accepted clock skew between sender and receiver.
const DefaultTolerance = 300 * time.Second

// Verifier checks Standard Webhooks HMAC-SHA256 signatures.
type Verifier struct {
	keys      [][]byte
	tolerance time.Duration
	now       func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.tolerance = d }
}

// WithVerifierClock sets the time source used for the skew check.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier builds a verifier for secret. A "whsec_" prefix is stripped
// and the rest is tried as url-safe base64, standard base64 and raw bytes.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretNotConfigured
	}

	v := &Verifier{
		keys:      secretCandidates(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// Verify authenticates body against the signature headers and checks that
// the body is a JSON object.
func (v *Verifier) Verify(body []byte, h http.Header) error {
	msgID := h.Get(HeaderID)
	rawTS := h.Get(HeaderTimestamp)
	sigHeader := h.Get(HeaderSignature)
	if msgID == "" || rawTS == "" || sigHeader == "" {
		return fmt.Errorf("%w: missing required webhook headers", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(rawTS), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp", ErrInvalidSignature)
	}

	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(v.tolerance/time.Second) {
		return fmt.Errorf("%w: timestamp outside allowed tolerance", ErrInvalidSignature)
	}

	signatures := parseSignatures(sigHeader)
	if len(signatures) == 0 {
		return fmt.Errorf("%w: no usable v1 signatures", ErrInvalidSignature)
	}

	signed := make([]byte, 0, len(msgID)+len(rawTS)+len(body)+2)
	signed = append(signed, msgID...)
	signed = append(signed, '.')
	signed = append(signed, rawTS...)
	signed = append(signed, '.')
	signed = append(signed, body...)

	if !v.matches(signed, signatures) {
		return fmt.Errorf("%w: signature verification failed", ErrInvalidSignature)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return fmt.Errorf("%w: body is not a JSON object", ErrInvalidPayload)
	}

	return nil
}

// Sign returns a "v1,<base64>" signature for the message using the first
// key candidate. It exists for tests and local tooling.
func (v *Verifier) Sign(msgID string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, v.keys[0])
	fmt.Fprintf(mac, "%s.%d.", msgID, ts)
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) matches(signed []byte, signatures [][]byte) bool {
	for _, key := range v.keys {
		mac := hmac.New(sha256.New, key)
		mac.Write(signed)
		expected := mac.Sum(nil)
		for _, sig := range signatures {
			if hmac.Equal(sig, expected) {
				return true
			}
		}
	}
	return false
}

func secretCandidates(secret string) [][]byte {
	encoded := strings.TrimPrefix(secret, "whsec_")

	var keys [][]byte
	padded := encoded
	if rem := len(padded) % 4; rem != 0 {
		padded += strings.Repeat("=", 4-rem)
	}
	if k, err := base64.URLEncoding.DecodeString(padded); err == nil && len(k) > 0 {
		keys = append(keys, k)
	}
	if k, err := base64.StdEncoding.DecodeString(padded); err == nil && len(k) > 0 {
		keys = append(keys, k)
	}
	keys = append(keys, []byte(encoded))

	return keys
}

func parseSignatures(header string) [][]byte {
	var out [][]byte
	for _, token := range strings.Fields(header) {
		version, sig, ok := strings.Cut(token, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		out = append(out, decoded)
	}
	return out
}
