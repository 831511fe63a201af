package webhook_test

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/webhook"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func signedHeaders(t *testing.T, v *webhook.Verifier, msgID string, ts time.Time, body []byte) http.Header {
	t.Helper()
	h := http.Header{}
	h.Set(webhook.HeaderID, msgID)
	h.Set(webhook.HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
	h.Set(webhook.HeaderSignature, v.Sign(msgID, ts.Unix(), body))
	return h
}

func newVerifier(t *testing.T, secret string) *webhook.Verifier {
	t.Helper()
	v, err := webhook.NewVerifier(secret, webhook.WithVerifierClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return v
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret-signing-key"))
	v := newVerifier(t, secret)
	body := []byte(`{"type":"order.paid","data":{"id":"o1"}}`)

	h := signedHeaders(t, v, "msg_1", fixedNow, body)
	assert.NoError(t, v.Verify(body, h))
}

func TestVerifyAcceptsAnyMatchingToken(t *testing.T) {
	v := newVerifier(t, "whsec_c2VjcmV0")
	body := []byte(`{"type":"x","data":{}}`)

	h := signedHeaders(t, v, "msg_2", fixedNow, body)
	h.Set(webhook.HeaderSignature, "v2,abc v1,!!notbase64 v1,"+base64.StdEncoding.EncodeToString([]byte("nope"))+" "+h.Get(webhook.HeaderSignature))
	assert.NoError(t, v.Verify(body, h))
}

func TestVerifyRawSecret(t *testing.T) {
	// Not valid base64, so the raw bytes are the key.
	v := newVerifier(t, "plain secret!")
	body := []byte(`{"type":"x","data":{}}`)

	assert.NoError(t, v.Verify(body, signedHeaders(t, v, "msg_3", fixedNow, body)))
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier(t, "whsec_c2VjcmV0")
	body := []byte(`{"type":"order.paid","data":{}}`)
	good := signedHeaders(t, v, "msg_1", fixedNow, body)

	tests := []struct {
		name    string
		mutate  func(h http.Header) []byte
		wantErr error
	}{
		{"missing id", func(h http.Header) []byte { h.Del(webhook.HeaderID); return body }, webhook.ErrInvalidSignature},
		{"missing signature", func(h http.Header) []byte { h.Del(webhook.HeaderSignature); return body }, webhook.ErrInvalidSignature},
		{"non numeric timestamp", func(h http.Header) []byte { h.Set(webhook.HeaderTimestamp, "soon"); return body }, webhook.ErrInvalidSignature},
		{"too old", func(h http.Header) []byte {
			h.Set(webhook.HeaderTimestamp, strconv.FormatInt(fixedNow.Add(-301*time.Second).Unix(), 10))
			return body
		}, webhook.ErrInvalidSignature},
		{"too far ahead", func(h http.Header) []byte {
			h.Set(webhook.HeaderTimestamp, strconv.FormatInt(fixedNow.Add(301*time.Second).Unix(), 10))
			return body
		}, webhook.ErrInvalidSignature},
		{"only v2 tokens", func(h http.Header) []byte { h.Set(webhook.HeaderSignature, "v2,AAAA"); return body }, webhook.ErrInvalidSignature},
		{"tampered body", func(http.Header) []byte { return []byte(`{"type":"order.paid","data":{"x":1}}`) }, webhook.ErrInvalidSignature},
		{"changed id", func(h http.Header) []byte { h.Set(webhook.HeaderID, "msg_2"); return body }, webhook.ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := good.Clone()
			b := tt.mutate(h)
			assert.ErrorIs(t, v.Verify(b, h), tt.wantErr)
		})
	}
}

func TestVerifyToleranceBoundary(t *testing.T) {
	v := newVerifier(t, "whsec_c2VjcmV0")
	body := []byte(`{"type":"x","data":{}}`)

	at := fixedNow.Add(-300 * time.Second)
	assert.NoError(t, v.Verify(body, signedHeaders(t, v, "msg", at, body)))
}

func TestVerifyRejectsNonObjectBody(t *testing.T) {
	v := newVerifier(t, "whsec_c2VjcmV0")
	body := []byte(`[1,2,3]`)

	err := v.Verify(body, signedHeaders(t, v, "msg", fixedNow, body))
	assert.ErrorIs(t, err, webhook.ErrInvalidPayload)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := webhook.NewVerifier("   ")
	assert.ErrorIs(t, err, webhook.ErrSecretNotConfigured)
}
