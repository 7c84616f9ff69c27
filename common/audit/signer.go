// Package audit signs outbound payloads so receivers can verify where they
// came from.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signature headers set on signed HTTP requests.
const (
	HeaderID        = "X-Querybot-Id"
	HeaderTimestamp = "X-Querybot-Timestamp"
	HeaderSignature = "X-Querybot-Signature"
)

// Signer computes HMAC-SHA256 signatures with a shared secret.
type Signer struct {
	secretKey []byte
}

func NewSigner(secretKey string) *Signer {
	return &Signer{secretKey: []byte(secretKey)}
}

// Sign covers the payload id, the unix timestamp and the body.
func (s *Signer) Sign(id string, timestamp time.Time, body []byte) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(id))
	h.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Signer) Verify(id string, timestamp time.Time, body []byte, signature string) bool {
	expected := s.Sign(id, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
