package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

const signedValueSep = ":"

// SignatureStatus is the outcome of verifying a signed value.
type SignatureStatus int

const (
	SignatureInvalid SignatureStatus = iota
	SignatureExpired
	SignatureValid
)

func (s SignatureStatus) String() string {
	switch s {
	case SignatureValid:
		return "valid"
	case SignatureExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Signer produces "value:timestamp:signature" strings where the signature is
// HMAC-SHA256 over value and timestamp under a key derived from secret and salt.
// Values must not contain ':'.
type Signer struct {
	secret []byte
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

func (s *Signer) Sign(value, salt string, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 36)
	payload := value + signedValueSep + ts
	return payload + signedValueSep + s.signature(salt, payload)
}

// Unsign verifies a signed value. Values signed more than maxAge before now are expired;
// maxAge <= 0 disables the age check.
func (s *Signer) Unsign(signed, salt string, maxAge time.Duration, now time.Time) (string, SignatureStatus) {
	sigIdx := strings.LastIndex(signed, signedValueSep)
	if sigIdx <= 0 {
		return "", SignatureInvalid
	}
	payload, sig := signed[:sigIdx], signed[sigIdx+1:]

	expected := s.signature(salt, payload)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", SignatureInvalid
	}

	tsIdx := strings.LastIndex(payload, signedValueSep)
	if tsIdx < 0 {
		return "", SignatureInvalid
	}
	value, rawTS := payload[:tsIdx], payload[tsIdx+1:]

	ts, err := strconv.ParseInt(rawTS, 36, 64)
	if err != nil {
		return "", SignatureInvalid
	}
	if maxAge > 0 && now.Sub(time.Unix(ts, 0)) > maxAge {
		return "", SignatureExpired
	}
	return value, SignatureValid
}

func (s *Signer) signature(salt, payload string) string {
	keyHash := sha256.Sum256([]byte(salt + "signer" + string(s.secret)))
	mac := hmac.New(sha256.New, keyHash[:])
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
