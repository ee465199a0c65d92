package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const signaturePrefix = "sha256="

// HMACSigner computes an HMAC-SHA256 tag over the raw delivery body. The
// same body and secret always yield the same tag so partners and operators
// can re-verify deliveries out of band.
type HMACSigner struct{}

func (HMACSigner) Sign(body []byte, secret string) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", fmt.Errorf("core: signing secret is required")
	}
	if len(body) == 0 {
		return "", fmt.Errorf("core: signing payload is required")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil)), nil
}

func (s HMACSigner) Verify(body []byte, secret string, tag string) error {
	expected, err := s.Sign(body, secret)
	if err != nil {
		return err
	}
	actual := strings.TrimSpace(tag)
	if actual == "" {
		return fmt.Errorf("core: signature tag is required")
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(actual, signaturePrefix))
	if err != nil {
		return fmt.Errorf("core: decode hex signature: %w", err)
	}
	expectedRaw, _ := hex.DecodeString(strings.TrimPrefix(expected, signaturePrefix))
	if subtle.ConstantTimeCompare(decoded, expectedRaw) != 1 {
		return fmt.Errorf("core: signature verification failed")
	}
	return nil
}

var _ PayloadSigner = HMACSigner{}
