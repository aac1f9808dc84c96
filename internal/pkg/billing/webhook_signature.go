package billing

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

func VerifyPatreonWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	// Patreon docs describe HMAC-MD5 for X-Patreon-Signature.
	if verifyHMAC(payload, decodedSig, []byte(secret), md5.New) {
		return true
	}
	// Fallback for environments configured with SHA256.
	return verifyHMAC(payload, decodedSig, []byte(secret), sha256.New)
}

// SignPatreonPayload returns the hex HMAC-MD5 Patreon would send for payload.
func SignPatreonPayload(payload []byte, webhookSecret string) string {
	mac := hmac.New(md5.New, []byte(strings.TrimSpace(webhookSecret)))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
