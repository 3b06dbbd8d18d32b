package crypto

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	// StrategyECDSA names the asymmetric P-256/SHA-256 scheme.
	StrategyECDSA = "ecdsa"
	// StrategyHMAC names the legacy shared-secret HMAC-SHA256 scheme.
	StrategyHMAC = "hmac"

	rawSignatureLen = 64
)

// ComputeFileHash returns the hex SHA-256 of the exact uploaded bytes.
func ComputeFileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// SignatureMessage builds the signed message: timestamp string followed by the
// hex payload hash, with no separator.
func SignatureMessage(timestamp, payloadHash string) []byte {
	return []byte(timestamp + payloadHash)
}

// VerifyFunc checks a base64 signature over message. It never panics or errors;
// a failure carries a short reason.
type VerifyFunc func(message []byte, signatureB64 string) (valid bool, reason string)

// Strategy is one named verification scheme.
type Strategy struct {
	Name   string
	Verify VerifyFunc
}

// ECDSAStrategy verifies against an approved factory public key.
func ECDSAStrategy(pub *ecdsa.PublicKey) Strategy {
	return Strategy{
		Name: StrategyECDSA,
		Verify: func(message []byte, signatureB64 string) (bool, string) {
			return VerifyECDSA(pub, message, signatureB64)
		},
	}
}

// HMACStrategy verifies against the pre-shared legacy secret.
func HMACStrategy(secret []byte) Strategy {
	return Strategy{
		Name: StrategyHMAC,
		Verify: func(message []byte, signatureB64 string) (bool, string) {
			return VerifyHMAC(secret, message, signatureB64)
		},
	}
}

// Verification is the outcome of running an ordered strategy list.
type Verification struct {
	Valid    bool
	Strategy string
	// Reasons holds one failure reason per strategy tried, keyed by name.
	Reasons map[string]string
}

// Reason summarizes why verification failed.
func (v Verification) Reason() string {
	if v.Valid || len(v.Reasons) == 0 {
		return ""
	}
	parts := make([]string, 0, len(v.Reasons))
	for name, reason := range v.Reasons {
		parts = append(parts, name+": "+reason)
	}
	return strings.Join(parts, "; ")
}

// Verify tries strategies in order and stops at the first that accepts.
func Verify(message []byte, signatureB64 string, strategies ...Strategy) Verification {
	result := Verification{Reasons: make(map[string]string, len(strategies))}
	for _, s := range strategies {
		ok, reason := s.Verify(message, signatureB64)
		if ok {
			result.Valid = true
			result.Strategy = s.Name
			result.Reasons = nil
			return result
		}
		result.Reasons[s.Name] = reason
	}
	return result
}

// VerifyECDSA checks a P-256 signature over SHA-256(message). The signature may
// be ASN.1 DER or raw r||s (64 bytes), base64 encoded.
func VerifyECDSA(pub *ecdsa.PublicKey, message []byte, signatureB64 string) (bool, string) {
	if pub == nil || pub.Curve == nil || pub.Curve.Params().Name != CurveName {
		return false, "public key is not a " + CurveName + " key"
	}

	sig, err := decodeBase64(strings.TrimSpace(signatureB64))
	if err != nil || len(sig) == 0 {
		return false, "malformed signature encoding"
	}

	digest := sha256.Sum256(message)

	// A DER signature with short r and s can also be 64 bytes long.
	if len(sig) == rawSignatureLen {
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		if ecdsa.Verify(pub, digest[:], r, s) {
			return true, ""
		}
	}

	if ecdsa.VerifyASN1(pub, digest[:], sig) {
		return true, ""
	}
	return false, "invalid signature"
}

// VerifyHMAC checks an HMAC-SHA256 tag in constant time.
func VerifyHMAC(secret, message []byte, signatureB64 string) (bool, string) {
	if len(secret) == 0 {
		return false, "legacy secret not configured"
	}

	received, err := decodeBase64(strings.TrimSpace(signatureB64))
	if err != nil {
		return false, "malformed signature encoding"
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	if !hmac.Equal(mac.Sum(nil), received) {
		return false, "signature mismatch"
	}
	return true, ""
}

// SignECDSA signs SHA-256(message) and returns the base64 ASN.1 signature.
func SignECDSA(key *ecdsa.PrivateKey, message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignHMAC returns the base64 HMAC-SHA256 tag of message.
func SignHMAC(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
