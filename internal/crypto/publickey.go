package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"

	"github.com/kaonic/k1serial/internal/models"
)

const (
	// CurveName is the only curve accepted for factory keys.
	CurveName = "P-256"

	compressedPointLen   = 33
	uncompressedPointLen = 65
	pemPublicKeyType     = "PUBLIC KEY"
	pemPrivateKeyType    = "PRIVATE KEY"
)

// ParsePublicKey parses factory key material into a P-256 public key.
//
// Accepted encodings: PEM SubjectPublicKeyInfo, base64 SPKI DER (the PEM body
// without armor), and base64 or hex SEC1 points in compressed or uncompressed
// form. Anything else, including keys on other curves, is ErrInvalidKeyFormat.
func ParsePublicKey(material string) (*ecdsa.PublicKey, error) {
	s := strings.TrimSpace(material)
	if s == "" {
		return nil, fmt.Errorf("%w: empty key material", models.ErrInvalidKeyFormat)
	}

	if strings.HasPrefix(s, "-----BEGIN") {
		block, _ := pem.Decode([]byte(s))
		if block == nil || block.Type != pemPublicKeyType {
			return nil, fmt.Errorf("%w: malformed PEM block", models.ErrInvalidKeyFormat)
		}
		return parseSPKI(block.Bytes)
	}

	clean := stripWhitespace(s)
	if len(clean) == 2*compressedPointLen || len(clean) == 2*uncompressedPointLen {
		if raw, err := hex.DecodeString(clean); err == nil {
			return parsePoint(raw)
		}
	}

	raw, err := decodeBase64(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", models.ErrInvalidKeyFormat)
	}
	if isSEC1Point(raw) {
		return parsePoint(raw)
	}
	return parseSPKI(raw)
}

// CanonicalPublicKey returns the storage form of a key: base64 SPKI DER.
func CanonicalPublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// NormalizePublicKey parses key material in any accepted encoding and returns
// its canonical form, so one key always maps to one registry row.
func NormalizePublicKey(material string) (string, error) {
	pub, err := ParsePublicKey(material)
	if err != nil {
		return "", err
	}
	return CanonicalPublicKey(pub)
}

// GenerateKeyPair creates a new P-256 signing key for a factory.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate P-256 key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes a private key as PKCS#8 PEM.
func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPrivateKeyType, Bytes: der}), nil
}

// EncodePublicKeyPEM encodes a public key as SubjectPublicKeyInfo PEM.
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKeyType, Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PKCS#8 or SEC1 PEM private key on P-256.
func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case pemPrivateKeyType:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#8 key: %w", err)
		}
		ec, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not an EC key")
		}
		key = ec
	case "EC PRIVATE KEY":
		parsed, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse EC key: %w", err)
		}
		key = parsed
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}

	if key.Curve.Params().Name != CurveName {
		return nil, fmt.Errorf("private key must use %s", CurveName)
	}
	return key, nil
}

func parseSPKI(der []byte) (*ecdsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidKeyFormat, err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an EC key", models.ErrInvalidKeyFormat)
	}
	if pub.Curve.Params().Name != CurveName {
		return nil, fmt.Errorf("%w: key must use %s", models.ErrInvalidKeyFormat, CurveName)
	}
	return pub, nil
}

func parsePoint(raw []byte) (*ecdsa.PublicKey, error) {
	uncompressed := raw
	if len(raw) == compressedPointLen {
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw)
		if x == nil {
			return nil, fmt.Errorf("%w: invalid compressed point", models.ErrInvalidKeyFormat)
		}
		uncompressed = make([]byte, uncompressedPointLen)
		uncompressed[0] = 0x04
		x.FillBytes(uncompressed[1:33])
		y.FillBytes(uncompressed[33:])
	}

	// ecdh rejects points that are not on the curve.
	if _, err := ecdh.P256().NewPublicKey(uncompressed); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidKeyFormat, err)
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(uncompressed[1:33]),
		Y:     new(big.Int).SetBytes(uncompressed[33:]),
	}, nil
}

func isSEC1Point(raw []byte) bool {
	switch len(raw) {
	case compressedPointLen:
		return raw[0] == 0x02 || raw[0] == 0x03
	case uncompressedPointLen:
		return raw[0] == 0x04
	}
	return false
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}
