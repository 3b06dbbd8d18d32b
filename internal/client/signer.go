package client

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kaonic/k1serial/internal/crypto"
)

// SignedHeaders are the authentication headers of one upload.
type SignedHeaders struct {
	FactoryID   string
	Timestamp   string
	Signature   string
	PayloadHash string
}

// Header returns the headers as an http.Header.
func (s SignedHeaders) Header() http.Header {
	h := make(http.Header)
	h.Set("X-Factory-ID", s.FactoryID)
	h.Set("X-Timestamp", s.Timestamp)
	h.Set("X-Signature", s.Signature)
	return h
}

// Signer signs payloads for one factory.
type Signer struct {
	factory string
	key     *ecdsa.PrivateKey
	now     func() time.Time
}

// NewSigner creates a signer for factory with key.
func NewSigner(factory string, key *ecdsa.PrivateKey) (*Signer, error) {
	factory = strings.TrimSpace(factory)
	if factory == "" {
		return nil, errors.New("factory name is required")
	}
	if key == nil {
		return nil, errors.New("private key is required")
	}
	return &Signer{factory: factory, key: key, now: time.Now}, nil
}

// LoadSigner reads a PEM private key from path.
func LoadSigner(factory, path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := crypto.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	return NewSigner(factory, key)
}

// PublicKey returns the canonical encoding of the signer's public key.
func (s *Signer) PublicKey() (string, error) {
	return crypto.CanonicalPublicKey(&s.key.PublicKey)
}

// Sign signs the exact payload bytes with the current time.
func (s *Signer) Sign(payload []byte) (SignedHeaders, error) {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	hash := crypto.ComputeFileHash(payload)
	sig, err := crypto.SignECDSA(s.key, crypto.SignatureMessage(ts, hash))
	if err != nil {
		return SignedHeaders{}, fmt.Errorf("sign payload: %w", err)
	}
	return SignedHeaders{FactoryID: s.factory, Timestamp: ts, Signature: sig, PayloadHash: hash}, nil
}
