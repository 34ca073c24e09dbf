package auth

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// seenCapacity bounds the replay cache. Signatures older than MaxSkew are
// rejected by timestamp, so the cache only has to cover one skew window.
const seenCapacity = 4096

var (
	ErrMissingSignature = errors.New("missing signature headers")
	ErrStaleTimestamp   = errors.New("signature timestamp outside allowed skew")
	ErrBadSignature     = errors.New("signature does not verify")
	ErrReplayed         = errors.New("signature already used")
)

// Verifier checks request signatures against a public key.
type Verifier struct {
	PublicKey *rsa.PublicKey
	MaxSkew   time.Duration
	Now       func() time.Time // nil uses time.Now

	seenOnce sync.Once
	seen     *lru.Cache[string, struct{}]
}

// NewVerifier loads the public key at path.
func NewVerifier(publicKeyPath string, maxSkew time.Duration) (*Verifier, error) {
	key, err := LoadPublicKey(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	return &Verifier{PublicKey: key, MaxSkew: maxSkew}, nil
}

// Verify checks the signature headers of r against its method, path and
// body. It returns the key ID on success. Each signature is accepted once.
func (v *Verifier) Verify(r *http.Request, body []byte) (string, error) {
	keyID := r.Header.Get(HeaderKey)
	ts := r.Header.Get(HeaderTimestamp)
	sig := r.Header.Get(HeaderSignature)
	if keyID == "" || ts == "" || sig == "" {
		return "", ErrMissingSignature
	}

	timestampMs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad timestamp %q", ErrMissingSignature, ts)
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := now().Sub(time.UnixMilli(timestampMs))
	if skew < 0 {
		skew = -skew
	}
	if v.MaxSkew > 0 && skew > v.MaxSkew {
		return "", ErrStaleTimestamp
	}

	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	hashed := sha256.Sum256(signedMessage(timestampMs, r.Method, r.URL.Path, body))
	err = rsa.VerifyPSS(v.PublicKey, crypto.SHA256, hashed[:], raw,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return "", ErrBadSignature
	}

	v.seenOnce.Do(func() {
		v.seen, _ = lru.New[string, struct{}](seenCapacity)
	})
	if seen, _ := v.seen.ContainsOrAdd(sig, struct{}{}); seen {
		return "", ErrReplayed
	}
	return keyID, nil
}
