package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return key
}

func writePEM(t *testing.T, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestCredentials_SignRequest(t *testing.T) {
	creds := &Credentials{KeyID: "ops-key", PrivateKey: generateKey(t)}

	headers, err := creds.SignRequest("PUT", "/admin/degraded", []byte(`{"degraded":true}`))
	if err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	if headers[HeaderKey] != "ops-key" {
		t.Errorf("%s = %q, want %q", HeaderKey, headers[HeaderKey], "ops-key")
	}
	if headers[HeaderTimestamp] == "" {
		t.Errorf("%s is empty", HeaderTimestamp)
	}
	if _, err := base64.StdEncoding.DecodeString(headers[HeaderSignature]); err != nil {
		t.Errorf("%s is not valid base64: %v", HeaderSignature, err)
	}
}

func TestVerifier_RoundTrip(t *testing.T) {
	key := generateKey(t)
	creds := &Credentials{KeyID: "ops-key", PrivateKey: key}
	v := &Verifier{PublicKey: &key.PublicKey, MaxSkew: 30 * time.Second}

	body := []byte(`{"degraded":true}`)
	headers, err := creds.SignRequest("PUT", "/admin/degraded", body)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		want   error
	}{
		{"valid", "PUT", "/admin/degraded", body, nil},
		{"tampered body", "PUT", "/admin/degraded", []byte(`{"degraded":false}`), ErrBadSignature},
		{"other path", "PUT", "/admin/other", body, ErrBadSignature},
		{"other method", "POST", "/admin/degraded", body, ErrBadSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			for k, val := range headers {
				r.Header.Set(k, val)
			}
			keyID, err := v.Verify(r, tt.body)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.want)
			}
			if tt.want == nil && keyID != "ops-key" {
				t.Errorf("keyID = %q, want ops-key", keyID)
			}
		})
	}
}

func TestVerifier_RejectsReplay(t *testing.T) {
	key := generateKey(t)
	creds := &Credentials{KeyID: "ops-key", PrivateKey: key}
	v := &Verifier{PublicKey: &key.PublicKey, MaxSkew: 30 * time.Second}

	body := []byte(`{"degraded":true}`)
	verify := func(headers map[string]string) error {
		r := httptest.NewRequest("PUT", "/admin/degraded", nil)
		for k, val := range headers {
			r.Header.Set(k, val)
		}
		_, err := v.Verify(r, body)
		return err
	}

	headers, err := creds.SignRequest("PUT", "/admin/degraded", body)
	if err != nil {
		t.Fatal(err)
	}
	if err := verify(headers); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	if err := verify(headers); !errors.Is(err, ErrReplayed) {
		t.Errorf("replayed Verify() error = %v, want ErrReplayed", err)
	}

	// A fresh signature over the same request is not a replay.
	fresh, err := creds.SignRequest("PUT", "/admin/degraded", body)
	if err != nil {
		t.Fatal(err)
	}
	if err := verify(fresh); err != nil {
		t.Errorf("fresh Verify() error = %v", err)
	}
}

func TestVerifier_StaleTimestamp(t *testing.T) {
	key := generateKey(t)
	creds := &Credentials{KeyID: "ops-key", PrivateKey: key}
	v := &Verifier{
		PublicKey: &key.PublicKey,
		MaxSkew:   30 * time.Second,
		Now:       func() time.Time { return time.Now().Add(time.Minute) },
	}

	headers, _ := creds.SignRequest("GET", "/admin/degraded", nil)
	r := httptest.NewRequest("GET", "/admin/degraded", nil)
	for k, val := range headers {
		r.Header.Set(k, val)
	}

	if _, err := v.Verify(r, nil); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("Verify() error = %v, want ErrStaleTimestamp", err)
	}
}

func TestVerifier_MissingHeaders(t *testing.T) {
	key := generateKey(t)
	v := &Verifier{PublicKey: &key.PublicKey}

	r := httptest.NewRequest("GET", "/admin/degraded", nil)
	if _, err := v.Verify(r, nil); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("Verify() error = %v, want ErrMissingSignature", err)
	}
}

func TestVerifier_WrongKey(t *testing.T) {
	creds := &Credentials{KeyID: "ops-key", PrivateKey: generateKey(t)}
	other := generateKey(t)
	v := &Verifier{PublicKey: &other.PublicKey}

	headers, _ := creds.SignRequest("GET", "/admin/degraded", nil)
	r := httptest.NewRequest("GET", "/admin/degraded", nil)
	for k, val := range headers {
		r.Header.Set(k, val)
	}

	if _, err := v.Verify(r, nil); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify() error = %v, want ErrBadSignature", err)
	}
}

func TestLoadPrivateKey_PKCS8(t *testing.T) {
	privateKey := generateKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal PKCS#8: %v", err)
	}

	loaded, err := LoadPrivateKey(writePEM(t, "PRIVATE KEY", der))
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}
	if loaded.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_PKCS1(t *testing.T) {
	privateKey := generateKey(t)

	loaded, err := LoadPrivateKey(writePEM(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(privateKey)))
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}
	if loaded.N.Cmp(privateKey.N) != 0 {
		t.Error("loaded key does not match original")
	}
}

func TestLoadPrivateKey_Errors(t *testing.T) {
	if _, err := LoadPrivateKey("/nonexistent/path/to/key.pem"); err == nil {
		t.Error("expected error for nonexistent file")
	}

	path := filepath.Join(t.TempDir(), "invalid.pem")
	os.WriteFile(path, []byte("not a pem file"), 0600)
	if _, err := LoadPrivateKey(path); err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestLoadPublicKey(t *testing.T) {
	key := generateKey(t)

	pkix, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadPublicKey(writePEM(t, "PUBLIC KEY", pkix))
	if err != nil {
		t.Fatalf("LoadPublicKey(PKIX) failed: %v", err)
	}
	if loaded.N.Cmp(key.N) != 0 {
		t.Error("PKIX key does not match original")
	}

	loaded, err = LoadPublicKey(writePEM(t, "RSA PUBLIC KEY", x509.MarshalPKCS1PublicKey(&key.PublicKey)))
	if err != nil {
		t.Fatalf("LoadPublicKey(PKCS1) failed: %v", err)
	}
	if loaded.N.Cmp(key.N) != 0 {
		t.Error("PKCS#1 key does not match original")
	}
}

func TestLoadCredentials(t *testing.T) {
	der, _ := x509.MarshalPKCS8PrivateKey(generateKey(t))
	path := writePEM(t, "PRIVATE KEY", der)

	creds, err := LoadCredentials("my-key-id", path)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if creds.KeyID != "my-key-id" {
		t.Errorf("KeyID = %q, want %q", creds.KeyID, "my-key-id")
	}

	if _, err := LoadCredentials("", path); err == nil {
		t.Error("expected error for missing key ID")
	}
	if _, err := LoadCredentials("key-id", ""); err == nil {
		t.Error("expected error for missing path")
	}
}
