package rotator

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deepworx/accessgate/pkg/keycell"
)

func TestCertsURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		domain string
		want   string
	}{
		{"https://team.cloudflareaccess.com", "https://team.cloudflareaccess.com/cdn-cgi/access/certs"},
		{"https://team.cloudflareaccess.com/", "https://team.cloudflareaccess.com/cdn-cgi/access/certs"},
		{"http://127.0.0.1:9000", "http://127.0.0.1:9000/cdn-cgi/access/certs"},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			t.Parallel()
			if got := CertsURL(tt.domain); got != tt.want {
				t.Errorf("CertsURL(%q) = %q, want %q", tt.domain, got, tt.want)
			}
		})
	}
}

func TestNewCertsFetcher_DomainRequired(t *testing.T) {
	t.Parallel()

	_, err := NewCertsFetcher("", time.Second)
	if !errors.Is(err, ErrDomainRequired) {
		t.Errorf("NewCertsFetcher() error = %v, want %v", err, ErrDomainRequired)
	}
}

func TestCertsFetcher_Fetch(t *testing.T) {
	t.Parallel()

	priv := generateRSAKey(t)
	wantKey, err := keycell.NewVerificationKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("NewVerificationKey() error = %v", err)
	}

	pkixDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicKeyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkixDER}))
	pkcs1PEM := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)}))

	pkcs8DER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8DER}))

	ecPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}

	tests := []struct {
		name    string
		status  int
		body    any
		wantErr error
	}{
		{
			name:   "certificate PEM",
			status: http.StatusOK,
			body:   certsBody(selfSignedCertPEM(t, priv)),
		},
		{
			name:   "public key PEM",
			status: http.StatusOK,
			body:   certsBody(publicKeyPEM),
		},
		{
			name:   "pkcs1 public key PEM",
			status: http.StatusOK,
			body:   certsBody(pkcs1PEM),
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    map[string]any{},
			wantErr: ErrUnexpectedStatus,
		},
		{
			name:    "missing public_cert",
			status:  http.StatusOK,
			body:    map[string]any{"keys": []any{}},
			wantErr: ErrMissingCert,
		},
		{
			name:    "empty cert field",
			status:  http.StatusOK,
			body:    certsBody(""),
			wantErr: ErrMissingCert,
		},
		{
			name:    "not PEM",
			status:  http.StatusOK,
			body:    certsBody("not a certificate"),
			wantErr: ErrInvalidPEM,
		},
		{
			name:    "undecodable key block",
			status:  http.StatusOK,
			body:    certsBody(string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}}))),
			wantErr: ErrInvalidPEM,
		},
		{
			name:    "rsa private key",
			status:  http.StatusOK,
			body:    certsBody(privateKeyPEM),
			wantErr: keycell.ErrUnsupportedKey,
		},
		{
			name:    "non-RSA certificate",
			status:  http.StatusOK,
			body:    certsBody(selfSignedCertPEM(t, ecPriv)),
			wantErr: keycell.ErrUnsupportedKey,
		},
		{
			name:    "malformed json",
			status:  http.StatusOK,
			body:    "{",
			wantErr: ErrFetch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != CertsPath {
					t.Errorf("request path = %q, want %q", r.URL.Path, CertsPath)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				if s, ok := tt.body.(string); ok {
					_, _ = w.Write([]byte(s))
					return
				}
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			t.Cleanup(srv.Close)

			f, err := NewCertsFetcher(srv.URL, time.Second)
			if err != nil {
				t.Fatalf("NewCertsFetcher() error = %v", err)
			}

			key, err := f.Fetch(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, ErrFetch) {
					t.Errorf("Fetch() error = %v, want wrapping %v", err, ErrFetch)
				}
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Fetch() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if key.Thumbprint() != wantKey.Thumbprint() {
				t.Errorf("Thumbprint() = %q, want %q", key.Thumbprint(), wantKey.Thumbprint())
			}
		})
	}
}

func TestCertsFetcher_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f, err := NewCertsFetcher(url, time.Second)
	if err != nil {
		t.Fatalf("NewCertsFetcher() error = %v", err)
	}
	if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrFetch) {
		t.Errorf("Fetch() error = %v, want %v", err, ErrFetch)
	}
}

// Test helpers

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return priv
}

func certsBody(cert string) map[string]any {
	return map[string]any{
		"keys": []any{},
		"public_cert": map[string]any{
			"kid":  "test-key-id",
			"cert": cert,
		},
		"public_certs": []any{},
	}
}

func selfSignedCertPEM(t *testing.T, priv crypto.Signer) string {
	t.Helper()

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "access.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, priv.Public(), priv)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}
