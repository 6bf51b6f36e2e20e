package rotator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deepworx/accessgate/pkg/keycell"
)

// CertsPath is the broker path publishing the signing certificates.
const CertsPath = "/cdn-cgi/access/certs"

// DefaultHTTPTimeout bounds one certs request when no timeout is given.
const DefaultHTTPTimeout = 10 * time.Second

const maxCertsBodySize = 1 << 20

// Fetcher obtains the current verification key from the broker.
type Fetcher interface {
	Fetch(ctx context.Context) (keycell.VerificationKey, error)
}

// FetcherFunc allows simple functions to be used as Fetcher.
type FetcherFunc func(ctx context.Context) (keycell.VerificationKey, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context) (keycell.VerificationKey, error) {
	return f(ctx)
}

// CertsFetcher reads the broker's certs document and extracts public_cert.cert.
type CertsFetcher struct {
	url    string
	client *http.Client
}

// CertsURL returns the certs endpoint for a broker domain.
func CertsURL(domain string) string {
	return strings.TrimRight(domain, "/") + CertsPath
}

// NewCertsFetcher creates a fetcher for the given broker domain
// (e.g. "https://team.cloudflareaccess.com").
// Requests time out after timeout; DefaultHTTPTimeout is used if zero.
func NewCertsFetcher(domain string, timeout time.Duration) (*CertsFetcher, error) {
	if domain == "" {
		return nil, fmt.Errorf("create certs fetcher: %w", ErrDomainRequired)
	}
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}

	return &CertsFetcher{
		url: CertsURL(domain),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// URL returns the certs endpoint this fetcher reads.
func (f *CertsFetcher) URL() string {
	return f.url
}

type certsDocument struct {
	PublicCert *struct {
		Kid  string `json:"kid"`
		Cert string `json:"cert"`
	} `json:"public_cert"`
}

// Fetch implements Fetcher. Every error wraps ErrFetch.
func (f *CertsFetcher) Fetch(ctx context.Context) (keycell.VerificationKey, error) {
	pemData, err := f.fetchCert(ctx)
	if err != nil {
		return keycell.VerificationKey{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	// Accepts CERTIFICATE, PUBLIC KEY and RSA PUBLIC KEY blocks.
	parsed, err := jwk.ParseKey([]byte(pemData), jwk.WithPEM(true))
	if err != nil {
		return keycell.VerificationKey{}, fmt.Errorf("%w: %w: %w", ErrFetch, ErrInvalidPEM, err)
	}

	key, err := keycell.FromJWK(parsed)
	if err != nil {
		return keycell.VerificationKey{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return key, nil
}

func (f *CertsFetcher) fetchCert(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", f.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("get %s: %w: %d", f.url, ErrUnexpectedStatus, resp.StatusCode)
	}

	var doc certsDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCertsBodySize)).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode certs response: %w", err)
	}
	if doc.PublicCert == nil || doc.PublicCert.Cert == "" {
		return "", ErrMissingCert
	}
	return doc.PublicCert.Cert, nil
}
