package keycell

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

func TestNewVerificationKey(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}

	tests := []struct {
		name    string
		pub     any
		wantErr error
	}{
		{
			name: "rsa public key",
			pub:  &rsaKey.PublicKey,
		},
		{
			name:    "nil key",
			pub:     nil,
			wantErr: ErrNilKey,
		},
		{
			name:    "ecdsa key rejected",
			pub:     &ecKey.PublicKey,
			wantErr: ErrUnsupportedKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			key, err := NewVerificationKey(tt.pub)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewVerificationKey() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewVerificationKey() error = %v", err)
			}
			if key.Key() == nil {
				t.Error("Key() returned nil")
			}
			if key.Algorithm().String() != "RS256" {
				t.Errorf("Algorithm() = %v, want RS256", key.Algorithm())
			}
			if key.Thumbprint() == "" {
				t.Error("Thumbprint() is empty")
			}
		})
	}
}

func TestFromJWK(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}

	importKey := func(raw any) jwk.Key {
		t.Helper()
		k, err := jwk.Import(raw)
		if err != nil {
			t.Fatalf("jwk.Import(%T) error = %v", raw, err)
		}
		return k
	}

	want, err := NewVerificationKey(&rsaKey.PublicKey)
	if err != nil {
		t.Fatalf("NewVerificationKey() error = %v", err)
	}

	tests := []struct {
		name    string
		key     jwk.Key
		wantErr error
	}{
		{
			name: "rsa public key",
			key:  importKey(&rsaKey.PublicKey),
		},
		{
			name:    "nil key",
			key:     nil,
			wantErr: ErrNilKey,
		},
		{
			name:    "ecdsa public key rejected",
			key:     importKey(&ecKey.PublicKey),
			wantErr: ErrUnsupportedKey,
		},
		{
			name:    "rsa private key rejected",
			key:     importKey(rsaKey),
			wantErr: ErrUnsupportedKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FromJWK(tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("FromJWK() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromJWK() error = %v", err)
			}
			if got.Thumbprint() != want.Thumbprint() {
				t.Errorf("Thumbprint() = %q, want %q", got.Thumbprint(), want.Thumbprint())
			}
			if alg, ok := got.Key().Algorithm(); !ok || alg.String() != "RS256" {
				t.Errorf("Key().Algorithm() = %v, %v, want RS256", alg, ok)
			}
			if _, ok := tt.key.Algorithm(); ok {
				t.Error("FromJWK() must not modify the input key")
			}
		})
	}
}

func TestCell_EmptyIsUnavailable(t *testing.T) {
	t.Parallel()

	cell := New(DefaultOptions())

	if _, err := cell.Get(); !errors.Is(err, ErrKeyUnavailable) {
		t.Errorf("Get() error = %v, want %v", err, ErrKeyUnavailable)
	}
	if cell.Peek() != nil {
		t.Error("Peek() on empty cell should return nil")
	}
}

func TestCell_Expiry(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	fetchedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		window  time.Duration
		age     time.Duration
		wantErr error
	}{
		{
			name:   "fresh record",
			window: DefaultValidityWindow,
			age:    time.Hour,
		},
		{
			name:   "just before window",
			window: DefaultValidityWindow,
			age:    DefaultValidityWindow - time.Nanosecond,
		},
		{
			name:    "exactly at window",
			window:  DefaultValidityWindow,
			age:     DefaultValidityWindow,
			wantErr: ErrKeyUnavailable,
		},
		{
			name:    "past window",
			window:  DefaultValidityWindow,
			age:     DefaultValidityWindow + time.Hour,
			wantErr: ErrKeyUnavailable,
		},
		{
			name:   "zero window never expires",
			window: 0,
			age:    365 * 24 * time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			now := fetchedAt.Add(tt.age)
			cell := New(Options{
				ValidityWindow: tt.window,
				Now:            func() time.Time { return now },
			})
			rec := NewRecord(key, fetchedAt)
			cell.Set(rec)

			got, err := cell.Get()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Get() error = %v, want %v", err, tt.wantErr)
				}
				if cell.Peek() != rec {
					t.Error("Peek() should still return the stale record")
				}
				return
			}
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got != rec {
				t.Errorf("Get() = %p, want %p", got, rec)
			}
		})
	}
}

func TestCell_SetReplacesRecord(t *testing.T) {
	t.Parallel()

	cell := New(DefaultOptions())
	first := NewRecord(testKey(t), time.Now())
	second := NewRecord(testKey(t), time.Now())

	cell.Set(first)
	cell.Set(second)

	got, err := cell.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != second {
		t.Error("Get() should return the most recently set record")
	}

	cell.Set(nil)
	if cell.Peek() != second {
		t.Error("Set(nil) should not clear the stored record")
	}
}

func TestCell_StaleRecordRefreshed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	cell := New(Options{ValidityWindow: time.Hour, Now: clock})
	cell.Set(NewRecord(testKey(t), clock()))

	advance(2 * time.Hour)
	if _, err := cell.Get(); !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("Get() on stale record error = %v, want %v", err, ErrKeyUnavailable)
	}

	cell.Set(NewRecord(testKey(t), clock()))
	if _, err := cell.Get(); err != nil {
		t.Errorf("Get() after refresh error = %v", err)
	}
}

func TestCell_ConcurrentReadersSeeWholeRecords(t *testing.T) {
	t.Parallel()

	keys := []VerificationKey{testKey(t), testKey(t)}
	stamps := []time.Time{
		time.Now().Add(-time.Minute),
		time.Now(),
	}
	want := map[string]time.Time{
		keys[0].Thumbprint(): stamps[0],
		keys[1].Thumbprint(): stamps[1],
	}

	cell := New(Options{})
	cell.Set(NewRecord(keys[0], stamps[0]))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			cell.Set(NewRecord(keys[i%2], stamps[i%2]))
		}
	}()

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 2000 {
				rec, err := cell.Get()
				if err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
				if !want[rec.Key.Thumbprint()].Equal(rec.FetchedAt) {
					t.Errorf("record pairs key %s with mismatched timestamp %v", rec.Key.Thumbprint(), rec.FetchedAt)
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()
}

func TestHealthChecker(t *testing.T) {
	t.Parallel()

	cell := New(DefaultOptions())
	checker := NewHealthChecker(cell)

	if checker.Check(context.Background()) {
		t.Error("Check() on empty cell should be false")
	}

	cell.Set(NewRecord(testKey(t), time.Now()))
	if !checker.Check(context.Background()) {
		t.Error("Check() with fresh key should be true")
	}
}

func testKey(t *testing.T) VerificationKey {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	key, err := NewVerificationKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("NewVerificationKey() error = %v", err)
	}
	return key
}
