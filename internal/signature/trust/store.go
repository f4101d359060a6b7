package trust

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// TrustStore holds the anchors a signer must chain to, the intermediates
// shipped alongside them, and revocation checking
type TrustStore struct {
	roots         *x509.CertPool
	intermediates *x509.CertPool
	seen          map[string]bool
	rootCount     int
	interCount    int
	ocspCache     *OCSPCache
	ocspTTL       time.Duration
	ocspTimeout   time.Duration
	ocspClient    *http.Client
	softFail      bool
	clock         clockwork.Clock
}

// TrustStoreOption configures a TrustStore
type TrustStoreOption func(*TrustStore)

// WithSoftFail makes an unreachable OCSP responder count as not revoked
func WithSoftFail(enabled bool) TrustStoreOption {
	return func(s *TrustStore) { s.softFail = enabled }
}

// WithOCSPTimeout bounds each responder round trip
func WithOCSPTimeout(d time.Duration) TrustStoreOption {
	return func(s *TrustStore) { s.ocspTimeout = d }
}

// WithOCSPCacheTTL bounds how long an OCSP answer is reused
func WithOCSPCacheTTL(d time.Duration) TrustStoreOption {
	return func(s *TrustStore) { s.ocspTTL = d }
}

func WithOCSPClient(c *http.Client) TrustStoreOption {
	return func(s *TrustStore) { s.ocspClient = c }
}

// WithClock sets the clock used for chain validity and cache expiry
func WithClock(clock clockwork.Clock) TrustStoreOption {
	return func(s *TrustStore) { s.clock = clock }
}

// NewTrustStore creates an empty trust store
func NewTrustStore(opts ...TrustStoreOption) *TrustStore {
	s := &TrustStore{
		roots:         x509.NewCertPool(),
		intermediates: x509.NewCertPool(),
		seen:          make(map[string]bool),
		ocspTTL:       DefaultOCSPCacheTTL,
		ocspTimeout:   DefaultOCSPTimeout,
		ocspClient:    http.DefaultClient,
		clock:         clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ocspCache = NewOCSPCache(s.ocspTTL, s.clock)
	return s
}

// LoadTrustStore reads certificates from path, which is either a bundle file
// or a directory of .pem, .crt and .cer files. Self-signed certificates become
// anchors and the rest intermediates.
func LoadTrustStore(path string, opts ...TrustStoreOption) (*TrustStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust roots: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files = files[:0]
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isCertFile(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan trust roots: %w", err)
		}
	}

	s := NewTrustStore(opts...)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read trust roots: %w", err)
		}
		if _, err := s.AddBundle(data); err != nil {
			return nil, fmt.Errorf("trust roots %s: %w", f, err)
		}
	}
	if s.rootCount == 0 {
		return nil, fmt.Errorf("trust roots %s: no self-signed anchor found", path)
	}
	return s, nil
}

func isCertFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pem", ".crt", ".cer":
		return true
	}
	return false
}

// AddCertificate trusts cert as an anchor
func (s *TrustStore) AddCertificate(cert *x509.Certificate) {
	if cert == nil || s.seen[string(cert.Raw)] {
		return
	}
	s.seen[string(cert.Raw)] = true
	s.roots.AddCert(cert)
	s.rootCount++
}

func (s *TrustStore) addIntermediate(cert *x509.Certificate) {
	if s.seen[string(cert.Raw)] {
		return
	}
	s.seen[string(cert.Raw)] = true
	s.intermediates.AddCert(cert)
	s.interCount++
}

// AddBundle adds every certificate in data, which is PEM or a single DER
// certificate, and returns how many it found
func (s *TrustStore) AddBundle(data []byte) (int, error) {
	certs, err := parseBundle(data)
	if err != nil {
		return 0, err
	}
	for _, cert := range certs {
		if selfSigned(cert) {
			s.AddCertificate(cert)
		} else {
			s.addIntermediate(cert)
		}
	}
	return len(certs), nil
}

func parseBundle(data []byte) ([]*x509.Certificate, error) {
	if !bytes.Contains(data, []byte("-----BEGIN")) {
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, fmt.Errorf("no certificates found: %w", err)
		}
		return []*x509.Certificate{cert}, nil
	}

	var certs []*x509.Certificate
	for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", len(certs)+1, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in PEM data")
	}
	return certs, nil
}

func selfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawSubject, cert.RawIssuer) && cert.CheckSignatureFrom(cert) == nil
}

// Len returns the number of anchors and intermediates held
func (s *TrustStore) Len() (roots, intermediates int) {
	return s.rootCount, s.interCount
}

// IsSoftFail reports whether OCSP failures are tolerated
func (s *TrustStore) IsSoftFail() bool {
	return s.softFail
}

// VerifyChain builds a chain from cert to an anchor at the store clock's time.
// extra intermediates are used alongside the store's own.
func (s *TrustStore) VerifyChain(cert *x509.Certificate, extra []*x509.Certificate) ([]*x509.Certificate, error) {
	if cert == nil {
		return nil, errors.New("certificate is nil")
	}

	pool := s.intermediates
	if len(extra) > 0 {
		pool = s.intermediates.Clone()
		for _, c := range extra {
			pool.AddCert(c)
		}
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: pool,
		CurrentTime:   s.clock.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("chain verification failed: %w", err)
	}
	return chains[0], nil
}

// CheckRevocation reports whether cert is not revoked. A certificate naming
// no responder counts as not revoked. In soft-fail mode an unreachable or
// unknowing responder yields true together with the error.
func (s *TrustStore) CheckRevocation(ctx context.Context, cert *x509.Certificate, issuer *x509.Certificate) (bool, error) {
	if cert == nil || issuer == nil {
		return false, fmt.Errorf("certificate or issuer is nil")
	}
	if len(cert.OCSPServer) == 0 {
		return true, nil
	}

	a, err := s.ocspCache.Resolve(cert, func() (Answer, error) {
		ctx, cancel := context.WithTimeout(ctx, s.ocspTimeout)
		defer cancel()
		return QueryOCSP(ctx, s.ocspClient, cert, issuer)
	})
	if err != nil {
		if s.softFail {
			return true, fmt.Errorf("OCSP check failed (soft-fail enabled): %w", err)
		}
		return false, fmt.Errorf("OCSP check failed: %w", err)
	}
	if a.Status == StatusRevoked {
		return false, nil
	}
	return true, nil
}
