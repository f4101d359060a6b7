package trust

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ocsp"
	"golang.org/x/sync/singleflight"
)

// OCSP defaults
const (
	DefaultOCSPTimeout  = 10 * time.Second
	DefaultOCSPCacheTTL = 1 * time.Hour

	maxOCSPResponseSize = 1 << 20
)

// ErrOCSPUnknown is returned when a responder does not know the certificate
var ErrOCSPUnknown = errors.New("OCSP responder does not know the certificate")

// Status is the revocation state reported by a responder
type Status int

const (
	StatusUnknown Status = iota
	StatusGood
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Answer is a responder's verdict on one certificate
type Answer struct {
	Status     Status
	RevokedAt  time.Time
	ThisUpdate time.Time
	// NextUpdate is zero when the responder gave no validity bound
	NextUpdate time.Time
}

// OCSPCache keeps answers per issuer and serial until the earlier of the
// cache TTL and the answer's NextUpdate. Concurrent lookups of the same
// certificate share one responder round trip.
type OCSPCache struct {
	mu      sync.Mutex
	answers map[string]cachedAnswer
	ttl     time.Duration
	clock   clockwork.Clock
	group   singleflight.Group
}

type cachedAnswer struct {
	answer  Answer
	expires time.Time
}

// NewOCSPCache creates an answer cache. A nil clock uses the real clock.
func NewOCSPCache(ttl time.Duration, clock clockwork.Clock) *OCSPCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OCSPCache{
		answers: make(map[string]cachedAnswer),
		ttl:     ttl,
		clock:   clock,
	}
}

// Lookup returns a cached, unexpired answer
func (c *OCSPCache) Lookup(cert *x509.Certificate) (Answer, bool) {
	if cert == nil {
		return Answer{}, false
	}
	key := answerKey(cert)

	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.answers[key]
	if !ok {
		return Answer{}, false
	}
	if !c.clock.Now().Before(cached.expires) {
		delete(c.answers, key)
		return Answer{}, false
	}
	return cached.answer, true
}

// Store caches a definitive answer. Unknown answers are not cached.
func (c *OCSPCache) Store(cert *x509.Certificate, a Answer) {
	if cert == nil || a.Status == StatusUnknown {
		return
	}

	now := c.clock.Now()
	expires := now.Add(c.ttl)
	if !a.NextUpdate.IsZero() && a.NextUpdate.Before(expires) {
		expires = a.NextUpdate
	}
	if !expires.After(now) {
		return
	}

	c.mu.Lock()
	c.answers[answerKey(cert)] = cachedAnswer{answer: a, expires: expires}
	c.mu.Unlock()
}

// Resolve returns the cached answer or calls query once for all concurrent
// callers asking about the same certificate, caching what it returns.
func (c *OCSPCache) Resolve(cert *x509.Certificate, query func() (Answer, error)) (Answer, error) {
	if a, ok := c.Lookup(cert); ok {
		return a, nil
	}
	v, err, _ := c.group.Do(answerKey(cert), func() (interface{}, error) {
		if a, ok := c.Lookup(cert); ok {
			return a, nil
		}
		a, err := query()
		if err != nil {
			return Answer{}, err
		}
		c.Store(cert, a)
		return a, nil
	})
	if err != nil {
		return Answer{}, err
	}
	return v.(Answer), nil
}

// Len returns the number of cached answers, expired ones included
func (c *OCSPCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.answers)
}

func answerKey(cert *x509.Certificate) string {
	issuer := hex.EncodeToString(cert.AuthorityKeyId)
	if issuer == "" {
		issuer = cert.Issuer.String()
	}
	return issuer + "/" + cert.SerialNumber.Text(16)
}

// QueryOCSP asks each of the certificate's responders in turn and returns
// the first definitive answer
func QueryOCSP(ctx context.Context, client *http.Client, cert, issuer *x509.Certificate) (Answer, error) {
	if len(cert.OCSPServer) == 0 {
		return Answer{}, fmt.Errorf("certificate %s names no OCSP responder", cert.Subject.CommonName)
	}
	if client == nil {
		client = http.DefaultClient
	}

	request, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return Answer{}, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	var errs []error
	for _, responder := range cert.OCSPServer {
		a, err := postOCSP(ctx, client, responder, request, cert, issuer)
		if err == nil {
			return a, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", responder, err))
	}
	return Answer{}, errors.Join(errs...)
}

func postOCSP(ctx context.Context, client *http.Client, responder string, request []byte, cert, issuer *x509.Certificate) (Answer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responder, bytes.NewReader(request))
	if err != nil {
		return Answer{}, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := client.Do(req)
	if err != nil {
		return Answer{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Answer{}, fmt.Errorf("responder returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOCSPResponseSize))
	if err != nil {
		return Answer{}, fmt.Errorf("read response: %w", err)
	}
	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return Answer{}, fmt.Errorf("parse response: %w", err)
	}

	a := Answer{ThisUpdate: parsed.ThisUpdate, NextUpdate: parsed.NextUpdate}
	switch parsed.Status {
	case ocsp.Good:
		a.Status = StatusGood
	case ocsp.Revoked:
		a.Status = StatusRevoked
		a.RevokedAt = parsed.RevokedAt
	default:
		return Answer{}, ErrOCSPUnknown
	}
	return a, nil
}
