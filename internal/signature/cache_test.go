package signature_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/cpe-emitter/internal/observability"
	"github.com/rezonia/cpe-emitter/internal/signature"
	"github.com/rezonia/cpe-emitter/internal/signature/signaturetest"
)

type countingLoader struct {
	calls atomic.Int32
	pair  *signature.KeyPair
}

func (l *countingLoader) load(path, pass string) (*signature.KeyPair, error) {
	l.calls.Add(1)
	if pass != passphrase {
		return nil, signature.ErrBadPassphrase(nil)
	}
	return l.pair, nil
}

func TestCertificateCache_ExpiresAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	loader := &countingLoader{pair: signaturetest.SelfSigned(t, "20123456789")}
	cache := signature.NewCertificateCache(
		signature.WithCacheTTL(10*time.Minute),
		signature.WithCacheClock(clock),
		signature.WithLoader(loader.load),
	)

	first, err := cache.Get("/certs/acme.p12", passphrase)
	require.NoError(t, err)
	second, err := cache.Get("/certs/acme.p12", passphrase)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), loader.calls.Load())

	clock.Advance(9 * time.Minute)
	_, err = cache.Get("/certs/acme.p12", passphrase)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.calls.Load())

	clock.Advance(2 * time.Minute)
	_, err = cache.Get("/certs/acme.p12", passphrase)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load(), "expired entry must be reloaded")
}

func TestCertificateCache_PassphraseChangeReloads(t *testing.T) {
	loader := &countingLoader{pair: signaturetest.SelfSigned(t, "20123456789")}
	cache := signature.NewCertificateCache(signature.WithLoader(loader.load))

	_, err := cache.Get("/certs/acme.p12", passphrase)
	require.NoError(t, err)

	_, err = cache.Get("/certs/acme.p12", "wrong")
	require.Error(t, err)
	var sigErr *signature.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, signature.ErrCodeBadPassphrase, sigErr.Code)
	assert.Equal(t, int32(2), loader.calls.Load())

	// The good entry survives a failed load
	assert.Equal(t, 1, cache.Size())
	_, err = cache.Get("/certs/acme.p12", passphrase)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCertificateCache_InvalidateAndPurge(t *testing.T) {
	loader := &countingLoader{pair: signaturetest.SelfSigned(t, "20123456789")}
	cache := signature.NewCertificateCache(signature.WithLoader(loader.load))

	for _, path := range []string{"/certs/a.p12", "/certs/b.p12"} {
		_, err := cache.Get(path, passphrase)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cache.Size())

	cache.Invalidate("/certs/a.p12")
	assert.Equal(t, 1, cache.Size())

	_, err := cache.Get("/certs/a.p12", passphrase)
	require.NoError(t, err)
	assert.Equal(t, int32(3), loader.calls.Load())

	cache.Purge()
	assert.Equal(t, 0, cache.Size())
}

func TestCertificateCache_ConcurrentGet(t *testing.T) {
	gate := make(chan struct{})
	loader := &countingLoader{pair: signaturetest.SelfSigned(t, "20123456789")}
	cache := signature.NewCertificateCache(signature.WithLoader(func(path, pass string) (*signature.KeyPair, error) {
		<-gate
		return loader.load(path, pass)
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get("/certs/acme.p12", passphrase)
			errs <- err
		}()
	}
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, cache.Size())
	assert.LessOrEqual(t, loader.calls.Load(), int32(16))
}

func TestCertificateCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg, observability.MetricsConfig{ServiceName: "cpe-emitter", Environment: "test"})
	loader := &countingLoader{pair: signaturetest.SelfSigned(t, "20123456789")}
	cache := signature.NewCertificateCache(
		signature.WithLoader(loader.load),
		signature.WithCacheMetrics(metrics),
	)

	_, _ = cache.Get("/certs/acme.p12", passphrase)
	_, _ = cache.Get("/certs/acme.p12", passphrase)
	_, _ = cache.Get("/certs/other.p12", "wrong")

	assert.Equal(t, map[string]float64{
		observability.CacheMiss:  1,
		observability.CacheHit:   1,
		observability.CacheError: 1,
	}, cacheResults(t, reg))
}

func cacheResults(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != "cpe_certificate_cache_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" {
					out[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	return out
}
