package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/cdr"
	"github.com/rezonia/cpe-emitter/internal/config"
	"github.com/rezonia/cpe-emitter/internal/lifecycle"
	"github.com/rezonia/cpe-emitter/internal/observability"
	"github.com/rezonia/cpe-emitter/internal/signature"
	"github.com/rezonia/cpe-emitter/internal/signature/trust"
	"github.com/rezonia/cpe-emitter/internal/signature/xml"
	"github.com/rezonia/cpe-emitter/internal/store"
	"github.com/rezonia/cpe-emitter/internal/transport"
)

// app wires the configured components behind the commands
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	registry   *prometheus.Registry
	metrics    *observability.Metrics
	store      *store.Store
	files      *store.FileStore
	engine     *signature.Engine
	parser     *cdr.Parser
	verifier   *xml.XMLVerifier
	controller *lifecycle.Controller
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := observability.NewLogger(cfg.Logger(version))
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry, cfg.Metrics())

	a.store, err = store.Open(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return nil, err
	}
	a.files, err = store.NewFileStore(cfg.Storage.Path)
	if err != nil {
		return nil, errors.Join(err, a.store.Close())
	}

	cache := signature.NewCertificateCache(
		signature.WithCacheTTL(cfg.Signing.CertCacheTTL),
		signature.WithCacheMetrics(a.metrics),
	)
	a.engine = signature.NewEngine(cache, signature.WithLogger(log))

	parserOpts := []cdr.Option{cdr.WithLogger(log), cdr.WithMetrics(a.metrics)}
	if cfg.CDR.VerifySignature {
		ts, err := trust.LoadTrustStore(cfg.CDR.TrustRoots, trust.WithSoftFail(cfg.CDR.SoftFail))
		if err != nil {
			return nil, errors.Join(err, a.store.Close())
		}
		a.verifier = xml.NewXMLVerifier(xml.WithTrustStore(ts))
		parserOpts = append(parserOpts, cdr.WithVerifier(a.verifier))
	}
	a.parser = cdr.NewParser(parserOpts...)

	client := transport.NewClient(cfg.Transport(), transport.WithLogger(log), transport.WithMetrics(a.metrics))
	a.controller = lifecycle.NewController(a.store, a.files, a.engine, client, a.parser,
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(a.metrics),
		lifecycle.WithAcceptUnparseable(cfg.Lifecycle.AcceptUnparseableResponse),
	)
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("database close failed", zap.Error(err))
	}
	_ = a.log.Sync()
}

// withApp runs fn with a wired app and releases it afterwards
func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func bindFlag(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		fmt.Fprintf(os.Stderr, "bind flag %s: %v\n", flag.Name, err)
	}
}
