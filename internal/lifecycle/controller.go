// Package lifecycle drives documents and batches through assembly, signing,
// transmission and response classification.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/assembler"
	"github.com/rezonia/cpe-emitter/internal/cdr"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/observability"
	"github.com/rezonia/cpe-emitter/internal/transport"
)

// Repository is the persistence boundary of the controller
type Repository interface {
	LoadEmitter(ctx context.Context, id int64) (*model.Emitter, error)
	LoadDocument(ctx context.Context, id int64) (*model.TaxDocument, error)
	UpdateDocumentState(ctx context.Context, id int64, u model.DocumentUpdate) error
	// ReserveNextSequence must increment and read the counter in one transaction
	ReserveNextSequence(ctx context.Context, seriesID int64) (int64, error)
	FindSummaryCandidates(ctx context.Context, emitterID int64, from, to time.Time) ([]*model.TaxDocument, error)

	CreateBatch(ctx context.Context, b *model.BatchSubmission) error
	AppendBatchLine(ctx context.Context, batchID int64, line model.BatchLine) error
	LoadBatch(ctx context.Context, id int64) (*model.BatchSubmission, error)
	UpdateBatch(ctx context.Context, id int64, u model.BatchUpdate) error
	// ResolveBatch settles a pending batch and its documents atomically and
	// reports false when the batch had already been resolved
	ResolveBatch(ctx context.Context, id int64, u model.BatchUpdate, documents map[int64]model.DocumentUpdate) (bool, error)
	CountBatches(ctx context.Context, emitterID int64, kind model.BatchKind, date time.Time) (int, error)
}

// ArtifactStore keeps signed XML and response archives by artifact name.
// Signed XML is tied to an owner key; an artifact held by another owner is
// neither replaced nor returned.
type ArtifactStore interface {
	SaveSigned(name, owner string, signed []byte) error
	LoadSigned(name, owner string) ([]byte, error)
	SaveResponse(name string, artifact []byte) error
}

// Assembler renders unsigned XML
type Assembler interface {
	Assemble(doc *model.TaxDocument) ([]byte, error)
	AssembleBatch(batch *model.BatchSubmission) ([]byte, error)
}

// Signer embeds the emitter's signature
type Signer interface {
	Sign(unsigned []byte, certPath, passphrase string) ([]byte, error)
}

// Transport sends signed payloads to the authority
type Transport interface {
	SendBill(ctx context.Context, service transport.Service, name string, signed []byte, creds model.Credentials) ([]byte, error)
	SendSummary(ctx context.Context, name string, signed []byte, creds model.Credentials) (string, error)
	GetStatus(ctx context.Context, ticket string, creds model.Credentials) (*transport.Status, error)
}

// ResponseParser reads the authority's response archive
type ResponseParser interface {
	Parse(ctx context.Context, artifact []byte) (*cdr.Response, error)
}

// Controller is the only writer of document, series and batch state
type Controller struct {
	repo      Repository
	artifacts ArtifactStore
	assembler Assembler
	signer    Signer
	transport Transport
	parser    ResponseParser

	clock             clockwork.Clock
	location          *time.Location
	log               *zap.Logger
	metrics           *observability.Metrics
	acceptUnparseable bool
	correlator        func() string
}

// Option configures a Controller
type Option func(*Controller)

// WithAssembler replaces the default assembler
func WithAssembler(a Assembler) Option {
	return func(c *Controller) {
		c.assembler = a
	}
}

// WithClock sets the clock used for timestamps and batch dates
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithLocation sets the zone batch dates are computed in
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		c.location = loc
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithAcceptUnparseable treats an unreadable synchronous response as an acceptance
func WithAcceptUnparseable(enabled bool) Option {
	return func(c *Controller) {
		c.acceptUnparseable = enabled
	}
}

// WithCorrelator overrides batch correlator generation
func WithCorrelator(fn func() string) Option {
	return func(c *Controller) {
		c.correlator = fn
	}
}

// NewController wires the pipeline stages
func NewController(repo Repository, artifacts ArtifactStore, signer Signer, tr Transport, parser ResponseParser, opts ...Option) *Controller {
	c := &Controller{
		repo:       repo,
		artifacts:  artifacts,
		assembler:  assembler.New(),
		signer:     signer,
		transport:  tr,
		parser:     parser,
		clock:      clockwork.NewRealClock(),
		location:   assembler.Lima,
		correlator: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = observability.OrNop(c.log).With(zap.String("component", "lifecycle"))
	return c
}

// Status returns a document with its current state and submission metadata
func (c *Controller) Status(ctx context.Context, documentID int64) (*model.TaxDocument, error) {
	return c.repo.LoadDocument(ctx, documentID)
}

// Batch returns a batch with its lines
func (c *Controller) Batch(ctx context.Context, batchID int64) (*model.BatchSubmission, error) {
	return c.repo.LoadBatch(ctx, batchID)
}

func (c *Controller) now() time.Time {
	return c.clock.Now()
}

func (c *Controller) transition(doc *model.TaxDocument, artifact string, to model.DocumentState) {
	c.log.Info("document transition",
		zap.Int64("document_id", doc.ID),
		zap.String("artifact", artifact),
		zap.String("from", string(doc.State)),
		zap.String("to", string(to)),
	)
	doc.State = to
}

func serviceFor(e assembler.Endpoint) transport.Service {
	switch e {
	case assembler.EndpointDespatch:
		return transport.ServiceDespatch
	case assembler.EndpointSummary:
		return transport.ServiceSummary
	default:
		return transport.ServiceBills
	}
}
