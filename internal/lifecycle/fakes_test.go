package lifecycle_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/cpe-emitter/internal/archive"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/signature"
	"github.com/rezonia/cpe-emitter/internal/transport"
)

// memRepo is an in-memory Repository
type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	emitters map[int64]*model.Emitter
	docs     map[int64]*model.TaxDocument
	series   map[int64]int64
	batches  map[int64]*model.BatchSubmission
}

func newMemRepo() *memRepo {
	return &memRepo{
		emitters: map[int64]*model.Emitter{},
		docs:     map[int64]*model.TaxDocument{},
		series:   map[int64]int64{},
		batches:  map[int64]*model.BatchSubmission{},
	}
}

func (r *memRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memRepo) addEmitter(e *model.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = r.id()
	r.emitters[e.ID] = e
}

func (r *memRepo) addSeries(next int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.id()
	r.series[id] = next
	return id
}

func (r *memRepo) nextValue(seriesID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.series[seriesID]
}

func (r *memRepo) setNextValue(seriesID, next int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series[seriesID] = next
}

func (r *memRepo) addDocument(doc *model.TaxDocument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc.ID = r.id()
	if doc.State == "" {
		doc.State = model.StatePending
	}
	cp := *doc
	r.docs[doc.ID] = &cp
}

func (r *memRepo) document(id int64) model.TaxDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.docs[id]
}

func (r *memRepo) setState(id int64, s model.DocumentState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[id].State = s
}

func (r *memRepo) batch(id int64) model.BatchSubmission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.batches[id]
}

func (r *memRepo) LoadEmitter(ctx context.Context, id int64) (*model.Emitter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emitters[id]
	if !ok {
		return nil, fmt.Errorf("emitter %d: %w", id, model.ErrNotFound)
	}
	return e, nil
}

func (r *memRepo) LoadDocument(ctx context.Context, id int64) (*model.TaxDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadDocument(id)
}

func (r *memRepo) loadDocument(id int64) (*model.TaxDocument, error) {
	d, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %d: %w", id, model.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) UpdateDocumentState(ctx context.Context, id int64, u model.DocumentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateDocument(id, u)
}

func (r *memRepo) updateDocument(id int64, u model.DocumentUpdate) error {
	d, ok := r.docs[id]
	if !ok {
		return fmt.Errorf("document %d: %w", id, model.ErrNotFound)
	}
	if u.State != "" {
		d.State = u.State
	}
	if u.ArtifactName != "" {
		d.Submission.ArtifactName = u.ArtifactName
	}
	if u.ResponseCode != "" {
		d.Submission.ResponseCode = u.ResponseCode
	}
	if u.ResponseMessage != "" {
		d.Submission.ResponseMessage = u.ResponseMessage
	}
	if u.Digest != "" {
		d.Submission.Digest = u.Digest
	}
	if u.SubmittedAt != nil {
		at := *u.SubmittedAt
		d.Submission.SubmittedAt = &at
	}
	if u.IncrementAttempts {
		d.Submission.Attempts++
	}
	return nil
}

func (r *memRepo) ReserveNextSequence(ctx context.Context, seriesID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, ok := r.series[seriesID]
	if !ok {
		return 0, fmt.Errorf("series %d: %w", seriesID, model.ErrNotFound)
	}
	r.series[seriesID] = next + 1
	return next, nil
}

func (r *memRepo) FindSummaryCandidates(ctx context.Context, emitterID int64, from, to time.Time) ([]*model.TaxDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.TaxDocument
	for id, d := range r.docs {
		if d.Emitter.ID != emitterID || !d.State.Submittable() || d.Type != model.TypeReceipt {
			continue
		}
		if d.IssueDate.Before(from) || !d.IssueDate.Before(to) {
			continue
		}
		doc, _ := r.loadDocument(id)
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) CreateBatch(ctx context.Context, b *model.BatchSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.batches {
		if other.EmitterID == b.EmitterID && other.Kind == b.Kind && other.Identifier == b.Identifier {
			return &model.DuplicateError{Entity: "batch", Key: b.Identifier}
		}
	}
	b.ID = r.id()
	cp := *b
	cp.Lines = append([]model.BatchLine(nil), b.Lines...)
	r.batches[b.ID] = &cp
	return nil
}

func (r *memRepo) AppendBatchLine(ctx context.Context, batchID int64, line model.BatchLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %d: %w", batchID, model.ErrNotFound)
	}
	line.Document = nil
	b.Lines = append(b.Lines, line)
	return nil
}

func (r *memRepo) LoadBatch(ctx context.Context, id int64) (*model.BatchSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %d: %w", id, model.ErrNotFound)
	}
	cp := *b
	cp.Emitter = r.emitters[b.EmitterID]
	cp.Lines = make([]model.BatchLine, len(b.Lines))
	for i, l := range b.Lines {
		doc, err := r.loadDocument(l.DocumentID)
		if err != nil {
			return nil, err
		}
		l.Document = doc
		cp.Lines[i] = l
	}
	return &cp, nil
}

func (r *memRepo) UpdateBatch(ctx context.Context, id int64, u model.BatchUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return fmt.Errorf("batch %d: %w", id, model.ErrNotFound)
	}
	applyBatch(b, u)
	return nil
}

func applyBatch(b *model.BatchSubmission, u model.BatchUpdate) {
	if u.State != "" {
		b.State = u.State
	}
	if u.Ticket != "" {
		b.Ticket = u.Ticket
	}
	if u.StatusCode != "" {
		b.StatusCode = u.StatusCode
	}
	if u.ResponseCode != "" {
		b.ResponseCode = u.ResponseCode
	}
	if u.ResponseMessage != "" {
		b.ResponseMessage = u.ResponseMessage
	}
}

func (r *memRepo) ResolveBatch(ctx context.Context, id int64, u model.BatchUpdate, documents map[int64]model.DocumentUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return false, fmt.Errorf("batch %d: %w", id, model.ErrNotFound)
	}
	if b.State != model.BatchPending {
		return false, nil
	}
	for docID, du := range documents {
		if err := r.updateDocument(docID, du); err != nil {
			return false, err
		}
	}
	applyBatch(b, u)
	return true, nil
}

func (r *memRepo) CountBatches(ctx context.Context, emitterID int64, kind model.BatchKind, date time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := model.BatchIdentifierPrefix(kind, date)
	n := 0
	for _, b := range r.batches {
		if b.EmitterID == emitterID && b.Kind == kind && strings.HasPrefix(b.Identifier, prefix) {
			n++
		}
	}
	return n, nil
}

// memArtifacts is an in-memory ArtifactStore
type memArtifacts struct {
	mu        sync.Mutex
	signed    map[string][]byte
	owners    map[string]string
	responses map[string][]byte
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{signed: map[string][]byte{}, owners: map[string]string{}, responses: map[string][]byte{}}
}

func (m *memArtifacts) SaveSigned(name, owner string, signed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.owners[name]; ok && current != owner {
		return &model.DuplicateError{Entity: "signed artifact", Key: name, Owner: current}
	}
	m.owners[name] = owner
	m.signed[name] = signed
	return nil
}

func (m *memArtifacts) LoadSigned(name, owner string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.signed[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, model.ErrNotFound)
	}
	if current := m.owners[name]; current != owner {
		return nil, &model.DuplicateError{Entity: "signed artifact", Key: name, Owner: current}
	}
	return data, nil
}

// signedXML returns a stored artifact whoever owns it
func (m *memArtifacts) signedXML(t *testing.T, name string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.signed[name]
	require.True(t, ok, "no signed artifact %s", name)
	return string(data)
}

func (m *memArtifacts) SaveResponse(name string, artifact []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[name] = artifact
	return nil
}

func (m *memArtifacts) has(name string) (signed, response bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, signed = m.signed[name]
	_, response = m.responses[name]
	return signed, response
}

// countingSigner wraps the real engine and counts signing calls
type countingSigner struct {
	engine *signature.Engine
	mu     sync.Mutex
	calls  int
}

func (s *countingSigner) Sign(unsigned []byte, certPath, passphrase string) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.engine.Sign(unsigned, certPath, passphrase)
}

func (s *countingSigner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeAuthority stands in for the SOAP client
type fakeAuthority struct {
	mu sync.Mutex

	bill       func(name string, signed []byte) ([]byte, error)
	ticket     string
	summaryErr error
	statuses   []*transport.Status

	bills       map[string][]byte
	billCalls   int
	summaries   []string
	statusCalls int
}

func (f *fakeAuthority) SendBill(ctx context.Context, service transport.Service, name string, signed []byte, creds model.Credentials) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.billCalls++
	if f.bills == nil {
		f.bills = map[string][]byte{}
	}
	f.bills[name] = signed
	return f.bill(name, signed)
}

func (f *fakeAuthority) SendSummary(ctx context.Context, name string, signed []byte, creds model.Credentials) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, name)
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return f.ticket, nil
}

func (f *fakeAuthority) GetStatus(ctx context.Context, ticket string, creds model.Credentials) (*transport.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return nil, transport.ErrNetwork("getStatus", fmt.Errorf("no status queued"))
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func (f *fakeAuthority) sent(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bills[name]
}

func (f *fakeAuthority) calls() (bills, statuses int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.billCalls, f.statusCalls
}

const cdrFormat = `<?xml version="1.0" encoding="UTF-8"?>
<ar:ApplicationResponse xmlns:ar="urn:oasis:names:specification:ubl:schema:xsd:ApplicationResponse-2" xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2" xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2" xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><cbc:UBLVersionID>2.0</cbc:UBLVersionID><cbc:ID>171234567890</cbc:ID><cbc:IssueDate>2026-03-10</cbc:IssueDate><cac:DocumentResponse><cac:Response><cbc:ReferenceID>%s</cbc:ReferenceID><cbc:ResponseCode>%s</cbc:ResponseCode><cbc:Description>%s</cbc:Description></cac:Response><cac:DocumentReference><cbc:ID>%s</cbc:ID></cac:DocumentReference></cac:DocumentResponse><ds:DigestValue>cdrDigest=</ds:DigestValue></ar:ApplicationResponse>`

// cdrArtifact builds a zipped response for the document or batch reference
func cdrArtifact(t *testing.T, name, reference, code, description string) []byte {
	t.Helper()
	xml := fmt.Sprintf(cdrFormat, reference, code, description, reference)
	data, err := archive.Pack(model.ResponseArtifactName(name)+".xml", []byte(xml))
	require.NoError(t, err)
	return data
}

// counterValue sums the samples of a counter family matching labels
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
					}
				}
				if !found {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
