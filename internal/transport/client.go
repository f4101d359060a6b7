// Package transport talks to the tax authority's SOAP bill service
package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/archive"
	"github.com/rezonia/cpe-emitter/internal/model"
	"github.com/rezonia/cpe-emitter/internal/observability"
)

// Service names the authority endpoint a payload goes to
type Service string

const (
	ServiceBills    Service = "bills"
	ServiceDespatch Service = "despatch"
	ServiceSummary  Service = "summary"
)

// Beta endpoints of the authority
const (
	BetaBillsEndpoint    = "https://e-beta.sunat.gob.pe/ol-ti-itcpfegem-beta/billService"
	BetaDespatchEndpoint = "https://e-beta.sunat.gob.pe/ol-ti-itemision-guia-gem-beta/billService"
)

// Ticket poll status codes
const (
	StatusProcessed  = "0"
	StatusInProgress = "98"
	StatusError      = "99"
)

// MaxResponseSize bounds the SOAP response body
const MaxResponseSize = 32 << 20

var errNotEnvelope = errors.New("response is not a SOAP envelope")

// Config contains the endpoints and HTTP settings of the client
type Config struct {
	BillsEndpoint    string
	DespatchEndpoint string
	// SummaryEndpoint defaults to BillsEndpoint
	SummaryEndpoint string
	Timeout         time.Duration
	UserAgent       string
}

// DefaultConfig returns the beta endpoints with a 60 second timeout
func DefaultConfig() *Config {
	return &Config{
		BillsEndpoint:    BetaBillsEndpoint,
		DespatchEndpoint: BetaDespatchEndpoint,
		SummaryEndpoint:  BetaBillsEndpoint,
		Timeout:          60 * time.Second,
		UserAgent:        "cpe-emitter/1.0",
	}
}

// Status is the answer to a ticket poll
type Status struct {
	Code string
	// Artifact is the response archive, present when Code is StatusProcessed
	Artifact []byte
}

// Processed reports whether the batch finished and carries a response
func (s *Status) Processed() bool {
	return s.Code == StatusProcessed
}

// InProgress reports whether the authority is still working on the batch
func (s *Status) InProgress() bool {
	return s.Code == StatusInProgress
}

// Client sends signed payloads over one authenticated SOAP channel
type Client struct {
	http    *http.Client
	config  *Config
	log     *zap.Logger
	metrics *observability.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the client logger
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithMetrics records faults on m
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a new client
func NewClient(config *Config, opts ...Option) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SummaryEndpoint == "" {
		config.SummaryEndpoint = config.BillsEndpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	c := &Client{
		http:   &http.Client{Timeout: config.Timeout},
		config: config,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = observability.OrNop(c.log)
	return c
}

// SendBill sends one signed document and returns the authority's response archive
func (c *Client) SendBill(ctx context.Context, service Service, name string, signed []byte, creds model.Credentials) ([]byte, error) {
	const op = "sendBill"

	endpoint, err := c.endpoint(service)
	if err != nil {
		return nil, err
	}
	fields, err := payloadFields(op, name, signed)
	if err != nil {
		return nil, err
	}

	body, err := c.call(ctx, endpoint, op, creds, fields...)
	if err != nil {
		return nil, err
	}

	encoded := childText(body, "./sendBillResponse/applicationResponse")
	if encoded == "" {
		return nil, c.fail(ErrMalformed(op, "response has no applicationResponse", nil))
	}
	artifact, err := decodeBase64(encoded)
	if err != nil {
		return nil, c.fail(ErrMalformed(op, "applicationResponse is not base64", err))
	}
	return artifact, nil
}

// SendSummary sends a daily summary or void communication and returns its ticket
func (c *Client) SendSummary(ctx context.Context, name string, signed []byte, creds model.Credentials) (string, error) {
	const op = "sendSummary"

	fields, err := payloadFields(op, name, signed)
	if err != nil {
		return "", err
	}

	body, err := c.call(ctx, c.config.SummaryEndpoint, op, creds, fields...)
	if err != nil {
		return "", err
	}

	ticket := childText(body, "./sendSummaryResponse/ticket")
	if ticket == "" {
		return "", c.fail(ErrMalformed(op, "response has no ticket", nil))
	}
	return ticket, nil
}

// GetStatus polls the state of a ticket
func (c *Client) GetStatus(ctx context.Context, ticket string, creds model.Credentials) (*Status, error) {
	const op = "getStatus"

	if strings.TrimSpace(ticket) == "" {
		return nil, model.NewValidationError("ticket", ticket, "required", "ticket is empty")
	}

	body, err := c.call(ctx, c.config.SummaryEndpoint, op, creds, field{name: "ticket", value: ticket})
	if err != nil {
		return nil, err
	}

	status := body.FindElement("./getStatusResponse/status")
	if status == nil {
		return nil, c.fail(ErrMalformed(op, "response has no status", nil))
	}
	result := &Status{Code: childText(status, "./statusCode")}
	if result.Code == "" {
		return nil, c.fail(ErrMalformed(op, "status has no code", nil))
	}
	if content := childText(status, "./content"); content != "" {
		artifact, err := decodeBase64(content)
		if err != nil {
			return nil, c.fail(ErrMalformed(op, "status content is not base64", err))
		}
		result.Artifact = artifact
	}
	return result, nil
}

func (c *Client) endpoint(service Service) (string, error) {
	switch service {
	case ServiceBills:
		return c.config.BillsEndpoint, nil
	case ServiceDespatch:
		return c.config.DespatchEndpoint, nil
	case ServiceSummary:
		return c.config.SummaryEndpoint, nil
	default:
		return "", model.NewValidationError("service", service, "oneof=bills despatch summary", "unknown authority service")
	}
}

// payloadFields zips the signed XML as {name}.xml inside {name}.zip
func payloadFields(op, name string, signed []byte) ([]field, error) {
	if name == "" {
		return nil, model.NewValidationError("file_name", name, "required", "artifact name is empty")
	}
	zipped, err := archive.Pack(name+".xml", signed)
	if err != nil {
		return nil, NewTransportFault(op, FaultCodeArchive, "failed to package document", err)
	}
	return []field{
		{name: "fileName", value: name + ".zip"},
		{name: "contentFile", value: base64.StdEncoding.EncodeToString(zipped)},
	}, nil
}

// call posts the operation and returns the response Body, or the fault it carries
func (c *Client) call(ctx context.Context, endpoint, op string, creds model.Credentials, fields ...field) (*etree.Element, error) {
	username := creds.Username()
	envelope, err := buildEnvelope(op, username, creds.PortalSecret, fields...)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s envelope: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "urn:"+op)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	req.SetBasicAuth(username, creds.PortalSecret)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(ErrNetwork(op, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, c.fail(ErrNetwork(op, err))
	}

	c.log.Debug("authority responded",
		zap.String("operation", op),
		zap.String("user", username),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	body, parseErr := envelopeBody(data)
	if parseErr == nil {
		if code, message, ok := parseFault(body); ok {
			return nil, c.fail(NewTransportFault(op, code, message, nil))
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(NewTransportFault(op, FaultCodeHTTP,
			fmt.Sprintf("unexpected status code %d: %s", resp.StatusCode, snippet(data)), nil))
	}
	if parseErr != nil {
		return nil, c.fail(ErrMalformed(op, "unreadable response", parseErr))
	}
	return body, nil
}

func (c *Client) fail(f *TransportFault) *TransportFault {
	c.metrics.TransportFault(f.Code)
	c.log.Warn("authority call failed",
		zap.String("operation", f.Operation),
		zap.String("code", f.Code),
		zap.String("message", f.Message),
		zap.Error(f.Cause),
	)
	return f
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
}

func snippet(data []byte) string {
	const max = 200
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
