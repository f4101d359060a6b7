package signature

import (
	"errors"
	"path/filepath"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/observability"
)

// DefaultSignatureID is the Id of the embedded ds:Signature, referenced from cac:Signature
const DefaultSignatureID = "IDSignKG"

const placeholderPath = "./UBLExtensions/UBLExtension/ExtensionContent"

// Engine signs assembled documents with an enveloped XMLDSig signature
type Engine struct {
	cache       *CertificateCache
	log         *zap.Logger
	signatureID string
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the engine logger
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.log = log
	}
}

// WithSignatureID overrides the Id attribute of the signature element
func WithSignatureID(id string) EngineOption {
	return func(e *Engine) {
		e.signatureID = id
	}
}

// NewEngine creates a signing engine backed by cache. A nil cache gets a default one.
func NewEngine(cache *CertificateCache, opts ...EngineOption) *Engine {
	if cache == nil {
		cache = NewCertificateCache()
	}
	e := &Engine{
		cache:       cache,
		signatureID: DefaultSignatureID,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = observability.OrNop(e.log)
	return e
}

// Cache returns the certificate cache of the engine
func (e *Engine) Cache() *CertificateCache {
	return e.cache
}

// Sign signs unsigned with the key pair of the PKCS#12 container at certPath
func (e *Engine) Sign(unsigned []byte, certPath, passphrase string) ([]byte, error) {
	pair, err := e.cache.Get(certPath, passphrase)
	if err != nil {
		e.log.Warn("certificate unavailable",
			zap.String("container", filepath.Base(certPath)),
			zap.Error(err),
		)
		return nil, err
	}
	return e.SignWith(unsigned, pair)
}

// SignWith signs unsigned with pair. RSA-SHA1 over exclusive C14N without comments;
// the signature is nested in the document's ExtensionContent placeholder.
func (e *Engine) SignWith(unsigned []byte, pair *KeyPair) ([]byte, error) {
	if _, _, err := pair.GetKeyPair(); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(unsigned); err != nil {
		return nil, ErrMalformedXML(err)
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrMalformedXML(errors.New("document has no root element"))
	}
	placeholder := root.FindElement(placeholderPath)
	if placeholder == nil {
		return nil, ErrPlaceholderMissing()
	}
	if len(placeholder.ChildElements()) > 0 {
		return nil, NewSignatureError(ErrCodeSignFailed, "document", "placeholder already holds a signature", nil)
	}

	ctx := dsig.NewDefaultSigningContext(pair)
	if err := ctx.SetSignatureMethod(dsig.RSASHA1SignatureMethod); err != nil {
		return nil, ErrSignFailed(err)
	}
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

	// Canonicalization rewrites its input, so the digest is taken over a copy
	sig, err := ctx.ConstructSignature(root.Copy(), true)
	if err != nil {
		return nil, ErrSignFailed(err)
	}
	sig.CreateAttr("Id", e.signatureID)
	placeholder.AddChild(sig)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, ErrSignFailed(err)
	}

	e.log.Debug("document signed",
		zap.String("root", root.Tag),
		zap.String("document", documentID(root)),
		zap.String("signer", pair.Certificate.Subject.CommonName),
	)
	return out, nil
}

// DigestValue returns the reference digest of a signed document
func DigestValue(signed []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signed); err != nil {
		return "", ErrMalformedXML(err)
	}
	if doc.Root() == nil {
		return "", ErrMalformedXML(errors.New("document has no root element"))
	}
	el := doc.Root().FindElement(".//Signature/SignedInfo/Reference/DigestValue")
	if el == nil {
		return "", ErrNoSignature()
	}
	return el.Text(), nil
}

func documentID(root *etree.Element) string {
	if id := root.SelectElement("ID"); id != nil {
		return id.Text()
	}
	return ""
}
