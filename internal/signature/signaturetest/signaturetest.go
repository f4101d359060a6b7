// Package signaturetest generates throwaway certificates and PKCS#12 containers for tests.
package signaturetest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/rezonia/cpe-emitter/internal/signature"
)

var serial atomic.Int64

// SelfSigned creates a self-signed RSA key pair for cn, usable as a CA
func SelfSigned(t testing.TB, cn string) *signature.KeyPair {
	t.Helper()
	return issue(t, cn, nil, true)
}

// Issued creates a key pair for cn signed by issuer
func Issued(t testing.TB, cn string, issuer *signature.KeyPair) *signature.KeyPair {
	t.Helper()
	return issue(t, cn, issuer, false)
}

func issue(t testing.TB, cn string, issuer *signature.KeyPair, isCA bool) *signature.KeyPair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"ACME PERU S.A.C."},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  isCA,
	}
	if isCA {
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}

	parent, parentKey := template, key
	var chain []*x509.Certificate
	if issuer != nil {
		parent, parentKey = issuer.Certificate, issuer.PrivateKey
		chain = append(chain, issuer.Certificate)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	return &signature.KeyPair{
		PrivateKey:  key,
		Certificate: cert,
		Chain:       chain,
	}
}

// EncodePKCS12 encodes pair into a password protected container
func EncodePKCS12(t testing.TB, pair *signature.KeyPair, passphrase string) []byte {
	t.Helper()

	data, err := pkcs12.Modern.Encode(pair.PrivateKey, pair.Certificate, pair.Chain, passphrase)
	if err != nil {
		t.Fatalf("failed to encode PKCS#12: %v", err)
	}
	return data
}

// WritePKCS12 writes the container of pair to dir and returns its path
func WritePKCS12(t testing.TB, pair *signature.KeyPair, dir, passphrase string) string {
	t.Helper()

	path := filepath.Join(dir, pair.Certificate.Subject.CommonName+".p12")
	if err := os.WriteFile(path, EncodePKCS12(t, pair, passphrase), 0o600); err != nil {
		t.Fatalf("failed to write container: %v", err)
	}
	return path
}
