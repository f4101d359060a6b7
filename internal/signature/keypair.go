package signature

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// KeyPair is the private key and certificate extracted from a PKCS#12 container.
// It satisfies dsig.X509KeyStore.
type KeyPair struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// GetKeyPair returns the key and the DER certificate
func (k *KeyPair) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	if k == nil || k.PrivateKey == nil || k.Certificate == nil {
		return nil, nil, ErrNoKeyPair(nil)
	}
	return k.PrivateKey, k.Certificate.Raw, nil
}

// ParsePKCS12 decodes a container and returns its RSA key pair
func ParsePKCS12(data []byte, passphrase string) (*KeyPair, error) {
	key, cert, chain, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrBadPassphrase(err)
		}
		return nil, ErrNoKeyPair(err)
	}
	if cert == nil {
		return nil, ErrNoKeyPair(fmt.Errorf("container has no certificate"))
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNoKeyPair(fmt.Errorf("unsupported key type %T", key))
	}
	return &KeyPair{
		PrivateKey:  rsaKey,
		Certificate: cert,
		Chain:       chain,
	}, nil
}

// LoadPKCS12 reads and decodes the container at path
func LoadPKCS12(path, passphrase string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrCertNotFound(path, err)
	}
	return ParsePKCS12(data, passphrase)
}
