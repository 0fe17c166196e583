package formats

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/crypto/keys"
)

// pemExporter implements KeyExporter for PEM format, using PKCS#8 for
// private keys and PKIX for public keys (standard Go x509 encodings).
type pemExporter struct{}

// NewPEMExporter creates a new PEM exporter.
func NewPEMExporter() kmscrypto.KeyExporter {
	return &pemExporter{}
}

func (e *pemExporter) Export(keyPair kmscrypto.KeyPair, format kmscrypto.KeyFormat) ([]byte, error) {
	if format != kmscrypto.KeyFormatPEM {
		return nil, kmscrypto.ErrInvalidKeyFormat
	}

	der, err := x509.MarshalPKCS8PrivateKey(keyPair.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("marshal PKCS#8 private key: %w", err)
	}

	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return pem.EncodeToMemory(block), nil
}

func (e *pemExporter) ExportPublic(keyPair kmscrypto.KeyPair, format kmscrypto.KeyFormat) ([]byte, error) {
	if format != kmscrypto.KeyFormatPEM {
		return nil, kmscrypto.ErrInvalidKeyFormat
	}

	der, err := x509.MarshalPKIXPublicKey(keyPair.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("marshal PKIX public key: %w", err)
	}

	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return pem.EncodeToMemory(block), nil
}

// pemImporter implements KeyImporter for PEM format.
type pemImporter struct{}

// NewPEMImporter creates a new PEM importer.
func NewPEMImporter() kmscrypto.KeyImporter {
	return &pemImporter{}
}

func (i *pemImporter) Import(data []byte, format kmscrypto.KeyFormat) (kmscrypto.KeyPair, error) {
	if format != kmscrypto.KeyFormatPEM {
		return nil, kmscrypto.ErrInvalidKeyFormat
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
	}

	switch pk := raw.(type) {
	case ed25519.PrivateKey:
		return keys.NewEd25519KeyPair(pk, "")
	case *ecdsa.PrivateKey:
		return keys.NewP256KeyPair(pk, "")
	default:
		return nil, kmscrypto.ErrInvalidKeyType
	}
}

func (i *pemImporter) ImportPublic(data []byte, format kmscrypto.KeyFormat) (stdcrypto.PublicKey, error) {
	if format != kmscrypto.KeyFormatPEM {
		return nil, kmscrypto.ErrInvalidKeyFormat
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX public key: %w", err)
	}

	switch pub.(type) {
	case ed25519.PublicKey, *ecdsa.PublicKey:
		return pub, nil
	default:
		return nil, kmscrypto.ErrInvalidKeyType
	}
}
