// Package formats implements key export/import codecs (JWK, PEM) for the
// two curves this enclave uses: P-256 (VAPID signing keys) and Ed25519
// (UAK/LAK/KIAK audit-signing keys).
package formats

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/crypto/keys"
)

func p256Curve() elliptic.Curve { return elliptic.P256() }

// JWK represents the subset of RFC 7517 this enclave produces and consumes:
// EC (P-256) and OKP (Ed25519) keys only.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	D   string `json:"d,omitempty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
}

// Thumbprint computes the RFC 7638 JSON Web Key thumbprint: the required
// members are serialized into canonical JSON (lexicographically sorted
// keys, no insignificant whitespace) and SHA-256'd. This is the `kid` a
// VAPID public key is identified by everywhere in this enclave.
func (jwk JWK) Thumbprint() (string, error) {
	m := map[string]string{"kty": jwk.Kty}
	if jwk.Crv != "" {
		m["crv"] = jwk.Crv
	}
	if jwk.X != "" {
		m["x"] = jwk.X
	}
	if jwk.Y != "" {
		m["y"] = jwk.Y
	}

	members := make([]string, 0, len(m))
	for k := range m {
		members = append(members, k)
	}
	sort.Strings(members)

	buf := []byte{'{'}
	for i, k := range members {
		if i > 0 {
			buf = append(buf, ',')
		}
		valueJSON, err := json.Marshal(m[k])
		if err != nil {
			return "", fmt.Errorf("marshal thumbprint value: %w", err)
		}
		buf = append(buf, fmt.Sprintf("%q:%s", k, valueJSON)...)
	}
	buf = append(buf, '}')

	sum := sha256.Sum256(buf)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// jwkExporter implements KeyExporter for JWK format.
type jwkExporter struct{}

// NewJWKExporter creates a new JWK exporter.
func NewJWKExporter() kmscrypto.KeyExporter {
	return &jwkExporter{}
}

func (e *jwkExporter) Export(keyPair kmscrypto.KeyPair, format kmscrypto.KeyFormat) ([]byte, error) {
	if format != kmscrypto.KeyFormatJWK {
		return nil, kmscrypto.ErrInvalidKeyFormat
	}

	jwk := &JWK{Kid: keyPair.ID(), Use: "sig"}

	switch keyPair.Type() {
	case kmscrypto.KeyTypeEd25519:
		privateKey, ok := keyPair.PrivateKey().(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("invalid Ed25519 private key type")
		}
		publicKey := privateKey.Public().(ed25519.PublicKey)

		jwk.Kty = "OKP"
		jwk.Crv = "Ed25519"
		jwk.X = base64.RawURLEncoding.EncodeToString(publicKey)
		jwk.D = base64.RawURLEncoding.EncodeToString(privateKey.Seed())
		jwk.Alg = "EdDSA"

	case kmscrypto.KeyTypeP256:
		privateKey, ok := keyPair.PrivateKey().(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("invalid P-256 private key type")
		}

		jwk.Kty = "EC"
		jwk.Crv = "P-256"
		jwk.X = base64.RawURLEncoding.EncodeToString(pad32(privateKey.X))
		jwk.Y = base64.RawURLEncoding.EncodeToString(pad32(privateKey.Y))
		jwk.D = base64.RawURLEncoding.EncodeToString(pad32(privateKey.D))
		jwk.Alg = "ES256"

	default:
		return nil, kmscrypto.ErrInvalidKeyType
	}

	return json.Marshal(jwk)
}

func (e *jwkExporter) ExportPublic(keyPair kmscrypto.KeyPair, format kmscrypto.KeyFormat) ([]byte, error) {
	if format != kmscrypto.KeyFormatJWK {
		return nil, kmscrypto.ErrInvalidKeyFormat
	}

	jwk := &JWK{Kid: keyPair.ID(), Use: "sig"}

	switch keyPair.Type() {
	case kmscrypto.KeyTypeEd25519:
		publicKey, ok := keyPair.PublicKey().(ed25519.PublicKey)
		if !ok {
			return nil, errors.New("invalid Ed25519 public key type")
		}

		jwk.Kty = "OKP"
		jwk.Crv = "Ed25519"
		jwk.X = base64.RawURLEncoding.EncodeToString(publicKey)
		jwk.Alg = "EdDSA"

	case kmscrypto.KeyTypeP256:
		publicKey, ok := keyPair.PublicKey().(*ecdsa.PublicKey)
		if !ok {
			return nil, errors.New("invalid P-256 public key type")
		}

		jwk.Kty = "EC"
		jwk.Crv = "P-256"
		jwk.X = base64.RawURLEncoding.EncodeToString(pad32(publicKey.X))
		jwk.Y = base64.RawURLEncoding.EncodeToString(pad32(publicKey.Y))
		jwk.Alg = "ES256"

	default:
		return nil, kmscrypto.ErrInvalidKeyType
	}

	return json.Marshal(jwk)
}

// jwkImporter implements KeyImporter for JWK format.
type jwkImporter struct{}

// NewJWKImporter creates a new JWK importer.
func NewJWKImporter() kmscrypto.KeyImporter {
	return &jwkImporter{}
}

func (i *jwkImporter) Import(data []byte, format kmscrypto.KeyFormat) (kmscrypto.KeyPair, error) {
	if format != kmscrypto.KeyFormatJWK {
		return nil, kmscrypto.ErrInvalidKeyFormat
	}

	var jwk JWK
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("unmarshal JWK: %w", err)
	}

	switch jwk.Kty {
	case "OKP":
		if jwk.Crv != "Ed25519" {
			return nil, fmt.Errorf("unsupported OKP curve: %s", jwk.Crv)
		}
		return i.importEd25519(&jwk)
	case "EC":
		if jwk.Crv != "P-256" {
			return nil, fmt.Errorf("unsupported EC curve: %s", jwk.Crv)
		}
		return i.importP256(&jwk)
	default:
		return nil, fmt.Errorf("unsupported key type: %s", jwk.Kty)
	}
}

func (i *jwkImporter) ImportPublic(data []byte, format kmscrypto.KeyFormat) (stdcrypto.PublicKey, error) {
	if format != kmscrypto.KeyFormatJWK {
		return nil, kmscrypto.ErrInvalidKeyFormat
	}

	var jwk JWK
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("unmarshal JWK: %w", err)
	}

	switch jwk.Kty {
	case "OKP":
		if jwk.Crv != "Ed25519" {
			return nil, fmt.Errorf("unsupported OKP curve: %s", jwk.Crv)
		}
		publicKeyBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
		if err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
		return ed25519.PublicKey(publicKeyBytes), nil

	case "EC":
		if jwk.Crv != "P-256" {
			return nil, fmt.Errorf("unsupported EC curve: %s", jwk.Crv)
		}
		xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
		if err != nil {
			return nil, fmt.Errorf("decode X coordinate: %w", err)
		}
		yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
		if err != nil {
			return nil, fmt.Errorf("decode Y coordinate: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: p256Curve(),
			X:     new(big.Int).SetBytes(xBytes),
			Y:     new(big.Int).SetBytes(yBytes),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported key type: %s", jwk.Kty)
	}
}

func (i *jwkImporter) importEd25519(jwk *JWK) (kmscrypto.KeyPair, error) {
	if jwk.D == "" {
		return nil, errors.New("missing private key component")
	}
	seedBytes, err := base64.RawURLEncoding.DecodeString(jwk.D)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	privateKey := ed25519.NewKeyFromSeed(seedBytes)
	return keys.NewEd25519KeyPair(privateKey, jwk.Kid)
}

func (i *jwkImporter) importP256(jwk *JWK) (kmscrypto.KeyPair, error) {
	if jwk.D == "" {
		return nil, errors.New("missing private key component")
	}
	dBytes, err := base64.RawURLEncoding.DecodeString(jwk.D)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("decode X coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("decode Y coordinate: %w", err)
	}

	curve := p256Curve()
	privateKey := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(xBytes),
			Y:     new(big.Int).SetBytes(yBytes),
		},
		D: new(big.Int).SetBytes(dBytes),
	}
	return keys.NewP256KeyPair(privateKey, jwk.Kid)
}

func pad32(n *big.Int) []byte {
	b := make([]byte, 32)
	n.FillBytes(b)
	return b
}
