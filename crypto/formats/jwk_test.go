package formats

import (
	"encoding/json"
	"testing"

	kmscrypto "github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWKExportImportEd25519(t *testing.T) {
	exporter := NewJWKExporter()
	importer := NewJWKImporter()

	original, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	exported, err := exporter.Export(original, kmscrypto.KeyFormatJWK)
	require.NoError(t, err)

	imported, err := importer.Import(exported, kmscrypto.KeyFormatJWK)
	require.NoError(t, err)
	assert.Equal(t, kmscrypto.KeyTypeEd25519, imported.Type())

	message := []byte("audit entry")
	sig, err := imported.Sign(message)
	require.NoError(t, err)
	assert.NoError(t, original.Verify(message, sig))
}

func TestJWKExportImportP256(t *testing.T) {
	exporter := NewJWKExporter()
	importer := NewJWKImporter()

	original, err := keys.GenerateP256KeyPair()
	require.NoError(t, err)

	exported, err := exporter.Export(original, kmscrypto.KeyFormatJWK)
	require.NoError(t, err)

	imported, err := importer.Import(exported, kmscrypto.KeyFormatJWK)
	require.NoError(t, err)
	assert.Equal(t, kmscrypto.KeyTypeP256, imported.Type())

	message := []byte("vapid jwt")
	sig, err := imported.Sign(message)
	require.NoError(t, err)
	assert.NoError(t, original.Verify(message, sig))
}

func TestJWKThumbprintStableAndOrdered(t *testing.T) {
	jwk := JWK{Kty: "EC", Crv: "P-256", X: "abc", Y: "def"}
	t1, err := jwk.Thumbprint()
	require.NoError(t, err)

	// Field order in the struct literal must not affect the thumbprint:
	// RFC 7638 requires lexicographic member ordering regardless of input order.
	jwk2 := JWK{Y: "def", X: "abc", Crv: "P-256", Kty: "EC"}
	t2, err := jwk2.Thumbprint()
	require.NoError(t, err)

	assert.Equal(t, t1, t2)
	assert.NotEmpty(t, t1)
}

func TestJWKExportPublicOnlyHasNoPrivateComponent(t *testing.T) {
	exporter := NewJWKExporter()

	kp, err := keys.GenerateP256KeyPair()
	require.NoError(t, err)

	exported, err := exporter.ExportPublic(kp, kmscrypto.KeyFormatJWK)
	require.NoError(t, err)

	var jwk JWK
	require.NoError(t, json.Unmarshal(exported, &jwk))
	assert.Empty(t, jwk.D)
}
