// Package cryptoinit wires the crypto package's generator/storage/format
// hooks to their concrete implementations in subpackages, avoiding the
// import cycle a direct crypto -> crypto/keys -> crypto import would create.
package cryptoinit

import (
	"github.com/lukium/ats-kms-enclave/crypto"
	"github.com/lukium/ats-kms-enclave/crypto/formats"
	"github.com/lukium/ats-kms-enclave/crypto/keys"
	"github.com/lukium/ats-kms-enclave/crypto/storage"
)

func init() {
	crypto.SetKeyGenerators(
		func() (crypto.KeyPair, error) { return keys.GenerateEd25519KeyPair() },
		func() (crypto.KeyPair, error) { return keys.GenerateP256KeyPair() },
	)

	crypto.SetStorageConstructors(
		func() crypto.KeyStorage { return storage.NewMemoryKeyStorage() },
	)

	crypto.SetFormatConstructors(
		func() crypto.KeyExporter { return formats.NewJWKExporter() },
		func() crypto.KeyExporter { return formats.NewPEMExporter() },
		func() crypto.KeyImporter { return formats.NewJWKImporter() },
		func() crypto.KeyImporter { return formats.NewPEMImporter() },
	)
}
