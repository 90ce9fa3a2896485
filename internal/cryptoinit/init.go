// Package cryptoinit wires the crypto package's key-generator and
// storage indirection to the concrete implementations in crypto/keys
// and crypto/storage. Importing this package for its side effect
// makes crypto.NewEd25519KeyPair, crypto.NewSecp256k1KeyPair, and
// crypto.NewMemoryKeyStorage usable without crypto importing its own
// subpackages back.
package cryptoinit

import (
	"github.com/meshfabric/node/crypto"
	"github.com/meshfabric/node/crypto/keys"
	"github.com/meshfabric/node/crypto/storage"
)

func init() {
	// Register key generators
	crypto.SetKeyGenerators(
		func() (crypto.KeyPair, error) { return keys.GenerateEd25519KeyPair() },
		func() (crypto.KeyPair, error) { return keys.GenerateSecp256k1KeyPair() },
	)

	// Register storage constructors
	crypto.SetStorageConstructors(
		func() crypto.KeyStorage { return storage.NewMemoryKeyStorage() },
	)
}
