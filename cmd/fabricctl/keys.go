package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	sagecrypto "github.com/meshfabric/node/crypto"
	"github.com/meshfabric/node/crypto/keys"
)

// encodePrivateKey renders a key pair's private key as hex so it can
// be written to a file and reloaded by sign in a later
// invocation.
func encodePrivateKey(kp sagecrypto.KeyPair) (string, error) {
	switch kp.Type() {
	case sagecrypto.KeyTypeEd25519:
		priv, ok := kp.PrivateKey().(ed25519.PrivateKey)
		if !ok {
			return "", fmt.Errorf("unexpected private key type for ed25519 key pair")
		}
		return hex.EncodeToString(priv), nil
	case sagecrypto.KeyTypeSecp256k1:
		priv, ok := kp.PrivateKey().(*ecdsa.PrivateKey)
		if !ok {
			return "", fmt.Errorf("unexpected private key type for secp256k1 key pair")
		}
		b := priv.D.Bytes()
		padded := make([]byte, 32)
		copy(padded[32-len(b):], b)
		return hex.EncodeToString(padded), nil
	default:
		return "", fmt.Errorf("unsupported key type: %s", kp.Type())
	}
}

// loadKeyPair reconstructs a key pair from a hex-encoded private key,
// given the key type it was generated as.
func loadKeyPair(keyType, privHex string) (sagecrypto.KeyPair, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}

	switch keyType {
	case "ed25519":
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
		}
		return keys.NewEd25519KeyPair(ed25519.PrivateKey(raw), "")
	case "secp256k1":
		priv := secp256k1.PrivKeyFromBytes(raw)
		return keys.NewSecp256k1KeyPair(priv, "")
	default:
		return nil, fmt.Errorf("unsupported key type: %s (want ed25519 or secp256k1)", keyType)
	}
}

// encodePublicKey renders a key pair's public key as hex.
func encodePublicKey(kp sagecrypto.KeyPair) (string, error) {
	switch kp.Type() {
	case sagecrypto.KeyTypeEd25519:
		pub, ok := kp.PublicKey().(ed25519.PublicKey)
		if !ok {
			return "", fmt.Errorf("unexpected public key type for ed25519 key pair")
		}
		return hex.EncodeToString(pub), nil
	case sagecrypto.KeyTypeSecp256k1:
		pub, ok := kp.PublicKey().(*ecdsa.PublicKey)
		if !ok {
			return "", fmt.Errorf("unexpected public key type for secp256k1 key pair")
		}
		compressed := secp256k1.NewPublicKey(pub.X, pub.Y).SerializeCompressed()
		return hex.EncodeToString(compressed), nil
	default:
		return "", fmt.Errorf("unsupported key type: %s", kp.Type())
	}
}
