// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	fabriccrypto "github.com/meshfabric/node/crypto"
)

// rsaKeyBits is the modulus size used for generated RSA keys, large
// enough for RSA-PSS-SHA256 signatures with comfortable margin.
const rsaKeyBits = 3072

// rsaKeyPair implements the KeyPair interface for RSA keys, signing
// with RSA-PSS and SHA-256 as advertised by its registered algorithm.
type rsaKeyPair struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	id         string
}

// GenerateRSAKeyPair generates a new RSA key pair.
func GenerateRSAKeyPair() (fabriccrypto.KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, err
	}
	return NewRSAKeyPair(privateKey, "")
}

func (kp *rsaKeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

func (kp *rsaKeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

func (kp *rsaKeyPair) Type() fabriccrypto.KeyType {
	return fabriccrypto.KeyTypeRSA
}

// Sign signs message with RSA-PSS using SHA-256, per the RSA-PSS-SHA256
// algorithm registered for this key type.
func (kp *rsaKeyPair) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	return rsa.SignPSS(rand.Reader, kp.privateKey, crypto.SHA256, hash[:], nil)
}

// Verify verifies an RSA-PSS/SHA-256 signature.
func (kp *rsaKeyPair) Verify(message, signature []byte) error {
	hash := sha256.Sum256(message)
	if err := rsa.VerifyPSS(kp.publicKey, crypto.SHA256, hash[:], signature, nil); err != nil {
		return fabriccrypto.ErrInvalidSignature
	}
	return nil
}

func (kp *rsaKeyPair) ID() string {
	return kp.id
}
