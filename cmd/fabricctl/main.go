// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Wires crypto.NewEd25519KeyPair/NewSecp256k1KeyPair/NewMemoryKeyStorage
	// to their concrete implementations.
	_ "github.com/meshfabric/node/internal/cryptoinit"
)

var rootCmd = &cobra.Command{
	Use:   "fabricctl",
	Short: "fabricctl - key management and anchoring tools for a mesh fabric node",
	Long: `fabricctl provides operator tools for a mesh fabric node:

- Key pair generation (Ed25519, Secp256k1)
- Node identity derivation from a public key
- Message signing and verification
- Manual reputation checkpoint anchoring`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Commands are registered in their respective files:
	// - keygen.go: keygenCmd
	// - nodeid.go: nodeIDCmd
	// - sign.go: signCmd
	// - verify.go: verifyCmd
	// - anchor.go: anchorCmd
}
