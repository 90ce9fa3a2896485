package main

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	sagecrypto "github.com/meshfabric/node/crypto"
	"github.com/meshfabric/node/crypto/keys"
	"github.com/meshfabric/node/id"
)

var (
	keygenType   string
	keygenOutput string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new key pair",
	Long: `Generate a new cryptographic key pair.

Supported key types:
  - ed25519: Ed25519 signature algorithm, also used to derive the node's identity
  - secp256k1: Secp256k1 elliptic curve

Prints the hex-encoded private key, public key, and (for Ed25519) the
derived node ID. The private key hex can be passed to "fabricctl sign"
to sign messages with this key later.`,
	Example: `  fabricctl keygen --type ed25519
  fabricctl keygen --type secp256k1 --output node.key`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVarP(&keygenType, "type", "t", "ed25519", "Key type (ed25519, secp256k1)")
	keygenCmd.Flags().StringVarP(&keygenOutput, "output", "o", "", "File to write the private key hex to (default: stdout only)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	var keyPair sagecrypto.KeyPair
	var err error

	switch keygenType {
	case "ed25519":
		keyPair, err = keys.GenerateEd25519KeyPair()
	case "secp256k1":
		keyPair, err = keys.GenerateSecp256k1KeyPair()
	default:
		return fmt.Errorf("unsupported key type: %s", keygenType)
	}
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}

	privHex, err := encodePrivateKey(keyPair)
	if err != nil {
		return err
	}
	pubHex, err := encodePublicKey(keyPair)
	if err != nil {
		return err
	}

	fmt.Printf("Key Type:    %s\n", keyPair.Type())
	fmt.Printf("Key ID:      %s\n", keyPair.ID())
	fmt.Printf("Public Key:  %s\n", pubHex)
	fmt.Printf("Private Key: %s\n", privHex)

	if keyPair.Type() == sagecrypto.KeyTypeEd25519 {
		pub, ok := keyPair.PublicKey().(ed25519.PublicKey)
		if ok {
			fmt.Printf("Node ID:     %s\n", id.FromPublicKey(pub).String())
		}
	}

	if keygenOutput != "" {
		if err := os.WriteFile(keygenOutput, []byte(privHex+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write private key file: %w", err)
		}
		fmt.Printf("Private key saved to: %s\n", keygenOutput)
	}

	return nil
}
