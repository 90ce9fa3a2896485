package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/spf13/cobra"
)

var (
	verifyKeyType   string
	verifyPubKeyHex string
	verifyMessage   string
	verifyFile      string
	verifySigHex    string
	verifySigB64    string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a signature using a public key",
	Long:  `Verify a signature against a message using a hex-encoded public key.`,
	Example: `  fabricctl verify --type ed25519 --pubkey a1b2... --message "hello" --sig-hex 9f8e...
  fabricctl verify --type secp256k1 --pubkey 02ab... --message "hello" --sig-b64 n47A...`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVarP(&verifyKeyType, "type", "t", "ed25519", "Key type (ed25519, secp256k1)")
	verifyCmd.Flags().StringVar(&verifyPubKeyHex, "pubkey", "", "Hex-encoded public key (required)")
	verifyCmd.Flags().StringVarP(&verifyMessage, "message", "m", "", "Message that was signed")
	verifyCmd.Flags().StringVar(&verifyFile, "message-file", "", "File containing the message that was signed")
	verifyCmd.Flags().StringVar(&verifySigHex, "sig-hex", "", "Hex-encoded signature")
	verifyCmd.Flags().StringVar(&verifySigB64, "sig-b64", "", "Base64-encoded signature")
	verifyCmd.MarkFlagRequired("pubkey")
}

func runVerify(cmd *cobra.Command, args []string) error {
	message, err := readMessage(verifyMessage, verifyFile)
	if err != nil {
		return err
	}

	signature, err := resolveSignature()
	if err != nil {
		return err
	}

	pubRaw, err := hex.DecodeString(verifyPubKeyHex)
	if err != nil {
		return fmt.Errorf("invalid public key hex: %w", err)
	}

	var verifyErr error
	switch verifyKeyType {
	case "ed25519":
		if len(pubRaw) != ed25519.PublicKeySize {
			return fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pubRaw))
		}
		if !ed25519.Verify(ed25519.PublicKey(pubRaw), message, signature) {
			verifyErr = fmt.Errorf("ed25519 signature verification failed")
		}
	case "secp256k1":
		pub, err := secp256k1.ParsePubKey(pubRaw)
		if err != nil {
			return fmt.Errorf("invalid secp256k1 public key: %w", err)
		}
		verifyErr = verifySecp256k1(pub.ToECDSA(), message, signature)
	default:
		return fmt.Errorf("unsupported key type: %s", verifyKeyType)
	}

	if verifyErr != nil {
		fmt.Println("Signature verification FAILED")
		return verifyErr
	}

	fmt.Println("Signature verification PASSED")
	return nil
}

func resolveSignature() ([]byte, error) {
	if verifySigHex != "" {
		return hex.DecodeString(verifySigHex)
	}
	if verifySigB64 != "" {
		return base64.StdEncoding.DecodeString(verifySigB64)
	}
	return nil, fmt.Errorf("either --sig-hex or --sig-b64 must be specified")
}

// verifySecp256k1 checks a signature produced by secp256k1KeyPair.Sign:
// a SHA-256 digest signed with raw (r, s) concatenated as 32 bytes each.
func verifySecp256k1(pub *ecdsa.PublicKey, message, signature []byte) error {
	if len(signature) != 64 {
		return fmt.Errorf("invalid secp256k1 signature length: expected 64 bytes, got %d", len(signature))
	}
	hash := sha256.Sum256(message)
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	if !ecdsa.Verify(pub, hash[:], r, s) {
		return fmt.Errorf("secp256k1 signature verification failed")
	}
	return nil
}
