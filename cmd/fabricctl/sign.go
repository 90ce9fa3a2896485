package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	signKeyType string
	signKeyHex  string
	signKeyFile string
	signMessage string
	signFile    string
	signBase64  bool
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a message with a private key",
	Long: `Sign a message using a hex-encoded private key, as printed by
"fabricctl keygen".

The message can come from --message, --message-file, or stdin.`,
	Example: `  fabricctl sign --type ed25519 --key-hex a1b2... --message "hello"
  echo "hello" | fabricctl sign --type ed25519 --key-file node.key --base64`,
	RunE: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVarP(&signKeyType, "type", "t", "ed25519", "Key type (ed25519, secp256k1)")
	signCmd.Flags().StringVar(&signKeyHex, "key-hex", "", "Hex-encoded private key")
	signCmd.Flags().StringVar(&signKeyFile, "key-file", "", "File containing a hex-encoded private key")
	signCmd.Flags().StringVarP(&signMessage, "message", "m", "", "Message to sign")
	signCmd.Flags().StringVar(&signFile, "message-file", "", "File containing the message to sign")
	signCmd.Flags().BoolVar(&signBase64, "base64", false, "Output the signature as base64 instead of hex")
}

func runSign(cmd *cobra.Command, args []string) error {
	privHex, err := resolvePrivateKeyHex()
	if err != nil {
		return err
	}

	keyPair, err := loadKeyPair(signKeyType, privHex)
	if err != nil {
		return err
	}

	message, err := readMessage(signMessage, signFile)
	if err != nil {
		return err
	}

	signature, err := keyPair.Sign(message)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}

	if signBase64 {
		fmt.Println(base64.StdEncoding.EncodeToString(signature))
	} else {
		fmt.Println(hex.EncodeToString(signature))
	}
	return nil
}

func resolvePrivateKeyHex() (string, error) {
	if signKeyHex != "" {
		return signKeyHex, nil
	}
	if signKeyFile != "" {
		data, err := os.ReadFile(signKeyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read key file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("either --key-hex or --key-file must be specified")
}

func readMessage(message, file string) ([]byte, error) {
	if message != "" {
		return []byte(message), nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read message file: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read message from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no message provided")
	}
	return data, nil
}
