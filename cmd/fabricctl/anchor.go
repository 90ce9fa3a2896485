package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshfabric/node/crypto/anchor"
)

var (
	anchorBackend  string
	anchorRPC      string
	anchorRootHex  string
	anchorTo       string
	anchorKeyEnv   string
	anchorFeePayer string
)

var anchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Submit a reputation checkpoint root to a chain backend",
	Long: `Submit a single 32-byte merkle root to the configured anchoring
backend, outside of the periodic Scheduler. Useful to verify an
operator's chain credentials and RPC endpoint before running fabricd
with anchoring enabled.`,
	Example: `  fabricctl anchor --backend ethereum --rpc https://sepolia.example --root a1b2...
  fabricctl anchor --backend solana --rpc https://api.devnet.solana.com --root a1b2...`,
	RunE: runAnchor,
}

func init() {
	rootCmd.AddCommand(anchorCmd)

	anchorCmd.Flags().StringVar(&anchorBackend, "backend", "", "Chain backend: ethereum or solana (required)")
	anchorCmd.Flags().StringVar(&anchorRPC, "rpc", "", "RPC endpoint (defaults to FABRIC_ANCHOR_RPC)")
	anchorCmd.Flags().StringVar(&anchorRootHex, "root", "", "Hex-encoded 32-byte merkle root to anchor (required)")
	anchorCmd.Flags().StringVar(&anchorTo, "to", "", "Ethereum destination address (ethereum backend only)")
	anchorCmd.Flags().StringVar(&anchorKeyEnv, "key-env", "FABRIC_ANCHOR_PRIVATE_KEY", "Environment variable holding the signing/fee-payer key")
	anchorCmd.Flags().StringVar(&anchorFeePayer, "fee-payer-env", "FABRIC_ANCHOR_PRIVATE_KEY", "Environment variable holding the Solana fee payer key (solana backend only)")

	anchorCmd.MarkFlagRequired("backend")
	anchorCmd.MarkFlagRequired("root")
}

func runAnchor(cmd *cobra.Command, args []string) error {
	rootBytes, err := hex.DecodeString(anchorRootHex)
	if err != nil {
		return fmt.Errorf("invalid root hex: %w", err)
	}
	if len(rootBytes) != 32 {
		return fmt.Errorf("root must be 32 bytes, got %d", len(rootBytes))
	}
	var root [32]byte
	copy(root[:], rootBytes)

	rpc := anchorRPC
	if rpc == "" {
		rpc = os.Getenv("FABRIC_ANCHOR_RPC")
	}
	if rpc == "" {
		return fmt.Errorf("--rpc or FABRIC_ANCHOR_RPC must be set")
	}

	ctx := context.Background()
	var backend anchor.ChainAnchor

	switch anchorBackend {
	case "ethereum":
		key := os.Getenv(anchorKeyEnv)
		if key == "" {
			return fmt.Errorf("environment variable %s is not set", anchorKeyEnv)
		}
		backend, err = anchor.NewEthereumAnchor(ctx, anchor.EthereumConfig{
			RPCEndpoint:   rpc,
			PrivateKeyHex: key,
			ToAddress:     anchorTo,
		})
		if err != nil {
			return err
		}
	case "solana":
		key := os.Getenv(anchorFeePayer)
		if key == "" {
			return fmt.Errorf("environment variable %s is not set", anchorFeePayer)
		}
		backend, err = anchor.NewSolanaAnchor(anchor.SolanaConfig{
			RPCEndpoint:    rpc,
			FeePayerBase58: key,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported backend: %s (want ethereum or solana)", anchorBackend)
	}

	txID, err := backend.Anchor(ctx, root)
	if err != nil {
		return fmt.Errorf("anchor submission failed: %w", err)
	}

	fmt.Printf("Anchored root %s\n", anchorRootHex)
	fmt.Printf("Transaction:  %s\n", txID)
	return nil
}
