package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshfabric/node/id"
)

var nodeIDPubKeyHex string

var nodeIDCmd = &cobra.Command{
	Use:   "nodeid",
	Short: "Derive a node identity from an Ed25519 public key",
	Long: `Derive a node's identity (NodeId) from the hex-encoded Ed25519
public key that identifies it on the fabric.`,
	Example: `  fabricctl nodeid --pubkey a1b2c3...`,
	RunE:    runNodeID,
}

func init() {
	rootCmd.AddCommand(nodeIDCmd)

	nodeIDCmd.Flags().StringVar(&nodeIDPubKeyHex, "pubkey", "", "Hex-encoded Ed25519 public key (required)")
	nodeIDCmd.MarkFlagRequired("pubkey")
}

func runNodeID(cmd *cobra.Command, args []string) error {
	raw, err := hex.DecodeString(nodeIDPubKeyHex)
	if err != nil {
		return fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}

	nodeID := id.FromPublicKey(ed25519.PublicKey(raw))
	fmt.Printf("Node ID: %s\n", nodeID.String())
	fmt.Printf("Full:    %s\n", nodeID.Full())
	return nil
}
