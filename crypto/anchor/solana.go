package anchor

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// memoProgramID is Solana's standard memo program, used here as the
// carrier for a merkle root with no bespoke on-chain program of our
// own.
var memoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// SolanaConfig configures a SolanaAnchor.
type SolanaConfig struct {
	RPCEndpoint    string
	FeePayerBase58 string
}

// SolanaAnchor submits the reputation merkle root as a memo-program
// transaction, the alternative backend to EthereumAnchor behind the
// same ChainAnchor interface.
type SolanaAnchor struct {
	client   *rpc.Client
	feePayer solana.PrivateKey
}

// NewSolanaAnchor constructs a SolanaAnchor from the given RPC
// endpoint and fee payer key.
func NewSolanaAnchor(cfg SolanaConfig) (*SolanaAnchor, error) {
	feePayer, err := solana.PrivateKeyFromBase58(cfg.FeePayerBase58)
	if err != nil {
		return nil, fmt.Errorf("anchor: invalid fee payer private key: %w", err)
	}

	return &SolanaAnchor{
		client:   rpc.New(cfg.RPCEndpoint),
		feePayer: feePayer,
	}, nil
}

// Anchor submits root hex-encoded as a memo transaction and returns
// its signature.
func (a *SolanaAnchor) Anchor(ctx context.Context, root [32]byte) (string, error) {
	recent, err := a.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("anchor: failed to get recent blockhash: %w", err)
	}

	memo := []byte(hex.EncodeToString(root[:]))
	instruction := solana.NewInstruction(
		memoProgramID,
		solana.AccountMetaSlice{
			{PublicKey: a.feePayer.PublicKey(), IsWritable: false, IsSigner: true},
		},
		memo,
	)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		recent.Value.Blockhash,
		solana.TransactionPayer(a.feePayer.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("anchor: failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(a.feePayer.PublicKey()) {
			return &a.feePayer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("anchor: failed to sign transaction: %w", err)
	}

	sig, err := a.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("anchor: failed to submit transaction: %w", err)
	}

	return sig.String(), nil
}
