package anchor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// defaultAnchorGasLimit is generous for a zero-value transaction
// whose only payload is 32 bytes of calldata.
const defaultAnchorGasLimit = 30000

// EthereumConfig configures an EthereumAnchor.
type EthereumConfig struct {
	RPCEndpoint   string
	PrivateKeyHex string
	ToAddress     string
	GasLimit      uint64
}

// EthereumAnchor submits the reputation merkle root as calldata on a
// plain zero-value transaction — no registry contract or ABI binding
// is involved, since there is nothing to read back on-chain.
type EthereumAnchor struct {
	client   *ethclient.Client
	priv     *ecdsa.PrivateKey
	to       common.Address
	chainID  *big.Int
	gasLimit uint64
}

// NewEthereumAnchor dials the configured RPC endpoint and loads the
// signing key used to pay for and sign anchor transactions.
func NewEthereumAnchor(ctx context.Context, cfg EthereumConfig) (*EthereumAnchor, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("anchor: failed to connect to ethereum node: %w", err)
	}

	priv, err := crypto.HexToECDSA(cfg.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("anchor: invalid private key: %w", err)
	}

	chainID, err := client.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor: failed to get network id: %w", err)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultAnchorGasLimit
	}

	return &EthereumAnchor{
		client:   client,
		priv:     priv,
		to:       common.HexToAddress(cfg.ToAddress),
		chainID:  chainID,
		gasLimit: gasLimit,
	}, nil
}

// Anchor submits root as the calldata of a signed legacy transaction
// and returns its transaction hash.
func (a *EthereumAnchor) Anchor(ctx context.Context, root [32]byte) (string, error) {
	from := crypto.PubkeyToAddress(a.priv.PublicKey)

	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("anchor: failed to fetch nonce: %w", err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("anchor: failed to suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &a.to,
		Value:    big.NewInt(0),
		Gas:      a.gasLimit,
		GasPrice: gasPrice,
		Data:     root[:],
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), a.priv)
	if err != nil {
		return "", fmt.Errorf("anchor: failed to sign transaction: %w", err)
	}

	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("anchor: failed to submit transaction: %w", err)
	}

	return signed.Hash().Hex(), nil
}
