package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"

	abiloader "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/abi"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

const DefaultConfirmTimeout = 120 * time.Second

// Backend is the subset of an Ethereum RPC client the ledger needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Minter issues carbon tokens and reads balances
type Minter interface {
	Mint(ctx context.Context, to string, amount int64, contentRef string) (*Receipt, error)
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
}

// Config holds ledger connection settings
type Config struct {
	RPCURL          string
	ChainID         int64
	PrivateKey      string
	ContractAddress string
	ABIPath         string
	ConfirmTimeout  time.Duration
}

// Receipt is a confirmed mint
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	To          string
	Amount      int64
	ContentRef  string
}

// Client mints through the CarbonToken contract
type Client struct {
	backend        Backend
	contractAddr   common.Address
	abi            abi.ABI
	privateKey     *ecdsa.PrivateKey
	signerAddr     common.Address
	chainID        *big.Int
	confirmTimeout time.Duration

	// one slot: serializes nonce assignment and broadcast
	sendSlot chan struct{}
}

// NewClient dials the RPC endpoint and builds a ledger client. Missing
// settings do not fail construction: the client answers ErrNotConfigured
// for the calls it cannot serve.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" || cfg.ContractAddress == "" {
		log.Warn("Ledger not configured: RPC_URL and CONTRACT_ADDRESS are required for minting")
		return &Client{}, nil
	}

	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum client: %w", err)
	}

	client, err := NewWithBackend(ctx, backend, cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return client, nil
}

// NewWithBackend builds a ledger client over an existing backend
func NewWithBackend(ctx context.Context, backend Backend, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}

	tokenABI, err := abiloader.LoadCarbonToken(cfg.ABIPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load CarbonToken ABI: %w", err)
	}

	c := &Client{
		backend:        backend,
		contractAddr:   common.HexToAddress(cfg.ContractAddress),
		abi:            tokenABI,
		confirmTimeout: cfg.ConfirmTimeout,
		sendSlot:       make(chan struct{}, 1),
	}
	if c.confirmTimeout <= 0 {
		c.confirmTimeout = DefaultConfirmTimeout
	}

	if cfg.PrivateKey == "" {
		log.Warn("Ledger has no signer key, minting disabled")
		return c, nil
	}

	c.privateKey, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	c.signerAddr = crypto.PubkeyToAddress(c.privateKey.PublicKey)

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	} else {
		c.chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain ID: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"contract": c.contractAddr.Hex(),
		"signer":   c.signerAddr.Hex(),
		"chain_id": c.chainID.String(),
	}).Info("Ledger client ready")

	return c, nil
}

// Address returns the signer address, empty when unconfigured
func (c *Client) Address() string {
	if c.privateKey == nil {
		return ""
	}
	return c.signerAddr.Hex()
}

// CanMint reports whether both contract and signer are configured
func (c *Client) CanMint() bool {
	return c.backend != nil && c.privateKey != nil
}

// Mint calls mintForProject(to, amount, contentRef) and waits for the
// receipt. Send, confirmation and revert failures are *submissions.MintFailure.
// The whole call, send included, is bounded by the confirm timeout so it
// always returns within the project lock's lifetime.
func (c *Client) Mint(ctx context.Context, to string, amount int64, contentRef string) (*Receipt, error) {
	if !c.CanMint() {
		return nil, submissions.ErrNotConfigured
	}
	if !common.IsHexAddress(to) {
		return nil, submissions.Invalid("to", "not a hex address")
	}
	if amount < 0 {
		return nil, submissions.Invalid("amount", "must not be negative")
	}

	recipient := common.HexToAddress(to)
	data, err := c.abi.Pack("mintForProject", recipient, big.NewInt(amount), contentRef)
	if err != nil {
		return nil, &submissions.MintFailure{Cause: fmt.Errorf("failed to pack mintForProject call: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	signedTx, err := c.send(ctx, data)
	if err != nil {
		failure := &submissions.MintFailure{Cause: err}
		// a broadcast cut off by the deadline may still reach the mempool
		if signedTx != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			failure.TxHash = signedTx.Hash().Hex()
		}
		return nil, failure
	}
	txHash := signedTx.Hash().Hex()

	receipt, err := bind.WaitMined(ctx, c.backend, signedTx)
	if err != nil {
		return nil, &submissions.MintFailure{
			Cause:  fmt.Errorf("transaction not confirmed: %w", err),
			TxHash: txHash,
		}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		log.WithFields(log.Fields{
			"tx_hash": txHash,
			"to":      recipient.Hex(),
		}).Error("Mint transaction reverted")
		return nil, &submissions.MintFailure{
			Cause:  fmt.Errorf("transaction reverted"),
			TxHash: txHash,
		}
	}

	result := &Receipt{
		TxHash:     receipt.TxHash.Hex(),
		GasUsed:    receipt.GasUsed,
		To:         recipient.Hex(),
		Amount:     amount,
		ContentRef: contentRef,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}

	log.WithFields(log.Fields{
		"tx_hash":      result.TxHash,
		"block_number": result.BlockNumber,
		"gas_used":     result.GasUsed,
		"to":           result.To,
		"amount":       amount,
	}).Info("Mint confirmed")

	return result, nil
}

// send estimates, signs and broadcasts a call to the token contract. The
// nonce is read and consumed while holding sendSlot so concurrent mints
// never share one. On a failed broadcast the signed transaction is returned
// with the error.
func (c *Client) send(ctx context.Context, data []byte) (*types.Transaction, error) {
	msg := ethereum.CallMsg{
		From: c.signerAddr,
		To:   &c.contractAddr,
		Data: data,
	}
	gasLimit, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	// Add 20% buffer
	gasLimit = gasLimit * 12 / 10

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	select {
	case c.sendSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting to send: %w", ctx.Err())
	}
	defer func() { <-c.sendSlot }()

	nonce, err := c.backend.PendingNonceAt(ctx, c.signerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contractAddr,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"tx_hash":   signedTx.Hash().Hex(),
		"gas_limit": gasLimit,
		"gas_price": gasPrice.String(),
		"nonce":     nonce,
	}).Info("Sending mint transaction")

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return signedTx, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx, nil
}

// BalanceOf reads the token balance of address. Only the contract address
// is required, no signer.
func (c *Client) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	if c.backend == nil {
		return nil, submissions.ErrNotConfigured
	}
	if !common.IsHexAddress(address) {
		return nil, submissions.Invalid("address", "not a hex address")
	}

	data, err := c.abi.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contractAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	values, err := c.abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balanceOf result: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected balanceOf result length %d", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}

// Close closes the client connection
func (c *Client) Close() {
	if c.backend != nil {
		c.backend.Close()
	}
}
