package deposit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	erc20ABIJSON = `[
{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"address","name":"from","type":"address"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`
)

var (
	erc20ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// ChainClient is the subset of ethclient.Client used by ERC20.
type ChainClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ERC20Options parameterise the on-chain deposit asset.
type ERC20Options struct {
	RPCURL         string
	TokenAddress   string
	CustodyKey     string
	ChainID        int64
	Timeout        time.Duration
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// ERC20 moves an on-chain token with transactions signed by the custody key.
type ERC20 struct {
	opts      ERC20Options
	logger    zerolog.Logger
	client    ChainClient
	clientMux sync.Mutex
	sendMux   sync.Mutex
	key       *ecdsa.PrivateKey
	custody   common.Address
	token     common.Address
}

// NewERC20 builds the on-chain asset. The RPC connection is dialled lazily.
func NewERC20(opts ERC20Options, logger zerolog.Logger) (*ERC20, error) {
	if opts.TokenAddress == "" || !common.IsHexAddress(opts.TokenAddress) {
		return nil, errors.New("token contract address not configured")
	}
	if opts.CustodyKey == "" {
		return nil, errors.New("custody key not configured")
	}
	if opts.ChainID <= 0 {
		return nil, errors.New("chain id not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.CustodyKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse custody key: %w", err)
	}

	return &ERC20{
		opts:    opts,
		logger:  logger.With().Str("component", "erc20_deposit").Logger(),
		key:     key,
		custody: crypto.PubkeyToAddress(key.PublicKey),
		token:   common.HexToAddress(opts.TokenAddress),
	}, nil
}

// WithClient injects a chain client instead of dialling RPCURL.
func (e *ERC20) WithClient(client ChainClient) *ERC20 {
	e.clientMux.Lock()
	defer e.clientMux.Unlock()
	e.client = client
	return e
}

// Custody returns the address derived from the custody key.
func (e *ERC20) Custody() common.Address {
	return e.custody
}

func (e *ERC20) timeout() time.Duration {
	if e.opts.Timeout <= 0 {
		return 10 * time.Second
	}
	return e.opts.Timeout
}

// BalanceOf implements Asset.
func (e *ERC20) BalanceOf(ctx context.Context, who common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()
	return e.callUint(ctx, "balanceOf", who)
}

// TransferIn implements Asset by calling transferFrom(from, custody, amount).
func (e *ERC20) TransferIn(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	allowance, err := e.callUint(ctx, "allowance", from, e.custody)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}

	payload, err := erc20ABI.Pack("transferFrom", from, e.custody, amount)
	if err != nil {
		return err
	}
	return e.send(ctx, payload)
}

// TransferOut implements Asset by calling transfer(to, amount) from custody.
func (e *ERC20) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	payload, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return err
	}
	return e.send(ctx, payload)
}

func (e *ERC20) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	client, err := e.getClient(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &e.token, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	outputs, err := erc20ABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return value, nil
}

// send signs and submits a token call from custody and waits for a successful receipt.
func (e *ERC20) send(ctx context.Context, payload []byte) error {
	client, err := e.getClient(ctx)
	if err != nil {
		return err
	}

	e.sendMux.Lock()
	defer e.sendMux.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	nonce, err := client.PendingNonceAt(sendCtx, e.custody)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(sendCtx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := client.EstimateGas(sendCtx, ethereum.CallMsg{From: e.custody, To: &e.token, Data: payload})
	if err != nil {
		return fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.token,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     payload,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(e.opts.ChainID)), e.key)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	if err := client.SendTransaction(sendCtx, signed); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}

	e.logger.Info().Str("tx", signed.Hash().Hex()).Uint64("nonce", nonce).Msg("token transaction submitted")
	return e.waitMined(ctx, client, signed.Hash())
}

func (e *ERC20) waitMined(ctx context.Context, client ChainClient, hash common.Hash) error {
	timeout := e.opts.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	poll := e.opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("transaction receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *ERC20) getClient(ctx context.Context) (ChainClient, error) {
	e.clientMux.Lock()
	defer e.clientMux.Unlock()

	if e.client != nil {
		return e.client, nil
	}
	if e.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, e.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

var _ Asset = (*ERC20)(nil)
