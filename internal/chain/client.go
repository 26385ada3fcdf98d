package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/config"
)

var (
	ErrWrongNetwork   = errors.New("connected node is on an unexpected network")
	ErrTxReverted     = errors.New("transaction reverted")
	ErrConfirmTimeout = errors.New("timed out waiting for confirmation")
)

// Client is the Ethereum JSON-RPC client shared by all contract bindings.
// One confirmation is considered final for this service.
type Client struct {
	log    logger.Logger
	rpcCli *rpc.Client
	eth    *ethclient.Client

	chainID     *big.Int
	operator    *ecdsa.PrivateKey
	operatorAdr common.Address

	confirmPoll    time.Duration
	confirmTimeout time.Duration
}

func Dial(ctx context.Context, log logger.Logger, cfg *config.ChainConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("chain config is required")
	}
	if cfg.NodeURL == "" {
		return nil, errors.New("chain node_url is required")
	}

	rpcCli, err := rpc.DialContext(ctx, cfg.NodeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}
	eth := ethclient.NewClient(rpcCli)

	c := &Client{
		log:            log,
		rpcCli:         rpcCli,
		eth:            eth,
		chainID:        new(big.Int).SetUint64(cfg.ChainID),
		confirmPoll:    cfg.ConfirmPoll,
		confirmTimeout: cfg.ConfirmTimeout,
	}
	if c.confirmPoll <= 0 {
		c.confirmPoll = 2 * time.Second
	}
	if c.confirmTimeout <= 0 {
		c.confirmTimeout = 3 * time.Minute
	}

	if err = c.VerifyChainID(ctx); err != nil {
		rpcCli.Close()
		return nil, err
	}

	if cfg.OperatorKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKey, "0x"))
		if err != nil {
			rpcCli.Close()
			return nil, fmt.Errorf("invalid operator key: %w", err)
		}
		c.operator = key
		c.operatorAdr = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

func (c *Client) Close() {
	c.rpcCli.Close()
}

// VerifyChainID probes the node and compares against the configured network.
func (c *Client) VerifyChainID(ctx context.Context) error {
	got, err := c.eth.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to query chain id: %w", err)
	}
	if got.Cmp(c.chainID) != 0 {
		return fmt.Errorf("%w: want %s, got %s", ErrWrongNetwork, c.chainID, got)
	}
	return nil
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) Operator() common.Address {
	return c.operatorAdr
}

// TransactOpts builds signing options from the operator key.
func (c *Client) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.operator == nil {
		return nil, errors.New("operator key is not configured")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.operator, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// WaitConfirmed polls for the receipt until the tx is mined, then checks its
// status. Returns the receipt on success, ErrTxReverted on a failed status.
func (c *Client) WaitConfirmed(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	t := time.NewTicker(c.confirmPoll)
	defer t.Stop()

	for {
		rcpt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil && rcpt != nil {
			if rcpt.Status == types.ReceiptStatusFailed {
				return rcpt, fmt.Errorf("%w: %s", ErrTxReverted, txHash.Hex())
			}
			return rcpt, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrConfirmTimeout, txHash.Hex())
			}
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// Backend exposes the underlying client for bindings.
func (c *Client) Backend() *ethclient.Client {
	return c.eth
}
