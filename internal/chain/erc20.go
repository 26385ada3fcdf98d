package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const erc20ABIJSON = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// ERC20 is a minimal binding over a stablecoin or the sale token.
type ERC20 struct {
	client   *Client
	addr     common.Address
	contract *bind.BoundContract
}

func NewERC20(client *Client, addr common.Address) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}

	eth := client.Backend()
	return &ERC20{
		client:   client,
		addr:     addr,
		contract: bind.NewBoundContract(addr, parsed, eth, eth, eth),
	}, nil
}

func (t *ERC20) Address() common.Address { return t.addr }

func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", owner.Hex(), err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "symbol"); err != nil {
		return "", fmt.Errorf("symbol: %w", err)
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (t *ERC20) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	opts, err := t.client.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := t.contract.Transact(opts, "approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	return tx, nil
}
