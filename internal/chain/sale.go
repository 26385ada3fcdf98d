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

const saleABIJSON = `[
  {"inputs":[],"name":"tokenPrice","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"rewardPercent","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"paused","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"payToken","type":"address"},{"name":"amount","type":"uint256"}],"name":"buyToken","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"price","type":"uint256"}],"name":"setTokenPrice","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"state","type":"bool"}],"name":"setPaused","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Sale binds the token-sale contract. Price is 1e6-scaled USD per token;
// rewardPercent is a whole percent applied on top of each purchase.
type Sale struct {
	client   *Client
	addr     common.Address
	contract *bind.BoundContract
}

func NewSale(client *Client, addr common.Address) (*Sale, error) {
	parsed, err := abi.JSON(strings.NewReader(saleABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse sale abi: %w", err)
	}

	eth := client.Backend()
	return &Sale{
		client:   client,
		addr:     addr,
		contract: bind.NewBoundContract(addr, parsed, eth, eth, eth),
	}, nil
}

func (s *Sale) Address() common.Address { return s.addr }

func (s *Sale) TokenPrice(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenPrice"); err != nil {
		return nil, fmt.Errorf("tokenPrice: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (s *Sale) RewardPercent(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "rewardPercent"); err != nil {
		return nil, fmt.Errorf("rewardPercent: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (s *Sale) Paused(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "paused"); err != nil {
		return false, fmt.Errorf("paused: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (s *Sale) BuyToken(ctx context.Context, payToken common.Address, amount *big.Int) (*types.Transaction, error) {
	opts, err := s.client.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := s.contract.Transact(opts, "buyToken", payToken, amount)
	if err != nil {
		return nil, fmt.Errorf("buyToken: %w", err)
	}
	return tx, nil
}

func (s *Sale) SetTokenPrice(ctx context.Context, price *big.Int) (*types.Transaction, error) {
	opts, err := s.client.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := s.contract.Transact(opts, "setTokenPrice", price)
	if err != nil {
		return nil, fmt.Errorf("setTokenPrice: %w", err)
	}
	return tx, nil
}

func (s *Sale) SetPaused(ctx context.Context, state bool) (*types.Transaction, error) {
	opts, err := s.client.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := s.contract.Transact(opts, "setPaused", state)
	if err != nil {
		return nil, fmt.Errorf("setPaused: %w", err)
	}
	return tx, nil
}
