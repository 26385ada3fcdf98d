package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const adminsABIJSON = `[
  {"inputs":[{"name":"account","type":"address"}],"name":"isAdmin","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"superAdmin","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getAdmins","outputs":[{"name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"account","type":"address"}],"name":"addAdmin","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"account","type":"address"}],"name":"removeAdmin","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"account","type":"address"}],"name":"changeSuperAdmin","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// AdminRegistry binds the on-chain admin set. This service reads membership
// and submits mutations; the contract itself owns the authorization rules.
type AdminRegistry struct {
	client   *Client
	addr     common.Address
	contract *bind.BoundContract
}

func NewAdminRegistry(client *Client, addr common.Address) (*AdminRegistry, error) {
	parsed, err := abi.JSON(strings.NewReader(adminsABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse admins abi: %w", err)
	}

	eth := client.Backend()
	return &AdminRegistry{
		client:   client,
		addr:     addr,
		contract: bind.NewBoundContract(addr, parsed, eth, eth, eth),
	}, nil
}

func (a *AdminRegistry) Address() common.Address { return a.addr }

func (a *AdminRegistry) IsAdmin(ctx context.Context, account common.Address) (bool, error) {
	var out []interface{}
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isAdmin", account); err != nil {
		return false, fmt.Errorf("isAdmin: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (a *AdminRegistry) SuperAdmin(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "superAdmin"); err != nil {
		return common.Address{}, fmt.Errorf("superAdmin: %w", err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (a *AdminRegistry) Admins(ctx context.Context) ([]common.Address, error) {
	var out []interface{}
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAdmins"); err != nil {
		return nil, fmt.Errorf("getAdmins: %w", err)
	}
	return *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address), nil
}

func (a *AdminRegistry) AddAdmin(ctx context.Context, account common.Address) (*types.Transaction, error) {
	return a.transact(ctx, "addAdmin", account)
}

func (a *AdminRegistry) RemoveAdmin(ctx context.Context, account common.Address) (*types.Transaction, error) {
	return a.transact(ctx, "removeAdmin", account)
}

func (a *AdminRegistry) ChangeSuperAdmin(ctx context.Context, account common.Address) (*types.Transaction, error) {
	return a.transact(ctx, "changeSuperAdmin", account)
}

func (a *AdminRegistry) transact(ctx context.Context, method string, account common.Address) (*types.Transaction, error) {
	opts, err := a.client.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := a.contract.Transact(opts, method, account)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return tx, nil
}
