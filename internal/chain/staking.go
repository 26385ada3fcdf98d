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

// The release schedule is five fixed slots.
const ReleaseSlots = 5

const stakingABIJSON = `[
  {"inputs":[{"name":"index","type":"uint256"}],"name":"releases","outputs":[{"name":"time","type":"uint256"},{"name":"price","type":"uint256"},{"name":"rewardPercent","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"index","type":"uint256"},{"name":"time","type":"uint256"},{"name":"price","type":"uint256"},{"name":"rewardPercent","type":"uint256"}],"name":"setRelease","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// Staking binds the release-schedule contract.
type Staking struct {
	client   *Client
	addr     common.Address
	contract *bind.BoundContract
}

type Release struct {
	Time          *big.Int
	Price         *big.Int // 1e6-scaled USD
	RewardPercent *big.Int
}

func NewStaking(client *Client, addr common.Address) (*Staking, error) {
	parsed, err := abi.JSON(strings.NewReader(stakingABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse staking abi: %w", err)
	}

	eth := client.Backend()
	return &Staking{
		client:   client,
		addr:     addr,
		contract: bind.NewBoundContract(addr, parsed, eth, eth, eth),
	}, nil
}

func (s *Staking) Address() common.Address { return s.addr }

func (s *Staking) ReleaseAt(ctx context.Context, index int) (*Release, error) {
	if index < 0 || index >= ReleaseSlots {
		return nil, fmt.Errorf("release index out of range: %d", index)
	}

	var out []interface{}
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, "releases", big.NewInt(int64(index))); err != nil {
		return nil, fmt.Errorf("releases(%d): %w", index, err)
	}

	return &Release{
		Time:          abi.ConvertType(out[0], new(big.Int)).(*big.Int),
		Price:         abi.ConvertType(out[1], new(big.Int)).(*big.Int),
		RewardPercent: abi.ConvertType(out[2], new(big.Int)).(*big.Int),
	}, nil
}

func (s *Staking) AllReleases(ctx context.Context) ([]*Release, error) {
	rels := make([]*Release, 0, ReleaseSlots)
	for i := 0; i < ReleaseSlots; i++ {
		r, err := s.ReleaseAt(ctx, i)
		if err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, nil
}

func (s *Staking) SetRelease(ctx context.Context, index int, r *Release) (*types.Transaction, error) {
	if index < 0 || index >= ReleaseSlots {
		return nil, fmt.Errorf("release index out of range: %d", index)
	}

	opts, err := s.client.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := s.contract.Transact(opts, "setRelease",
		big.NewInt(int64(index)), r.Time, r.Price, r.RewardPercent)
	if err != nil {
		return nil, fmt.Errorf("setRelease(%d): %w", index, err)
	}
	return tx, nil
}
