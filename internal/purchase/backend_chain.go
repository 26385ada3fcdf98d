package purchase

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tecnoico/internal/chain"
	"tecnoico/internal/domain"
)

// ChainBackend implements Backend over the deployed contracts. All
// transactions are submitted from the operator wallet.
type ChainBackend struct {
	client  *chain.Client
	sale    *chain.Sale
	stables map[domain.Currency]*chain.ERC20
}

func NewChainBackend(client *chain.Client, sale *chain.Sale, stables map[domain.Currency]*chain.ERC20) *ChainBackend {
	return &ChainBackend{
		client:  client,
		sale:    sale,
		stables: stables,
	}
}

func (b *ChainBackend) stable(cur domain.Currency) (*chain.ERC20, error) {
	t, ok := b.stables[cur]
	if !ok || t == nil {
		return nil, fmt.Errorf("no payment token bound for currency %s", cur)
	}
	return t, nil
}

func (b *ChainBackend) VerifyChainID(ctx context.Context) error {
	return b.client.VerifyChainID(ctx)
}

func (b *ChainBackend) SalePaused(ctx context.Context) (bool, error) {
	return b.sale.Paused(ctx)
}

func (b *ChainBackend) TokenPrice(ctx context.Context) (*big.Int, error) {
	return b.sale.TokenPrice(ctx)
}

func (b *ChainBackend) RewardPercent(ctx context.Context) (*big.Int, error) {
	return b.sale.RewardPercent(ctx)
}

func (b *ChainBackend) StableBalance(ctx context.Context, cur domain.Currency) (*big.Int, error) {
	t, err := b.stable(cur)
	if err != nil {
		return nil, err
	}
	return t.BalanceOf(ctx, b.client.Operator())
}

func (b *ChainBackend) StableAllowance(ctx context.Context, cur domain.Currency) (*big.Int, error) {
	t, err := b.stable(cur)
	if err != nil {
		return nil, err
	}
	return t.Allowance(ctx, b.client.Operator(), b.sale.Address())
}

func (b *ChainBackend) Approve(ctx context.Context, cur domain.Currency, amount *big.Int) (string, error) {
	t, err := b.stable(cur)
	if err != nil {
		return "", err
	}
	tx, err := t.Approve(ctx, b.sale.Address(), amount)
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (b *ChainBackend) Buy(ctx context.Context, cur domain.Currency, amount *big.Int) (string, error) {
	t, err := b.stable(cur)
	if err != nil {
		return "", err
	}
	tx, err := b.sale.BuyToken(ctx, t.Address(), amount)
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

func (b *ChainBackend) WaitConfirmed(ctx context.Context, txHash string) (uint64, error) {
	rcpt, err := b.client.WaitConfirmed(ctx, common.HexToHash(txHash))
	if err != nil {
		return 0, err
	}
	return rcpt.BlockNumber.Uint64(), nil
}
