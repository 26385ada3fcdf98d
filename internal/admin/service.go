package admin

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/chain"
	"tecnoico/internal/domain"
	"tecnoico/internal/units"
)

var (
	ErrNotAdmin         = errors.New("wallet is not in the admin registry")
	ErrNotSuperAdmin    = errors.New("operation is restricted to the super admin")
	ErrRemoveSuperAdmin = errors.New("the super admin cannot be removed")
	ErrSlotLocked       = errors.New("release slot time is in the past, slot is read-only")
	ErrBadSchedule      = errors.New("release times must be strictly increasing")
	ErrBadRewardPercent = errors.New("reward percent must be within [1,100]")
)

// SaleContract is the sale binding surface the service drives.
type SaleContract interface {
	TokenPrice(ctx context.Context) (*big.Int, error)
	RewardPercent(ctx context.Context) (*big.Int, error)
	Paused(ctx context.Context) (bool, error)
	SetTokenPrice(ctx context.Context, price *big.Int) (*types.Transaction, error)
	SetPaused(ctx context.Context, state bool) (*types.Transaction, error)
}

// StakingContract exposes the release schedule.
type StakingContract interface {
	AllReleases(ctx context.Context) ([]*chain.Release, error)
	SetRelease(ctx context.Context, index int, r *chain.Release) (*types.Transaction, error)
}

// Registry is the on-chain admin membership.
type Registry interface {
	IsAdmin(ctx context.Context, account common.Address) (bool, error)
	SuperAdmin(ctx context.Context) (common.Address, error)
	Admins(ctx context.Context) ([]common.Address, error)
	AddAdmin(ctx context.Context, account common.Address) (*types.Transaction, error)
	RemoveAdmin(ctx context.Context, account common.Address) (*types.Transaction, error)
	ChangeSuperAdmin(ctx context.Context, account common.Address) (*types.Transaction, error)
}

// Confirmer waits for one confirmation of a submitted transaction.
type Confirmer interface {
	WaitConfirmed(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// PriceStore appends audit rows for price changes.
type PriceStore interface {
	Create(ctx context.Context, p *domain.Price) error
}

// Broadcaster announces control-plane changes to subscribers.
type Broadcaster interface {
	PublishPrice(p *domain.Price) error
	PublishPause(paused bool) error
}

// Service is the control plane for the token sale: price, pause, admin
// membership and the staking release schedule. Every write goes to chain,
// waits for one confirmation, then updates the off-chain side.
type Service struct {
	log       logger.Logger
	sale      SaleContract
	staking   StakingContract
	registry  Registry
	confirmer Confirmer
	prices    PriceStore
	bcast     Broadcaster

	tokenSymbol string
	nowFn       func() time.Time
}

func NewService(
	log logger.Logger,
	sale SaleContract,
	staking StakingContract,
	registry Registry,
	confirmer Confirmer,
	prices PriceStore,
	bcast Broadcaster,
	tokenSymbol string,
) *Service {
	if tokenSymbol == "" {
		tokenSymbol = "NEFE"
	}

	return &Service{
		log:         log,
		sale:        sale,
		staking:     staking,
		registry:    registry,
		confirmer:   confirmer,
		prices:      prices,
		bcast:       bcast,
		tokenSymbol: tokenSymbol,
		nowFn:       time.Now,
	}
}

// RequireAdmin checks the wallet against the on-chain registry. The JWT only
// authenticates the caller; membership is decided here, per request.
func (s *Service) RequireAdmin(ctx context.Context, wallet string) error {
	addr, err := parseAddress(wallet)
	if err != nil {
		return err
	}

	ok, err := s.registry.IsAdmin(ctx, addr)
	if err != nil {
		return fmt.Errorf("admin registry check: %w", err)
	}
	if !ok {
		return ErrNotAdmin
	}
	return nil
}

// ICOParams reads the live sale parameters from chain.
func (s *Service) ICOParams(ctx context.Context) (*domain.SaleParams, error) {
	price, err := s.sale.TokenPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("read token price: %w", err)
	}
	percent, err := s.sale.RewardPercent(ctx)
	if err != nil {
		return nil, fmt.Errorf("read reward percent: %w", err)
	}
	paused, err := s.sale.Paused(ctx)
	if err != nil {
		return nil, fmt.Errorf("read paused: %w", err)
	}

	return &domain.SaleParams{
		PriceUSD:      units.FromUnits(price, units.USDDecimals),
		RewardPercent: percent.Int64(),
		Paused:        paused,
	}, nil
}

// SetPrice writes the new token price on chain, records the audit row and
// broadcasts it. The Price row is the off-chain history; the contract holds
// only the current value.
func (s *Service) SetPrice(ctx context.Context, price decimal.Decimal, validUntil time.Time, reason string) (*domain.Price, error) {
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive, got %s", price)
	}
	if validUntil.IsZero() {
		// Callers that omit the expiry get end of tomorrow.
		d := s.nowFn().AddDate(0, 0, 1)
		validUntil = time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, d.Location())
	}

	priceUnits, err := units.ToUnits(price.String(), units.USDDecimals)
	if err != nil {
		return nil, fmt.Errorf("scale price: %w", err)
	}

	tx, err := s.sale.SetTokenPrice(ctx, priceUnits)
	if err != nil {
		return nil, fmt.Errorf("set token price on chain: %w", err)
	}
	if _, err = s.confirmer.WaitConfirmed(ctx, tx.Hash()); err != nil {
		return nil, fmt.Errorf("confirm price change: %w", err)
	}

	row := &domain.Price{
		Token:      s.tokenSymbol,
		Price:      price,
		ValidUntil: validUntil,
		Reason:     reason,
	}
	if err = s.prices.Create(ctx, row); err != nil {
		// Chain holds the truth; a missing audit row is logged, not fatal.
		s.log.Errorf("Price changed on chain but audit row failed: %v", err)
	} else if s.bcast != nil {
		if berr := s.bcast.PublishPrice(row); berr != nil {
			s.log.Errorf("Failed to broadcast price change: %v", berr)
		}
	}

	s.log.Infof("Token price set to %s USD (tx=%s)", price, tx.Hash())
	return row, nil
}

// SetPaused toggles the sale.
func (s *Service) SetPaused(ctx context.Context, paused bool) error {
	tx, err := s.sale.SetPaused(ctx, paused)
	if err != nil {
		return fmt.Errorf("set paused on chain: %w", err)
	}
	if _, err = s.confirmer.WaitConfirmed(ctx, tx.Hash()); err != nil {
		return fmt.Errorf("confirm pause change: %w", err)
	}

	if s.bcast != nil {
		if berr := s.bcast.PublishPause(paused); berr != nil {
			s.log.Errorf("Failed to broadcast pause change: %v", berr)
		}
	}

	s.log.Infof("Sale paused=%v (tx=%s)", paused, tx.Hash())
	return nil
}

// Releases reads the full schedule; slots whose time already passed are
// flagged locked.
func (s *Service) Releases(ctx context.Context) ([]domain.ReleaseSlot, error) {
	rels, err := s.staking.AllReleases(ctx)
	if err != nil {
		return nil, fmt.Errorf("read releases: %w", err)
	}

	now := s.nowFn().Unix()
	out := make([]domain.ReleaseSlot, len(rels))
	for i, r := range rels {
		t := r.Time.Int64()
		out[i] = domain.ReleaseSlot{
			Index:         i,
			Time:          t,
			Price:         units.FromUnits(r.Price, units.USDDecimals),
			RewardPercent: r.RewardPercent.Int64(),
			Locked:        t > 0 && t <= now,
		}
	}
	return out, nil
}

// SetReleases validates and writes the changed slots, then re-reads the
// schedule from chain as the authoritative result.
func (s *Service) SetReleases(ctx context.Context, slots []domain.ReleaseSlot) ([]domain.ReleaseSlot, error) {
	if len(slots) == 0 || len(slots) > chain.ReleaseSlots {
		return nil, fmt.Errorf("schedule must carry 1..%d slots, got %d", chain.ReleaseSlots, len(slots))
	}

	// Times strictly increasing across the submitted slots.
	for i := 1; i < len(slots); i++ {
		if slots[i].Time <= slots[i-1].Time {
			return nil, ErrBadSchedule
		}
	}
	for _, sl := range slots {
		if sl.RewardPercent < 1 || sl.RewardPercent > 100 {
			return nil, ErrBadRewardPercent
		}
		if sl.Index < 0 || sl.Index >= chain.ReleaseSlots {
			return nil, fmt.Errorf("slot index %d out of range", sl.Index)
		}
	}

	current, err := s.Releases(ctx)
	if err != nil {
		return nil, err
	}

	for _, sl := range slots {
		cur := current[sl.Index]
		if cur.Locked && (sl.Time != cur.Time || !sl.Price.Equal(cur.Price) || sl.RewardPercent != cur.RewardPercent) {
			return nil, fmt.Errorf("slot %d: %w", sl.Index, ErrSlotLocked)
		}
	}

	for _, sl := range slots {
		cur := current[sl.Index]
		if sl.Time == cur.Time && sl.Price.Equal(cur.Price) && sl.RewardPercent == cur.RewardPercent {
			continue // unchanged
		}

		priceUnits, uerr := units.ToUnits(sl.Price.String(), units.USDDecimals)
		if uerr != nil {
			return nil, fmt.Errorf("slot %d price: %w", sl.Index, uerr)
		}

		tx, terr := s.staking.SetRelease(ctx, sl.Index, &chain.Release{
			Time:          big.NewInt(sl.Time),
			Price:         priceUnits,
			RewardPercent: big.NewInt(sl.RewardPercent),
		})
		if terr != nil {
			return nil, fmt.Errorf("set release %d: %w", sl.Index, terr)
		}
		if _, terr = s.confirmer.WaitConfirmed(ctx, tx.Hash()); terr != nil {
			return nil, fmt.Errorf("confirm release %d: %w", sl.Index, terr)
		}

		s.log.Infof("Release slot %d updated (tx=%s)", sl.Index, tx.Hash())
	}

	return s.Releases(ctx)
}

// AdminSet reads the registry membership.
func (s *Service) AdminSet(ctx context.Context) (*domain.AdminSet, error) {
	super, err := s.registry.SuperAdmin(ctx)
	if err != nil {
		return nil, fmt.Errorf("read super admin: %w", err)
	}
	admins, err := s.registry.Admins(ctx)
	if err != nil {
		return nil, fmt.Errorf("read admins: %w", err)
	}

	out := &domain.AdminSet{SuperAdmin: normalizeHex(super)}
	for _, a := range admins {
		out.Admins = append(out.Admins, normalizeHex(a))
	}
	return out, nil
}

// AddAdmin grants membership to a wallet.
func (s *Service) AddAdmin(ctx context.Context, wallet string) error {
	addr, err := parseAddress(wallet)
	if err != nil {
		return err
	}

	tx, err := s.registry.AddAdmin(ctx, addr)
	if err != nil {
		return fmt.Errorf("add admin on chain: %w", err)
	}
	if _, err = s.confirmer.WaitConfirmed(ctx, tx.Hash()); err != nil {
		return fmt.Errorf("confirm add admin: %w", err)
	}

	s.log.Infof("Admin added: %s (tx=%s)", wallet, tx.Hash())
	return nil
}

// RemoveAdmin revokes membership. The super admin is not removable.
func (s *Service) RemoveAdmin(ctx context.Context, wallet string) error {
	addr, err := parseAddress(wallet)
	if err != nil {
		return err
	}

	super, err := s.registry.SuperAdmin(ctx)
	if err != nil {
		return fmt.Errorf("read super admin: %w", err)
	}
	if addr == super {
		return ErrRemoveSuperAdmin
	}

	tx, err := s.registry.RemoveAdmin(ctx, addr)
	if err != nil {
		return fmt.Errorf("remove admin on chain: %w", err)
	}
	if _, err = s.confirmer.WaitConfirmed(ctx, tx.Hash()); err != nil {
		return fmt.Errorf("confirm remove admin: %w", err)
	}

	s.log.Infof("Admin removed: %s (tx=%s)", wallet, tx.Hash())
	return nil
}

// ChangeSuperAdmin hands the super role over. Only the current super admin
// may call it; actor is the authenticated wallet.
func (s *Service) ChangeSuperAdmin(ctx context.Context, actor, wallet string) error {
	actorAddr, err := parseAddress(actor)
	if err != nil {
		return err
	}
	newAddr, err := parseAddress(wallet)
	if err != nil {
		return err
	}

	super, err := s.registry.SuperAdmin(ctx)
	if err != nil {
		return fmt.Errorf("read super admin: %w", err)
	}
	if actorAddr != super {
		return ErrNotSuperAdmin
	}

	tx, err := s.registry.ChangeSuperAdmin(ctx, newAddr)
	if err != nil {
		return fmt.Errorf("change super admin on chain: %w", err)
	}
	if _, err = s.confirmer.WaitConfirmed(ctx, tx.Hash()); err != nil {
		return fmt.Errorf("confirm change super admin: %w", err)
	}

	s.log.Infof("Super admin changed to %s (tx=%s)", wallet, tx.Hash())
	return nil
}

func parseAddress(wallet string) (common.Address, error) {
	norm, err := domain.NormalizeAddress(wallet)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(norm), nil
}

func normalizeHex(a common.Address) string {
	norm, _ := domain.NormalizeAddress(a.Hex())
	return norm
}
