package purchase

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/domain"
	"tecnoico/internal/units"
)

// Workflow turns one purchase request into an on-chain purchase plus an
// off-chain settlement record. States are explicit and strictly ordered:
// each on-chain step is gated on the confirmation of the previous one.

type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateApproving  State = "approving"
	StatePurchasing State = "purchasing"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// USDT and USDC both carry six decimals, matching the USD unit scale.
const stableDecimals = 6

// Backend is the contract surface the workflow drives. Implemented over the
// chain bindings; mocked in tests.
type Backend interface {
	VerifyChainID(ctx context.Context) error
	SalePaused(ctx context.Context) (bool, error)
	TokenPrice(ctx context.Context) (*big.Int, error)    // 1e6-scaled USD
	RewardPercent(ctx context.Context) (*big.Int, error) // whole percent
	StableBalance(ctx context.Context, cur domain.Currency) (*big.Int, error)
	StableAllowance(ctx context.Context, cur domain.Currency) (*big.Int, error)
	Approve(ctx context.Context, cur domain.Currency, amount *big.Int) (string, error)
	Buy(ctx context.Context, cur domain.Currency, amount *big.Int) (string, error)
	WaitConfirmed(ctx context.Context, txHash string) (blockNumber uint64, err error)
}

// Settler persists a confirmed purchase. deferred=true means the record went
// to the durable outbox instead of the primary store.
type Settler interface {
	Settle(ctx context.Context, s *domain.Settlement) (deferred bool, err error)
}

// PriceRef resolves the active off-chain price reference, best effort.
type PriceRef interface {
	ActivePriceID(ctx context.Context, token string) (*int64, error)
}

type Opts struct {
	MinUSD        decimal.Decimal
	MaxUSD        decimal.Decimal
	ApproveDelay  time.Duration
	TokenSymbol   string
	TokenDecimals int
}

type Request struct {
	USDAmount     string
	Currency      domain.Currency
	WalletAddress string
}

type Result struct {
	State           State           `json:"state"`
	Trace           []State         `json:"trace"`
	ApprovalHash    string          `json:"approvalHash,omitempty"`
	PurchaseHash    string          `json:"purchaseHash,omitempty"`
	TokenAmount     decimal.Decimal `json:"tokenAmount"`
	RewardAmount    decimal.Decimal `json:"rewardAmount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	PriceUSD        decimal.Decimal `json:"priceUsd"`
	PersistDeferred bool            `json:"persistDeferred,omitempty"`
	Err             *Error          `json:"error,omitempty"`
}

// Workflow is single-use: one instance per purchase request.
type Workflow struct {
	log     logger.Logger
	backend Backend
	settler Settler
	prices  PriceRef
	opts    Opts

	// Set once the purchase call has been queued off the approval
	// confirmation; a repeated confirmation signal must not submit twice.
	purchaseQueued atomic.Bool

	mu  sync.Mutex
	res *Result
}

func New(log logger.Logger, backend Backend, settler Settler, prices PriceRef, opts Opts) *Workflow {
	if opts.ApproveDelay <= 0 {
		opts.ApproveDelay = time.Second
	}
	if opts.TokenDecimals <= 0 {
		opts.TokenDecimals = 18
	}
	if opts.TokenSymbol == "" {
		opts.TokenSymbol = "NEFE"
	}

	return &Workflow{
		log:     log,
		backend: backend,
		settler: settler,
		prices:  prices,
		opts:    opts,
		res:     &Result{State: StateIdle, Trace: []State{StateIdle}},
	}
}

func (w *Workflow) transition(s State) {
	w.mu.Lock()
	w.res.State = s
	w.res.Trace = append(w.res.Trace, s)
	w.mu.Unlock()
}

func (w *Workflow) fail(e *Error) (*Result, error) {
	w.transition(StateFailed)
	w.mu.Lock()
	w.res.Err = e
	r := w.res
	w.mu.Unlock()
	w.log.Warnf("Purchase failed: %v", e)
	return r, e
}

// Run executes the full workflow. The returned Result always carries the
// transition trace, including on failure.
func (w *Workflow) Run(ctx context.Context, req *Request) (*Result, error) {
	w.transition(StateValidating)

	amounts, verr := w.validate(ctx, req)
	if verr != nil {
		return w.fail(verr)
	}

	// Balance first: nothing is submitted when funds cannot cover the
	// payment.
	balance, err := w.backend.StableBalance(ctx, req.Currency)
	if err != nil {
		return w.fail(classifyChainErr(err, CodeApprovalFailed, StateValidating))
	}
	if balance.Cmp(amounts.payUnits) < 0 {
		return w.fail(newError(CodeInsufficientFunds, StateValidating,
			"stablecoin balance below required payment", nil))
	}

	w.transition(StateApproving)
	if aerr := w.approve(ctx, req.Currency, amounts.payUnits); aerr != nil {
		return w.fail(aerr)
	}

	// Approval is confirmed; the purchase submission rides on that state
	// change and is guarded against re-entry.
	res, submitted := w.onApprovalConfirmed(ctx, req, amounts)
	if !submitted {
		w.mu.Lock()
		r := w.res
		w.mu.Unlock()
		return r, nil
	}
	return res.r, res.err
}

type runAmounts struct {
	usdUnits    *big.Int
	payUnits    *big.Int
	priceUnits  *big.Int
	tokenUnits  *big.Int
	rewardUnits *big.Int
	totalUnits  *big.Int
	usdDec      decimal.Decimal
}

func (w *Workflow) validate(ctx context.Context, req *Request) (*runAmounts, *Error) {
	usd, err := decimal.NewFromString(req.USDAmount)
	if err != nil {
		return nil, newError(CodeInvalidAmount, StateValidating, "amount is not a valid number", err)
	}
	if usd.LessThan(w.opts.MinUSD) || usd.GreaterThan(w.opts.MaxUSD) {
		return nil, newError(CodeInvalidAmount, StateValidating,
			"amount must be between "+w.opts.MinUSD.String()+" and "+w.opts.MaxUSD.String()+" USD", nil)
	}

	switch req.Currency {
	case domain.CurrencyUSDT, domain.CurrencyUSDC:
	default:
		return nil, newError(CodeInvalidAmount, StateValidating,
			"unsupported payment currency: "+string(req.Currency), nil)
	}

	if _, err = domain.NormalizeAddress(req.WalletAddress); err != nil {
		return nil, newError(CodeInvalidAmount, StateValidating, "invalid wallet address", err)
	}

	if err = w.backend.VerifyChainID(ctx); err != nil {
		return nil, newError(CodeWrongNetwork, StateValidating, "connected to the wrong network", err)
	}

	paused, err := w.backend.SalePaused(ctx)
	if err != nil {
		return nil, classifyChainErr(err, CodeApprovalFailed, StateValidating)
	}
	if paused {
		return nil, newError(CodeSalePaused, StateValidating, "token sale is paused", nil)
	}

	price, err := w.backend.TokenPrice(ctx)
	if err != nil {
		return nil, classifyChainErr(err, CodeApprovalFailed, StateValidating)
	}
	percent, err := w.backend.RewardPercent(ctx)
	if err != nil {
		return nil, classifyChainErr(err, CodeApprovalFailed, StateValidating)
	}

	usdUnits, err := units.ToUnits(usd.String(), units.USDDecimals)
	if err != nil {
		return nil, newError(CodeInvalidAmount, StateValidating, "amount does not scale", err)
	}
	tokenUnits, err := units.QuoteTokenUnits(usdUnits, price, w.opts.TokenDecimals)
	if err != nil {
		return nil, newError(CodeInvalidAmount, StateValidating, "quote failed", err)
	}
	rewardUnits := units.RewardUnitsPercent(tokenUnits, percent.Int64())
	totalUnits := units.TotalUnits(tokenUnits, rewardUnits)

	// Stablecoins share the 1e6 scale with USD units, so the required
	// payment equals the scaled amount directly.
	payUnits, err := units.ToUnits(usd.String(), stableDecimals)
	if err != nil {
		return nil, newError(CodeInvalidAmount, StateValidating, "amount does not scale", err)
	}

	a := &runAmounts{
		usdUnits:    usdUnits,
		payUnits:    payUnits,
		priceUnits:  price,
		tokenUnits:  tokenUnits,
		rewardUnits: rewardUnits,
		totalUnits:  totalUnits,
		usdDec:      usd,
	}

	w.mu.Lock()
	w.res.TokenAmount = units.FromUnits(tokenUnits, w.opts.TokenDecimals)
	w.res.RewardAmount = units.FromUnits(rewardUnits, w.opts.TokenDecimals)
	w.res.TotalAmount = units.FromUnits(totalUnits, w.opts.TokenDecimals)
	w.res.PriceUSD = units.FromUnits(price, units.USDDecimals)
	w.mu.Unlock()

	return a, nil
}

func (w *Workflow) approve(ctx context.Context, cur domain.Currency, amount *big.Int) *Error {
	allowance, err := w.backend.StableAllowance(ctx, cur)
	if err != nil {
		return classifyChainErr(err, CodeApprovalFailed, StateApproving)
	}
	if allowance.Cmp(amount) >= 0 {
		w.log.Debugf("Standing allowance covers %s, skipping approve", amount)
		return nil
	}

	// Short pause before submission; wallet-side limiters trip on
	// back-to-back submissions. Heuristic, not a guarantee.
	select {
	case <-time.After(w.opts.ApproveDelay):
	case <-ctx.Done():
		return newError(CodeApprovalFailed, StateApproving, "context canceled", ctx.Err())
	}

	hash, err := w.backend.Approve(ctx, cur, amount)
	if err != nil {
		return classifyChainErr(err, CodeApprovalFailed, StateApproving)
	}

	w.mu.Lock()
	w.res.ApprovalHash = hash
	w.mu.Unlock()

	if _, err = w.backend.WaitConfirmed(ctx, hash); err != nil {
		return classifyChainErr(err, CodeApprovalFailed, StateApproving)
	}
	return nil
}

type purchaseOutcome struct {
	r   *Result
	err error
}

// onApprovalConfirmed submits the purchase exactly once. If the approval
// confirmation signal fires again, the queued flag makes the second
// invocation a no-op.
func (w *Workflow) onApprovalConfirmed(ctx context.Context, req *Request, a *runAmounts) (purchaseOutcome, bool) {
	if !w.purchaseQueued.CompareAndSwap(false, true) {
		return purchaseOutcome{}, false
	}

	w.transition(StatePurchasing)

	hash, err := w.backend.Buy(ctx, req.Currency, a.payUnits)
	if err != nil {
		r, e := w.fail(classifyChainErr(err, CodePurchaseFailed, StatePurchasing))
		return purchaseOutcome{r: r, err: e}, true
	}

	w.mu.Lock()
	w.res.PurchaseHash = hash
	w.mu.Unlock()

	block, err := w.backend.WaitConfirmed(ctx, hash)
	if err != nil {
		// The approval already went through; its allowance stays granted
		// but unspent. Surfaced as a purchase failure, nothing to unwind.
		r, e := w.fail(classifyChainErr(err, CodePurchaseFailed, StatePurchasing))
		return purchaseOutcome{r: r, err: e}, true
	}

	r, e := w.persist(ctx, req, a, hash, block)
	return purchaseOutcome{r: r, err: e}, true
}

func (w *Workflow) persist(ctx context.Context, req *Request, a *runAmounts, hash string, block uint64) (*Result, error) {
	w.transition(StatePersisting)

	// Price reference is an audit nicety; its absence never blocks the
	// record.
	var priceID *int64
	if w.prices != nil {
		if id, err := w.prices.ActivePriceID(ctx, w.opts.TokenSymbol); err == nil {
			priceID = id
		} else {
			w.log.Debugf("Active price lookup failed, recording without reference: %v", err)
		}
	}

	wallet, _ := domain.NormalizeAddress(req.WalletAddress)
	norm, err := domain.NormalizeHash(hash)
	if err != nil {
		norm = hash
	}

	s := &domain.Settlement{
		Hash:          norm,
		WalletAddress: wallet,
		Currency:      req.Currency,
		AmountUSD:     a.usdDec,
		TokenAmount:   units.FromUnits(a.tokenUnits, w.opts.TokenDecimals),
		RewardAmount:  units.FromUnits(a.rewardUnits, w.opts.TokenDecimals),
		PriceUSD:      units.FromUnits(a.priceUnits, units.USDDecimals),
		PriceID:       priceID,
		BlockNumber:   block,
		SettledAt:     time.Now().UTC(),
	}

	deferred, err := w.settler.Settle(ctx, s)
	if err != nil {
		// On-chain purchase is final; only the off-chain record is
		// missing and even the outbox could not take it.
		return w.fail(newError(CodePersistFailed, StatePersisting,
			"purchase confirmed on chain but the record could not be stored", err))
	}

	w.transition(StateDone)
	w.mu.Lock()
	w.res.PersistDeferred = deferred
	r := w.res
	w.mu.Unlock()

	w.log.Infof("Purchase settled: hash=%s wallet=%s usd=%s deferred=%v",
		s.Hash, s.WalletAddress, s.AmountUSD, deferred)
	return r, nil
}
