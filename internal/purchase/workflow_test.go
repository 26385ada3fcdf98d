package purchase

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/domain"
)

// --- helpers ---

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

const testWallet = "0x1111111111111111111111111111111111111111"

func testOpts() Opts {
	return Opts{
		MinUSD:        decimal.NewFromInt(100),
		MaxUSD:        decimal.NewFromInt(100000),
		ApproveDelay:  time.Millisecond,
		TokenSymbol:   "NEFE",
		TokenDecimals: 6,
	}
}

// fakeBackend scripts the chain surface and records the call order.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	paused       bool
	price        *big.Int
	percent      *big.Int
	balance      *big.Int
	allowance    *big.Int
	verifyErr    error
	approveErr   error
	buyErr       error
	confirmErr   map[string]error
	approveCount int
	buyCount     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		price:      big.NewInt(7000),            // 0.007 USD
		percent:    big.NewInt(3),
		balance:    big.NewInt(1_000_000_000_000),
		allowance:  big.NewInt(0),
		confirmErr: map[string]error{},
	}
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeBackend) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeBackend) VerifyChainID(ctx context.Context) error {
	f.record("verify")
	return f.verifyErr
}

func (f *fakeBackend) SalePaused(ctx context.Context) (bool, error) {
	f.record("paused")
	return f.paused, nil
}

func (f *fakeBackend) TokenPrice(ctx context.Context) (*big.Int, error) {
	f.record("price")
	return f.price, nil
}

func (f *fakeBackend) RewardPercent(ctx context.Context) (*big.Int, error) {
	f.record("percent")
	return f.percent, nil
}

func (f *fakeBackend) StableBalance(ctx context.Context, cur domain.Currency) (*big.Int, error) {
	f.record("balance")
	return f.balance, nil
}

func (f *fakeBackend) StableAllowance(ctx context.Context, cur domain.Currency) (*big.Int, error) {
	f.record("allowance")
	return f.allowance, nil
}

func (f *fakeBackend) Approve(ctx context.Context, cur domain.Currency, amount *big.Int) (string, error) {
	f.record("approve")
	f.mu.Lock()
	f.approveCount++
	f.mu.Unlock()
	if f.approveErr != nil {
		return "", f.approveErr
	}
	return "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", nil
}

func (f *fakeBackend) Buy(ctx context.Context, cur domain.Currency, amount *big.Int) (string, error) {
	f.record("buy")
	f.mu.Lock()
	f.buyCount++
	f.mu.Unlock()
	if f.buyErr != nil {
		return "", f.buyErr
	}
	return "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", nil
}

func (f *fakeBackend) WaitConfirmed(ctx context.Context, txHash string) (uint64, error) {
	f.record("confirm:" + txHash[:4])
	if err := f.confirmErr[txHash]; err != nil {
		return 0, err
	}
	return 42, nil
}

type fakeSettler struct {
	mu       sync.Mutex
	settled  []*domain.Settlement
	deferred bool
	err      error
}

func (s *fakeSettler) Settle(ctx context.Context, rec *domain.Settlement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.settled = append(s.settled, rec)
	return s.deferred, nil
}

// --- tests ---

func TestWorkflow_HappyPath(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	st := &fakeSettler{}
	w := New(newTestLogger(), be, st, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyUSDT,
		WalletAddress: testWallet,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []State{
		StateIdle, StateValidating, StateApproving, StatePurchasing, StatePersisting, StateDone,
	}, res.Trace)
	assert.False(t, res.PersistDeferred)

	// 100 USD at 0.007 with 3% reward: floor semantics from the unit math.
	assert.Equal(t, "14285.714285", res.TokenAmount.String())
	assert.Equal(t, "428.571428", res.RewardAmount.String())
	assert.Equal(t, "14714.285713", res.TotalAmount.String())

	require.Len(t, st.settled, 1)
	rec := st.settled[0]
	assert.Equal(t, testWallet, rec.WalletAddress)
	assert.Equal(t, domain.CurrencyUSDT, rec.Currency)
	assert.Equal(t, uint64(42), rec.BlockNumber)
	assert.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", rec.Hash)
}

// The buy must not be submitted before the approval is confirmed.
func TestWorkflow_ApproveConfirmedBeforeBuy(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	w := New(newTestLogger(), be, &fakeSettler{}, nil, testOpts())

	_, err := w.Run(context.Background(), &Request{
		USDAmount:     "500",
		Currency:      domain.CurrencyUSDC,
		WalletAddress: testWallet,
	})
	require.NoError(t, err)

	order := be.callOrder()
	idxConfirmApprove, idxBuy := -1, -1
	for i, c := range order {
		switch c {
		case "confirm:0xaa":
			idxConfirmApprove = i
		case "buy":
			idxBuy = i
		}
	}
	require.NotEqual(t, -1, idxConfirmApprove)
	require.NotEqual(t, -1, idxBuy)
	assert.Less(t, idxConfirmApprove, idxBuy, "buy submitted before approval confirmed")
}

// A duplicated approval-confirmation signal must not submit a second buy.
func TestWorkflow_DuplicateConfirmSignalBuysOnce(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	st := &fakeSettler{}
	w := New(newTestLogger(), be, st, nil, testOpts())

	req := &Request{USDAmount: "100", Currency: domain.CurrencyUSDT, WalletAddress: testWallet}
	a, verr := w.validate(context.Background(), req)
	require.Nil(t, verr)

	var wg sync.WaitGroup
	submitted := make([]bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok := w.onApprovalConfirmed(context.Background(), req, a)
			submitted[i] = ok
		}(i)
	}
	wg.Wait()

	n := 0
	for _, ok := range submitted {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n, "exactly one signal may queue the purchase")
	assert.Equal(t, 1, be.buyCount)
	assert.Len(t, st.settled, 1)
}

func TestWorkflow_AmountOutOfRange(t *testing.T) {
	t.Parallel()

	for _, amount := range []string{"99.999999", "0", "100001", "-5", "abc"} {
		amount := amount
		t.Run(amount, func(t *testing.T) {
			t.Parallel()

			be := newFakeBackend()
			w := New(newTestLogger(), be, &fakeSettler{}, nil, testOpts())

			res, err := w.Run(context.Background(), &Request{
				USDAmount:     amount,
				Currency:      domain.CurrencyUSDT,
				WalletAddress: testWallet,
			})
			require.Error(t, err)
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, CodeInvalidAmount, res.Err.Code)

			// Rejected before any wallet interaction.
			assert.Zero(t, be.approveCount)
			assert.Zero(t, be.buyCount)
		})
	}
}

func TestWorkflow_BoundaryAmountsAccepted(t *testing.T) {
	t.Parallel()

	for _, amount := range []string{"100", "100000"} {
		amount := amount
		t.Run(amount, func(t *testing.T) {
			t.Parallel()

			be := newFakeBackend()
			w := New(newTestLogger(), be, &fakeSettler{}, nil, testOpts())

			res, err := w.Run(context.Background(), &Request{
				USDAmount:     amount,
				Currency:      domain.CurrencyUSDT,
				WalletAddress: testWallet,
			})
			require.NoError(t, err)
			assert.Equal(t, StateDone, res.State)
		})
	}
}

func TestWorkflow_RejectsUnsupportedCurrency(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	w := New(newTestLogger(), be, &fakeSettler{}, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyETH,
		WalletAddress: testWallet,
	})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidAmount, res.Err.Code)
	assert.Zero(t, be.approveCount)
}

func TestWorkflow_SalePausedAborts(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	be.paused = true
	w := New(newTestLogger(), be, &fakeSettler{}, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyUSDT,
		WalletAddress: testWallet,
	})
	require.Error(t, err)
	assert.Equal(t, CodeSalePaused, res.Err.Code)
	assert.Zero(t, be.approveCount)
}

func TestWorkflow_WrongNetworkAborts(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	be.verifyErr = errors.New("node chain id 1 does not match configured 56")
	w := New(newTestLogger(), be, &fakeSettler{}, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyUSDT,
		WalletAddress: testWallet,
	})
	require.Error(t, err)
	assert.Equal(t, CodeWrongNetwork, res.Err.Code)
	assert.Equal(t, StateValidating, res.Err.Step)
}

func TestWorkflow_InsufficientBalanceBeforeApprove(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	be.balance = big.NewInt(50_000_000) // 50 USD in 1e6 units
	w := New(newTestLogger(), be, &fakeSettler{}, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyUSDT,
		WalletAddress: testWallet,
	})
	require.Error(t, err)
	assert.Equal(t, CodeInsufficientFunds, res.Err.Code)
	assert.Zero(t, be.approveCount, "no approval may be submitted without funds")
	assert.Zero(t, be.buyCount)
}

func TestWorkflow_SkipsApproveWhenAllowanceCovers(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	be.allowance = big.NewInt(1_000_000_000) // 1000 USD standing allowance
	w := New(newTestLogger(), be, &fakeSettler{}, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyUSDT,
		WalletAddress: testWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Zero(t, be.approveCount)
	assert.Empty(t, res.ApprovalHash)
	assert.Equal(t, 1, be.buyCount)
}

func TestWorkflow_PurchaseFailureAfterApproval(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	be.buyErr = errors.New("execution reverted")
	st := &fakeSettler{}
	w := New(newTestLogger(), be, st, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyUSDT,
		WalletAddress: testWallet,
	})
	require.Error(t, err)
	assert.Equal(t, CodePurchaseFailed, res.Err.Code)
	assert.Equal(t, StatePurchasing, res.Err.Step)
	assert.Equal(t, 1, be.approveCount, "approval already went through")
	assert.Empty(t, st.settled, "nothing may be persisted for a failed purchase")
	assert.NotEmpty(t, res.ApprovalHash)
	assert.Empty(t, res.PurchaseHash)
}

func TestWorkflow_PersistDeferredToOutbox(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	st := &fakeSettler{deferred: true}
	w := New(newTestLogger(), be, st, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyUSDT,
		WalletAddress: testWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.PersistDeferred)
}

func TestWorkflow_PersistFailure(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	st := &fakeSettler{err: errors.New("postgres down and outbox full")}
	w := New(newTestLogger(), be, st, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyUSDT,
		WalletAddress: testWallet,
	})
	require.Error(t, err)
	assert.Equal(t, CodePersistFailed, res.Err.Code)
	assert.Equal(t, StatePersisting, res.Err.Step)
	// The on-chain purchase is final either way.
	assert.Equal(t, 1, be.buyCount)
}

func TestWorkflow_RateLimitedApprove(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	be.approveErr = errors.New("Your app has exceeded its compute units; circuit breaker is open")
	w := New(newTestLogger(), be, &fakeSettler{}, nil, testOpts())

	res, err := w.Run(context.Background(), &Request{
		USDAmount:     "100",
		Currency:      domain.CurrencyUSDT,
		WalletAddress: testWallet,
	})
	require.Error(t, err)
	assert.Equal(t, CodeWalletRateLimited, res.Err.Code)
	assert.NotEmpty(t, res.Err.Hints)
}
