package stats

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/domain"
)

const bucketsPerDay = 1440 // minute slots, 24h ring

// Delta for one minute slot in the ring buffer; incremental window update O(1)
type deltaAgg struct {
	volUSD    float64
	tokens    float64
	purchases int64
	deferred  int64
}

// Aggregate over a sliding period (5m/1h/24h)
type agg struct {
	VolUSD    float64 `json:"vol_usd"`
	Tokens    float64 `json:"tokens"`
	Purchases int64   `json:"purchases"`
	Deferred  int64   `json:"deferred"`
}

func (a *agg) add(d *deltaAgg) {
	a.VolUSD += d.volUSD
	a.Tokens += d.tokens
	a.Purchases += d.purchases
	a.Deferred += d.deferred
}

func (a *agg) sub(d *deltaAgg) {
	a.VolUSD -= d.volUSD
	a.Tokens -= d.tokens
	a.Purchases -= d.purchases
	a.Deferred -= d.deferred
}

// Windows is the live view of purchase volume over the sliding periods.
type Windows struct {
	W5m  agg `json:"w5m"`
	W1h  agg `json:"w1h"`
	W24h agg `json:"w24h"`

	ByCurrency map[domain.Currency]int64 `json:"byCurrency"`
}

// Tracker keeps live purchase statistics: a 1440-slot minute ring plus
// incremental 5m/1h/24h sums. One token sale, so a single global state.
type Tracker struct {
	log logger.Logger

	mu    sync.RWMutex
	slots []deltaAgg
	w5m   agg
	w1h   agg
	w24h  agg

	byCurrency map[domain.Currency]int64

	lastUpdated time.Time
	nowFn       func() time.Time
}

func NewTracker(log logger.Logger) *Tracker {
	return &Tracker{
		log:        log,
		slots:      make([]deltaAgg, bucketsPerDay),
		byCurrency: make(map[domain.Currency]int64, 3),
		nowFn:      time.Now,
	}
}

// Record folds one settled purchase into the windows. Implements the
// settlement pipeline's event sink.
func (t *Tracker) Record(s *domain.Settlement, deferred bool) {
	usd, _ := s.AmountUSD.Float64()
	tokens, _ := s.TokenAmount.Add(s.RewardAmount).Float64()

	d := &deltaAgg{
		volUSD:    usd,
		tokens:    tokens,
		purchases: 1,
	}
	if deferred {
		d.deferred = 1
	}

	now := t.nowFn().UTC()
	idx := minuteIndex(now)

	t.mu.Lock()
	defer t.mu.Unlock()

	slot := &t.slots[idx]
	slot.volUSD += d.volUSD
	slot.tokens += d.tokens
	slot.purchases += d.purchases
	slot.deferred += d.deferred

	t.w24h.add(d)
	if t.isInWindow(idx, now, 60) {
		t.w1h.add(d)
	}
	if t.isInWindow(idx, now, 5) {
		t.w5m.add(d)
	}

	t.byCurrency[s.Currency]++
	t.lastUpdated = now
}

// Tick expires the slot that just fell out of the 24h ring and shrinks the
// shorter windows. Call once per minute.
func (t *Tracker) Tick(now time.Time) {
	now = now.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	// slot that re-enters use in one minute must be evicted from all sums
	expiring := (minuteIndex(now) + 1) % bucketsPerDay
	slot := &t.slots[expiring]
	if slot.purchases != 0 || slot.volUSD != 0 {
		t.w24h.sub(slot)
		*slot = deltaAgg{}
	}

	t.recomputeShortWindows(now)
}

// Overview returns a copy of the current windows.
func (t *Tracker) Overview() Windows {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byCur := make(map[domain.Currency]int64, len(t.byCurrency))
	for k, v := range t.byCurrency {
		byCur[k] = v
	}

	return Windows{
		W5m:        t.w5m,
		W1h:        t.w1h,
		W24h:       t.w24h,
		ByCurrency: byCur,
	}
}

// AveragePrice reports 24h USD volume divided by tokens sold, zero when the
// window is empty.
func (t *Tracker) AveragePrice() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.w24h.Tokens == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(t.w24h.VolUSD / t.w24h.Tokens)
}

func (t *Tracker) isInWindow(slotIdx int, now time.Time, windowMinutes int) bool {
	nowMinute := minuteIndex(now)
	dist := (nowMinute - slotIdx + bucketsPerDay) % bucketsPerDay
	return dist < windowMinutes
}

func (t *Tracker) recomputeShortWindows(now time.Time) {
	t.w5m = agg{}
	t.w1h = agg{}

	nowMinute := minuteIndex(now)

	for i := 0; i < bucketsPerDay; i++ {
		slot := &t.slots[i]
		if slot.purchases == 0 && slot.volUSD == 0 {
			continue
		}

		dist := (nowMinute - i + bucketsPerDay) % bucketsPerDay
		if dist < 60 {
			t.w1h.add(slot)
		}
		if dist < 5 {
			t.w5m.add(slot)
		}
	}
}

func minuteIndex(t time.Time) int {
	t = t.UTC()
	return (t.Hour()*60 + t.Minute()) % bucketsPerDay
}
