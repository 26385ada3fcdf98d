package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TxType string

const (
	TxBuy  TxType = "BUY"
	TxSell TxType = "SELL"
)

type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxCompleted TxStatus = "COMPLETED"
)

type Currency string

const (
	CurrencyUSDT Currency = "USDT"
	CurrencyUSDC Currency = "USDC"
	CurrencyETH  Currency = "ETH"
)

// Off-chain record of a confirmed sale purchase. Append-only; hash is the
// idempotency key and carries a store-level unique index.
type Transaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Type          TxType          `gorm:"type:varchar(8);not null;index" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(30,6);not null" json:"amount"`
	Price         decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"price"`
	Currency      Currency        `gorm:"type:varchar(8);not null" json:"currency"`
	Status        TxStatus        `gorm:"type:varchar(12);not null;index" json:"status"`
	Date          time.Time       `gorm:"not null" json:"date"`
	Hash          string          `gorm:"type:varchar(80);uniqueIndex;not null" json:"hash"`
	WalletAddress string          `gorm:"type:varchar(64);not null;index" json:"walletAddress"`
	PriceID       *int64          `gorm:"index" json:"priceId,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"createdAt"`
}

func (Transaction) TableName() string { return "transactions" }

// Audit trail of admin price changes; the active price for a token is the
// most recently created row. Immutable once created.
type Price struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Token      string          `gorm:"type:varchar(16);not null;index" json:"token"`
	Price      decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"price"`
	ValidUntil time.Time       `gorm:"not null" json:"validUntil"`
	Reason     string          `gorm:"type:varchar(256)" json:"reason,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (Price) TableName() string { return "prices" }

type TimerType string

const (
	TimerICO     TimerType = "ICO"
	TimerStaking TimerType = "STAKING"
	TimerGeneral TimerType = "GENERAL"
)

// Countdown timer. At most one row exists: Slot always holds
// TimerSingletonSlot and carries a unique index, so concurrent creates
// collapse into a uniqueness violation instead of racing a count query.
type Timer struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Slot        int       `gorm:"uniqueIndex;not null" json:"-"`
	Name        string    `gorm:"type:varchar(64);not null" json:"name"`
	Description string    `gorm:"type:varchar(256)" json:"description,omitempty"`
	StartTime   time.Time `gorm:"not null" json:"startTime"`
	EndTime     time.Time `gorm:"not null" json:"endTime"`
	IsActive    bool      `gorm:"not null;default:false" json:"isActive"`
	Type        TimerType `gorm:"type:varchar(12);not null" json:"type"`
	Metadata    string    `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Timer) TableName() string { return "timers" }

const TimerSingletonSlot = 1

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxDone    OutboxStatus = "DONE"
	OutboxDead    OutboxStatus = "DEAD"
)

// Durable retry queue entry for a settlement whose off-chain write failed
// after the on-chain purchase was already final.
type OutboxEntry struct {
	ID          int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	Hash        string       `gorm:"type:varchar(80);uniqueIndex;not null" json:"hash"`
	Payload     []byte       `gorm:"type:bytea;not null" json:"-"`
	Status      OutboxStatus `gorm:"type:varchar(12);not null;index:idx_outbox_due" json:"status"`
	Attempts    int          `gorm:"not null;default:0" json:"attempts"`
	NextAttempt time.Time    `gorm:"not null;index:idx_outbox_due" json:"nextAttempt"`
	LastError   string       `gorm:"type:varchar(512)" json:"lastError,omitempty"`
	CreatedAt   time.Time    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time    `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (OutboxEntry) TableName() string { return "settlement_outbox" }

// Everything the settlement pipeline needs to persist and publish one
// confirmed purchase.
type Settlement struct {
	Hash          string          `json:"hash"`
	WalletAddress string          `json:"wallet_address"`
	Currency      Currency        `json:"currency"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	RewardAmount  decimal.Decimal `json:"reward_amount"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	PriceID       *int64          `json:"price_id,omitempty"`
	BlockNumber   uint64          `json:"block_number"`
	SettledAt     time.Time       `json:"settled_at"`
}

// One slot of the staking release schedule as read from chain. Times are
// unix seconds; Price is 1e6-scaled USD; RewardPercent is a whole percent.
type ReleaseSlot struct {
	Index         int             `json:"index"`
	Time          int64           `json:"time"`
	Price         decimal.Decimal `json:"price"`
	RewardPercent int64           `json:"rewardPercent"`
	Locked        bool            `json:"locked"` // slot time already in the past
}

// On-chain admin registry view.
type AdminSet struct {
	SuperAdmin string   `json:"superAdmin"`
	Admins     []string `json:"admins"`
}

// ICO parameters read from the sale contract.
type SaleParams struct {
	PriceUSD      decimal.Decimal `json:"priceUsd"`
	RewardPercent int64           `json:"rewardPercent"`
	Paused        bool            `json:"paused"`
}
