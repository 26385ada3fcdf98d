package purchase

import (
	"errors"
	"fmt"
	"strings"
)

type Code string

const (
	CodeInvalidAmount     Code = "invalid_amount"
	CodeWrongNetwork      Code = "wrong_network"
	CodeSalePaused        Code = "sale_paused"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeApprovalFailed    Code = "approval_failed"
	CodePurchaseFailed    Code = "purchase_failed"
	CodePersistFailed     Code = "persist_failed"
	CodeWalletRateLimited Code = "wallet_rate_limited"
)

// Error is the classified outcome of a failed workflow step.
type Error struct {
	Code    Code     `json:"code"`
	Step    State    `json:"step"`
	Message string   `json:"message"`
	Hints   []string `json:"hints,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s at %s: %v", e.Code, e.Step, e.cause)
	}
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Step, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(code Code, step State, msg string, cause error) *Error {
	e := &Error{Code: code, Step: step, Message: msg, cause: cause}
	if code == CodeWalletRateLimited {
		e.Hints = rateLimitHints
	}
	return e
}

// Guided remediation for the wallet-side rate limiter.
var rateLimitHints = []string{
	"verify the node is on the expected network",
	"wait 30-60 seconds and retry the purchase",
	"restart the wallet extension or RPC session",
	"check the configured gas fee settings",
}

// Structured code reported by wallet providers when their internal limiter
// trips. Matches go-ethereum's rpc.Error.
const rpcCodeLimitExceeded = -32005

type rpcError interface {
	ErrorCode() int
}

// classifyChainErr upgrades a raw chain error to the rate-limited code when
// the provider's limiter is recognizable. Structured code first; matching on
// the error text is a best-effort fallback only.
func classifyChainErr(err error, fallback Code, step State) *Error {
	if err == nil {
		return nil
	}

	var re rpcError
	if errors.As(err, &re) && re.ErrorCode() == rpcCodeLimitExceeded {
		return newError(CodeWalletRateLimited, step, "wallet provider rate limit hit", err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "circuit breaker") {
		return newError(CodeWalletRateLimited, step, "wallet provider circuit breaker open", err)
	}

	return newError(fallback, step, err.Error(), err)
}
